package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
)

func printSuccess(w io.Writer, msg string) {
	fmt.Fprintln(w, success.Sprint(msg))
}

func printWarn(w io.Writer, msg string) {
	fmt.Fprintln(w, warn.Sprint(msg))
}

func printError(w io.Writer, msg string) {
	fmt.Fprintln(w, danger.Sprint(msg))
}

func printField(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "%s %v\n", accent.Sprintf("%-18s", label+":"), value)
}
