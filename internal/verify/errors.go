package verify

import (
	"errors"
	"fmt"

	"github.com/atmx/score-verifier/internal/model"
)

// Code is a verification error classification. Codes are part of the wire
// contract.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeVersionUnsupported Code = "VERSION_UNSUPPORTED"
	CodeSeasonNotFound     Code = "SEASON_NOT_FOUND"
	CodeSeasonEnded        Code = "SEASON_ENDED"
	CodeIntegrityRejected  Code = "INTEGRITY_REJECTED"
	CodeReplayMismatch     Code = "REPLAY_MISMATCH"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// Retryable reports whether a caller may resubmit after this code.
func (c Code) Retryable() bool {
	return c == CodeRateLimited || c == CodeInternal
}

// Error is a classified verification failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the submission may be retried unchanged.
func (e *Error) Retryable() bool { return e.Code.Retryable() }

func newError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the classification of err; unclassified errors are
// internal.
func CodeOf(err error) Code {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code
	}
	return CodeInternal
}

// Failure builds the response body for a failed verification. Internal
// details are not exposed.
func Failure(err error) model.VerificationResponse {
	var ve *Error
	if !errors.As(err, &ve) {
		ve = newError(CodeInternal, "internal error", err)
	}
	msg := ve.Message
	if ve.Code == CodeInternal {
		msg = "internal error, please retry"
	}
	return model.VerificationResponse{
		Success:   false,
		ErrorCode: string(ve.Code),
		Message:   msg,
		Retryable: ve.Retryable(),
	}
}
