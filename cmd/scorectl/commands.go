package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmx/score-verifier/internal/leaderboard"
	"github.com/atmx/score-verifier/internal/model"
	"github.com/atmx/score-verifier/internal/replay"
	"github.com/atmx/score-verifier/internal/store"
	"github.com/atmx/score-verifier/internal/verify"
	"github.com/atmx/score-verifier/internal/version"
)

func newEngineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engine",
		Short: "Print the engine version and logic hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			printField(out, "engine version", version.Engine)
			printField(out, "logic hash", replay.Default().LogicHash())
			return nil
		},
	}
}

func newReplayCmd() *cobra.Command {
	var seed, logPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a trade log offline and check its claims",
		Long: "Replays a trade log against a seed with the built-in engine. The log file holds\n" +
			"either a JSON array of trade actions or a full submission; for a submission the\n" +
			"claimed score and profit rate are checked against the replay.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := readTradeLog(cmd.InOrStdin(), logPath)
			if err != nil {
				return err
			}
			tl := sub.Bind("", seed)
			res, err := replay.Default().Replay(tl.Seed, tl.Actions)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printResult(out, res)

			if sub.EngineVersion == "" {
				return nil
			}
			if err := verify.CheckClaim(sub, res); err != nil {
				printError(out, "MISMATCH: "+err.Error())
				return errors.New("claims do not match the replay")
			}
			printSuccess(out, "MATCH: claims agree with the replay")
			return nil
		},
	}
	cmd.Flags().StringVar(&seed, "seed", "", "session seed")
	cmd.Flags().StringVar(&logPath, "log", "-", "trade log file, - for stdin")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full replay result as JSON")
	cmd.MarkFlagRequired("seed")
	return cmd
}

func newSeasonCmd(databaseURL *string) *cobra.Command {
	var id, name, starts, ends string

	cmd := &cobra.Command{
		Use:   "create-season",
		Short: "Create a season",
		RunE: func(cmd *cobra.Command, args []string) error {
			startsAt, err := time.Parse(time.RFC3339, starts)
			if err != nil {
				return fmt.Errorf("--starts: %w", err)
			}
			endsAt, err := time.Parse(time.RFC3339, ends)
			if err != nil {
				return fmt.Errorf("--ends: %w", err)
			}
			if !endsAt.After(startsAt) {
				return errors.New("--ends must be after --starts")
			}
			return withStore(cmd.Context(), *databaseURL, func(ctx context.Context, st store.Store) error {
				season := &model.Season{ID: id, Name: name, StartsAt: startsAt.UTC(), EndsAt: endsAt.UTC()}
				if err := st.CreateSeason(ctx, season); err != nil {
					return err
				}
				printSuccess(cmd.OutOrStdout(), fmt.Sprintf("Season %s created.", id))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "season id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&starts, "starts", "", "start time (RFC3339)")
	cmd.Flags().StringVar(&ends, "ends", "", "end time (RFC3339)")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("starts")
	cmd.MarkFlagRequired("ends")
	return cmd
}

func newIssueSeedCmd(databaseURL *string) *cobra.Command {
	var seasonID, userID string

	cmd := &cobra.Command{
		Use:   "issue-seed",
		Short: "Issue the trusted session seed for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := newSeed()
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), *databaseURL, func(ctx context.Context, st store.Store) error {
				if _, err := st.GetSeason(ctx, seasonID); err != nil {
					return fmt.Errorf("season %s: %w", seasonID, err)
				}
				rec := &model.SeedRecord{SeasonID: seasonID, UserID: userID, Seed: seed, IssuedAt: time.Now().UTC()}
				if err := st.PutSeedRecord(ctx, rec); err != nil {
					if errors.Is(err, store.ErrConflict) {
						printWarn(cmd.OutOrStdout(), "A seed was already issued for this user and season.")
					}
					return err
				}
				printField(cmd.OutOrStdout(), "seed", seed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&seasonID, "season", "", "season id")
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.MarkFlagRequired("season")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newSnapshotCmd(databaseURL *string) *cobra.Command {
	var seasonID string
	var topN int

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Materialize leaderboard snapshots now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), *databaseURL, func(ctx context.Context, st store.Store) error {
				job := leaderboard.NewSnapshotJob(st, topN, nil)
				if seasonID == "" {
					return job.RunActive(ctx)
				}
				snap, err := job.RunOnce(ctx, seasonID)
				if err != nil {
					return err
				}
				printSuccess(cmd.OutOrStdout(), fmt.Sprintf("Snapshot for %s: %d entries, %d participants.",
					seasonID, len(snap.Entries), snap.TotalParticipants))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&seasonID, "season", "", "season id (default: every active season)")
	cmd.Flags().IntVar(&topN, "top", 100, "entries per snapshot")
	return cmd
}

// --- Helpers ---

func withStore(ctx context.Context, databaseURL string, fn func(context.Context, store.Store) error) error {
	if databaseURL == "" {
		return errors.New("DATABASE_URL or --database-url is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, store.NewPostgresStore(pool))
}

// readTradeLog accepts a bare action array or a full submission.
func readTradeLog(stdin io.Reader, path string) (model.Submission, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return model.Submission{}, err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return model.Submission{}, err
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var actions []model.TradeAction
		if err := json.Unmarshal(trimmed, &actions); err != nil {
			return model.Submission{}, fmt.Errorf("parse trade log: %w", err)
		}
		return model.Submission{TradeLog: actions}, nil
	}
	return verify.DecodeSubmission(bytes.NewReader(trimmed))
}

func newSeed() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func printResult(w io.Writer, res model.ReplayResult) {
	printField(w, "final cash", res.FinalCash.StringFixed(2))
	printField(w, "portfolio value", res.PortfolioValue.StringFixed(2))
	printField(w, "profit rate", res.FinalProfitRate.String())
	printField(w, "score", res.Score.String())
	printField(w, "fees paid", res.FeesPaid.StringFixed(2))
	printField(w, "interest paid", res.InterestPaid.StringFixed(2))
	printField(w, "trades", res.TotalTrades)
	printField(w, "win rate", res.WinRate.String())
	printField(w, "ticks", res.TicksSimulated)
	printField(w, "draws", res.DrawCount)
	if n := len(res.RejectedActions); n > 0 {
		printWarn(w, fmt.Sprintf("%d action(s) rejected:", n))
		for _, rej := range res.RejectedActions {
			fmt.Fprintf(w, "  #%d tick %d %s %d x %d: %s\n",
				rej.Index, rej.Action.Tick, rej.Action.Type, rej.Action.Quantity, rej.Action.InstrumentID, rej.Reason)
		}
	}
}
