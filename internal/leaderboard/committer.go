// Package leaderboard commits verified results under best-score-wins and
// materializes top-N snapshots for cheap reads.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/score-verifier/internal/metrics"
	"github.com/atmx/score-verifier/internal/model"
	"github.com/atmx/score-verifier/internal/store"
)

// ErrRetriesExhausted is returned when every commit attempt lost a write
// race. The caller may retry the whole submission.
var ErrRetriesExhausted = errors.New("leaderboard: commit retries exhausted")

// Result describes the outcome of a commit.
type Result struct {
	IsNewHighScore bool
	Rank           int64
	Best           model.LeaderboardEntry
}

// Committer performs the best-score-wins upsert with bounded retry.
type Committer struct {
	store       store.Store
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// Option configures a Committer.
type Option func(*Committer)

// WithRetry sets the attempt budget and the doubling backoff bounds.
func WithRetry(attempts int, base, max time.Duration) Option {
	return func(c *Committer) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		c.baseDelay = base
		c.maxDelay = max
	}
}

// WithLogger sets the committer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Committer) { c.logger = l }
}

// NewCommitter defaults to 8 attempts backing off from 75ms to 1.2s.
func NewCommitter(st store.Store, opts ...Option) *Committer {
	c := &Committer{
		store:       st,
		logger:      slog.Default(),
		maxAttempts: 8,
		baseDelay:   75 * time.Millisecond,
		maxDelay:    1200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit writes entry if it beats the stored best, then computes rank from
// the stored best. Rank is count(strictly higher) + 1.
func (c *Committer) Commit(ctx context.Context, entry *model.LeaderboardEntry) (Result, error) {
	delay := c.baseDelay
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		improved, best, err := c.store.CommitBest(ctx, entry)
		if err == nil {
			if improved {
				metrics.NewHighScores.Inc()
			}
			rank, err := c.Rank(ctx, entry.SeasonID, best.Score)
			if err != nil {
				return Result{}, fmt.Errorf("rank after commit: %w", err)
			}
			return Result{IsNewHighScore: improved, Rank: rank, Best: *best}, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return Result{}, err
		}

		metrics.CommitConflicts.Inc()
		c.logger.Warn("leaderboard commit conflict",
			"season_id", entry.SeasonID,
			"user_id", entry.UserID,
			"attempt", attempt+1,
		)
		if attempt == c.maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return Result{}, err
		}
		if delay < c.maxDelay {
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}
	}
	return Result{}, ErrRetriesExhausted
}

// Rank returns the 1-based rank a score holds in a season right now.
func (c *Committer) Rank(ctx context.Context, seasonID string, score decimal.Decimal) (int64, error) {
	higher, err := c.store.CountHigher(ctx, seasonID, score)
	if err != nil {
		return 0, err
	}
	return higher + 1, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
