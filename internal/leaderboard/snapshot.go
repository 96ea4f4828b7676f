package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/score-verifier/internal/metrics"
	"github.com/atmx/score-verifier/internal/model"
	"github.com/atmx/score-verifier/internal/store"
)

// SnapshotJob materializes top-N views. Every run is a pure overwrite, so a
// delayed, skipped or repeated run never corrupts the entries it reads.
type SnapshotJob struct {
	store  store.Store
	topN   int
	now    func() time.Time
	logger *slog.Logger
}

// NewSnapshotJob creates a job writing the top topN entries per season.
func NewSnapshotJob(st store.Store, topN int, logger *slog.Logger) *SnapshotJob {
	if logger == nil {
		logger = slog.Default()
	}
	if topN <= 0 {
		topN = 100
	}
	return &SnapshotJob{store: st, topN: topN, now: time.Now, logger: logger}
}

// RunOnce rebuilds and stores the snapshot for one season.
func (j *SnapshotJob) RunOnce(ctx context.Context, seasonID string) (*model.Snapshot, error) {
	entries, err := j.store.TopEntries(ctx, seasonID, j.topN)
	if err != nil {
		return nil, fmt.Errorf("top entries %s: %w", seasonID, err)
	}
	total, err := j.store.CountEntries(ctx, seasonID)
	if err != nil {
		return nil, fmt.Errorf("count entries %s: %w", seasonID, err)
	}
	snap := BuildSnapshot(seasonID, entries, total, j.now().UTC())
	if err := j.store.PutSnapshot(ctx, &snap); err != nil {
		return nil, fmt.Errorf("put snapshot %s: %w", seasonID, err)
	}
	return &snap, nil
}

// RunActive snapshots every active season. A failing season is logged and
// skipped; the joined error reports all failures.
func (j *SnapshotJob) RunActive(ctx context.Context) error {
	seasons, err := j.store.ListActiveSeasons(ctx, j.now())
	if err != nil {
		metrics.SnapshotRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("list active seasons: %w", err)
	}
	var errs []error
	for _, s := range seasons {
		snap, err := j.RunOnce(ctx, s.ID)
		if err != nil {
			metrics.SnapshotRuns.WithLabelValues("error").Inc()
			j.logger.Error("snapshot failed", "season_id", s.ID, "err", err)
			errs = append(errs, err)
			continue
		}
		metrics.SnapshotRuns.WithLabelValues("ok").Inc()
		j.logger.Info("snapshot written",
			"season_id", s.ID,
			"entries", len(snap.Entries),
			"participants", snap.TotalParticipants,
		)
	}
	return errors.Join(errs...)
}

// Run snapshots active seasons every interval until ctx is done.
func (j *SnapshotJob) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	j.logger.Info("snapshot job started", "every", every.String(), "top_n", j.topN)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("snapshot job stopped")
			return nil
		case <-ticker.C:
			// Failures are already logged per season; the next tick retries.
			_ = j.RunActive(ctx)
		}
	}
}

// BuildSnapshot ranks entries, which must be sorted by score descending.
// Tied scores share a rank, matching count(strictly higher) + 1.
func BuildSnapshot(seasonID string, entries []model.LeaderboardEntry, total int64, now time.Time) model.Snapshot {
	out := make([]model.SnapshotEntry, len(entries))
	var rank int64
	for i, e := range entries {
		if i == 0 || !e.Score.Equal(entries[i-1].Score) {
			rank = int64(i) + 1
		}
		out[i] = model.SnapshotEntry{
			UserID:         e.UserID,
			Score:          e.Score,
			ProfitRate:     e.ProfitRate,
			PortfolioValue: e.PortfolioValue,
			WinRate:        e.WinRate,
			TotalTrades:    e.TotalTrades,
			Rank:           rank,
		}
	}
	return model.Snapshot{
		SeasonID:          seasonID,
		Entries:           out,
		TotalParticipants: total,
		UpdatedAt:         now,
	}
}
