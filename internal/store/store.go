// Package store defines the trusted persistence interface for seasons, seed
// records, leaderboard entries and snapshots. Implementations include
// PostgreSQL (source of truth), Redis (read-through cache), and in-memory
// (for testing and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/score-verifier/internal/model"
)

var (
	// ErrNotFound is returned when a season, seed record, entry or
	// snapshot does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a transactional write lost a race and
	// may be retried.
	ErrConflict = errors.New("store: write conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Seasons ---

	// CreateSeason persists a new season.
	CreateSeason(ctx context.Context, season *model.Season) error

	// GetSeason retrieves a season by id.
	GetSeason(ctx context.Context, id string) (*model.Season, error)

	// ListActiveSeasons returns seasons running at now.
	ListActiveSeasons(ctx context.Context, now time.Time) ([]model.Season, error)

	// --- Seed records ---

	// PutSeedRecord stores a seed for (season, user). Seeds are issued once;
	// a second put returns ErrConflict.
	PutSeedRecord(ctx context.Context, rec *model.SeedRecord) error

	// GetSeedRecord retrieves the trusted seed for (season, user).
	GetSeedRecord(ctx context.Context, seasonID, userID string) (*model.SeedRecord, error)

	// --- Leaderboard ---

	// CommitBest atomically writes entry if no entry exists for its
	// (season, user) or entry.Score is strictly higher. It returns whether
	// the write happened and the stored best afterwards.
	CommitBest(ctx context.Context, entry *model.LeaderboardEntry) (bool, *model.LeaderboardEntry, error)

	// GetEntry retrieves the best entry for (season, user).
	GetEntry(ctx context.Context, seasonID, userID string) (*model.LeaderboardEntry, error)

	// CountHigher counts entries in a season with a strictly higher score.
	CountHigher(ctx context.Context, seasonID string, score decimal.Decimal) (int64, error)

	// CountEntries counts all entries in a season.
	CountEntries(ctx context.Context, seasonID string) (int64, error)

	// TopEntries returns up to limit entries by score descending, earliest
	// update first among ties.
	TopEntries(ctx context.Context, seasonID string, limit int) ([]model.LeaderboardEntry, error)

	// --- Snapshots ---

	// PutSnapshot overwrites the season's materialized snapshot.
	PutSnapshot(ctx context.Context, snap *model.Snapshot) error

	// GetSnapshot retrieves the season's latest snapshot.
	GetSnapshot(ctx context.Context, seasonID string) (*model.Snapshot, error)
}
