package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/score-verifier/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Scores and money are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect opens a pool sized for concurrent submissions and verifies it.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// --- Seasons ---

func (s *PostgresStore) CreateSeason(ctx context.Context, season *model.Season) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO seasons (id, name, starts_at, ends_at) VALUES ($1, $2, $3, $4)`,
		season.ID, season.Name, season.StartsAt, season.EndsAt)
	return mapWriteErr(err)
}

func (s *PostgresStore) GetSeason(ctx context.Context, id string) (*model.Season, error) {
	var season model.Season
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, starts_at, ends_at FROM seasons WHERE id = $1`, id).
		Scan(&season.ID, &season.Name, &season.StartsAt, &season.EndsAt)
	if err != nil {
		return nil, fmt.Errorf("get season %s: %w", id, mapReadErr(err))
	}
	return &season, nil
}

func (s *PostgresStore) ListActiveSeasons(ctx context.Context, now time.Time) ([]model.Season, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, starts_at, ends_at FROM seasons
		 WHERE starts_at <= $1 AND ends_at > $1 ORDER BY id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seasons []model.Season
	for rows.Next() {
		var season model.Season
		if err := rows.Scan(&season.ID, &season.Name, &season.StartsAt, &season.EndsAt); err != nil {
			return nil, err
		}
		seasons = append(seasons, season)
	}
	return seasons, rows.Err()
}

// --- Seed records ---

func (s *PostgresStore) PutSeedRecord(ctx context.Context, rec *model.SeedRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO seed_records (season_id, user_id, seed, issued_at) VALUES ($1, $2, $3, $4)`,
		rec.SeasonID, rec.UserID, rec.Seed, rec.IssuedAt)
	return mapWriteErr(err)
}

func (s *PostgresStore) GetSeedRecord(ctx context.Context, seasonID, userID string) (*model.SeedRecord, error) {
	var rec model.SeedRecord
	err := s.pool.QueryRow(ctx,
		`SELECT season_id, user_id, seed, issued_at FROM seed_records
		 WHERE season_id = $1 AND user_id = $2`, seasonID, userID).
		Scan(&rec.SeasonID, &rec.UserID, &rec.Seed, &rec.IssuedAt)
	if err != nil {
		return nil, fmt.Errorf("get seed %s/%s: %w", seasonID, userID, mapReadErr(err))
	}
	return &rec, nil
}

// --- Leaderboard ---

const entryColumns = `season_id, user_id, score::TEXT, profit_rate::TEXT, portfolio_value::TEXT,
	win_rate::TEXT, total_trades, submission_id, updated_at`

// CommitBest runs the read-compare-write in one serializable transaction with
// the existing row locked. Serialization failures and concurrent first
// inserts surface as ErrConflict for the caller to retry.
func (s *PostgresStore) CommitBest(ctx context.Context, e *model.LeaderboardEntry) (bool, *model.LeaderboardEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return false, nil, fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := scanEntry(tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM leaderboard_entries
		 WHERE season_id = $1 AND user_id = $2 FOR UPDATE`, e.SeasonID, e.UserID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx,
			`INSERT INTO leaderboard_entries
			   (season_id, user_id, score, profit_rate, portfolio_value, win_rate, total_trades, submission_id, updated_at)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)`,
			e.SeasonID, e.UserID, e.Score.String(), e.ProfitRate.String(), e.PortfolioValue.String(),
			e.WinRate.String(), e.TotalTrades, e.SubmissionID, e.UpdatedAt)
	case err != nil:
		return false, nil, mapWriteErr(err)
	case !e.Score.GreaterThan(existing.Score):
		if err := tx.Commit(ctx); err != nil {
			return false, nil, mapWriteErr(err)
		}
		return false, existing, nil
	default:
		_, err = tx.Exec(ctx,
			`UPDATE leaderboard_entries
			 SET score = $3::NUMERIC, profit_rate = $4::NUMERIC, portfolio_value = $5::NUMERIC,
			     win_rate = $6::NUMERIC, total_trades = $7, submission_id = $8, updated_at = $9
			 WHERE season_id = $1 AND user_id = $2`,
			e.SeasonID, e.UserID, e.Score.String(), e.ProfitRate.String(), e.PortfolioValue.String(),
			e.WinRate.String(), e.TotalTrades, e.SubmissionID, e.UpdatedAt)
	}
	if err != nil {
		return false, nil, mapWriteErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, nil, mapWriteErr(err)
	}
	stored := *e
	return true, &stored, nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, seasonID, userID string) (*model.LeaderboardEntry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM leaderboard_entries WHERE season_id = $1 AND user_id = $2`,
		seasonID, userID))
	if err != nil {
		return nil, fmt.Errorf("get entry %s/%s: %w", seasonID, userID, mapReadErr(err))
	}
	return e, nil
}

func (s *PostgresStore) CountHigher(ctx context.Context, seasonID string, score decimal.Decimal) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM leaderboard_entries WHERE season_id = $1 AND score > $2::NUMERIC`,
		seasonID, score.String()).Scan(&n)
	return n, err
}

func (s *PostgresStore) CountEntries(ctx context.Context, seasonID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM leaderboard_entries WHERE season_id = $1`, seasonID).Scan(&n)
	return n, err
}

func (s *PostgresStore) TopEntries(ctx context.Context, seasonID string, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM leaderboard_entries
		 WHERE season_id = $1
		 ORDER BY score DESC, updated_at ASC, user_id ASC
		 LIMIT $2`, seasonID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// --- Snapshots ---

func (s *PostgresStore) PutSnapshot(ctx context.Context, snap *model.Snapshot) error {
	data, err := json.Marshal(snap.Entries)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO leaderboard_snapshots (season_id, entries, total_participants, updated_at)
		 VALUES ($1, $2::JSONB, $3, $4)
		 ON CONFLICT (season_id) DO UPDATE
		 SET entries = EXCLUDED.entries,
		     total_participants = EXCLUDED.total_participants,
		     updated_at = EXCLUDED.updated_at`,
		snap.SeasonID, string(data), snap.TotalParticipants, snap.UpdatedAt)
	return err
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, seasonID string) (*model.Snapshot, error) {
	var snap model.Snapshot
	var entries string
	err := s.pool.QueryRow(ctx,
		`SELECT season_id, entries::TEXT, total_participants, updated_at
		 FROM leaderboard_snapshots WHERE season_id = $1`, seasonID).
		Scan(&snap.SeasonID, &entries, &snap.TotalParticipants, &snap.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", seasonID, mapReadErr(err))
	}
	if err := json.Unmarshal([]byte(entries), &snap.Entries); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", seasonID, err)
	}
	return &snap, nil
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*model.LeaderboardEntry, error) {
	var e model.LeaderboardEntry
	var score, profit, value, winRate string
	if err := row.Scan(&e.SeasonID, &e.UserID, &score, &profit, &value,
		&winRate, &e.TotalTrades, &e.SubmissionID, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Score, _ = decimal.NewFromString(score)
	e.ProfitRate, _ = decimal.NewFromString(profit)
	e.PortfolioValue, _ = decimal.NewFromString(value)
	e.WinRate, _ = decimal.NewFromString(winRate)
	return &e, nil
}

func mapReadErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// mapWriteErr folds serialization failures (40001) and unique violations
// (23505) into ErrConflict.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "23505") {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	}
	return err
}
