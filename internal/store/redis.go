package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/score-verifier/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and then refresh or invalidate the
// cache; reads check Redis first then fall back to the primary.
//
// Leaderboard counts and the compare-and-swap are never served from cache.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, then cache) ---

func (s *CachedStore) CreateSeason(ctx context.Context, season *model.Season) error {
	if err := s.primary.CreateSeason(ctx, season); err != nil {
		return err
	}
	s.cache(ctx, seasonKey(season.ID), season)
	return nil
}

func (s *CachedStore) PutSeedRecord(ctx context.Context, rec *model.SeedRecord) error {
	if err := s.primary.PutSeedRecord(ctx, rec); err != nil {
		return err
	}
	s.cache(ctx, seedKeyFor(rec.SeasonID, rec.UserID), rec)
	return nil
}

func (s *CachedStore) CommitBest(ctx context.Context, entry *model.LeaderboardEntry) (bool, *model.LeaderboardEntry, error) {
	improved, best, err := s.primary.CommitBest(ctx, entry)
	if err != nil {
		return false, nil, err
	}
	if improved {
		s.rdb.Del(ctx, entryKey(entry.SeasonID, entry.UserID))
	}
	return improved, best, nil
}

func (s *CachedStore) PutSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if err := s.primary.PutSnapshot(ctx, snap); err != nil {
		return err
	}
	s.cache(ctx, snapshotKey(snap.SeasonID), snap)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSeason(ctx context.Context, id string) (*model.Season, error) {
	var season model.Season
	if s.lookup(ctx, seasonKey(id), &season) {
		return &season, nil
	}
	got, err := s.primary.GetSeason(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, seasonKey(id), got)
	return got, nil
}

func (s *CachedStore) GetSeedRecord(ctx context.Context, seasonID, userID string) (*model.SeedRecord, error) {
	var rec model.SeedRecord
	if s.lookup(ctx, seedKeyFor(seasonID, userID), &rec) {
		return &rec, nil
	}
	got, err := s.primary.GetSeedRecord(ctx, seasonID, userID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, seedKeyFor(seasonID, userID), got)
	return got, nil
}

func (s *CachedStore) GetEntry(ctx context.Context, seasonID, userID string) (*model.LeaderboardEntry, error) {
	var e model.LeaderboardEntry
	if s.lookup(ctx, entryKey(seasonID, userID), &e) {
		return &e, nil
	}
	got, err := s.primary.GetEntry(ctx, seasonID, userID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, entryKey(seasonID, userID), got)
	return got, nil
}

func (s *CachedStore) GetSnapshot(ctx context.Context, seasonID string) (*model.Snapshot, error) {
	var snap model.Snapshot
	if s.lookup(ctx, snapshotKey(seasonID), &snap) {
		return &snap, nil
	}
	got, err := s.primary.GetSnapshot(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, snapshotKey(seasonID), got)
	return got, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListActiveSeasons(ctx context.Context, now time.Time) ([]model.Season, error) {
	return s.primary.ListActiveSeasons(ctx, now)
}

func (s *CachedStore) CountHigher(ctx context.Context, seasonID string, score decimal.Decimal) (int64, error) {
	return s.primary.CountHigher(ctx, seasonID, score)
}

func (s *CachedStore) CountEntries(ctx context.Context, seasonID string) (int64, error) {
	return s.primary.CountEntries(ctx, seasonID)
}

func (s *CachedStore) TopEntries(ctx context.Context, seasonID string, limit int) ([]model.LeaderboardEntry, error) {
	return s.primary.TopEntries(ctx, seasonID, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) lookup(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func seasonKey(id string) string           { return fmt.Sprintf("season:%s", id) }
func seedKeyFor(season, user string) string { return fmt.Sprintf("seed:%s:%s", season, user) }
func entryKey(season, user string) string  { return fmt.Sprintf("entry:%s:%s", season, user) }
func snapshotKey(season string) string     { return fmt.Sprintf("snapshot:%s", season) }
