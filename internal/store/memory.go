package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/score-verifier/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	seasons   map[string]*model.Season
	seeds     map[seedKey]*model.SeedRecord
	entries   map[string]map[string]*model.LeaderboardEntry // season -> user
	snapshots map[string]*model.Snapshot
}

type seedKey struct{ season, user string }

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seasons:   make(map[string]*model.Season),
		seeds:     make(map[seedKey]*model.SeedRecord),
		entries:   make(map[string]map[string]*model.LeaderboardEntry),
		snapshots: make(map[string]*model.Snapshot),
	}
}

func (s *MemoryStore) CreateSeason(_ context.Context, season *model.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seasons[season.ID]; ok {
		return fmt.Errorf("season %s already exists: %w", season.ID, ErrConflict)
	}
	// Store a copy to avoid external mutation.
	copy := *season
	s.seasons[season.ID] = &copy
	return nil
}

func (s *MemoryStore) GetSeason(_ context.Context, id string) (*model.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	season, ok := s.seasons[id]
	if !ok {
		return nil, fmt.Errorf("season %s: %w", id, ErrNotFound)
	}
	copy := *season
	return &copy, nil
}

func (s *MemoryStore) ListActiveSeasons(_ context.Context, now time.Time) ([]model.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Season
	for _, season := range s.seasons {
		if !now.Before(season.StartsAt) && !season.Ended(now) {
			out = append(out, *season)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) PutSeedRecord(_ context.Context, rec *model.SeedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := seedKey{rec.SeasonID, rec.UserID}
	if _, ok := s.seeds[k]; ok {
		return fmt.Errorf("seed for %s/%s already issued: %w", rec.SeasonID, rec.UserID, ErrConflict)
	}
	copy := *rec
	s.seeds[k] = &copy
	return nil
}

func (s *MemoryStore) GetSeedRecord(_ context.Context, seasonID, userID string) (*model.SeedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.seeds[seedKey{seasonID, userID}]
	if !ok {
		return nil, fmt.Errorf("seed for %s/%s: %w", seasonID, userID, ErrNotFound)
	}
	copy := *rec
	return &copy, nil
}

func (s *MemoryStore) CommitBest(_ context.Context, entry *model.LeaderboardEntry) (bool, *model.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	season := s.entries[entry.SeasonID]
	if season == nil {
		season = make(map[string]*model.LeaderboardEntry)
		s.entries[entry.SeasonID] = season
	}
	if existing, ok := season[entry.UserID]; ok && !entry.Score.GreaterThan(existing.Score) {
		copy := *existing
		return false, &copy, nil
	}
	stored := *entry
	season[entry.UserID] = &stored
	copy := stored
	return true, &copy, nil
}

func (s *MemoryStore) GetEntry(_ context.Context, seasonID, userID string) (*model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[seasonID][userID]
	if !ok {
		return nil, fmt.Errorf("entry for %s/%s: %w", seasonID, userID, ErrNotFound)
	}
	copy := *e
	return &copy, nil
}

func (s *MemoryStore) CountHigher(_ context.Context, seasonID string, score decimal.Decimal) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.entries[seasonID] {
		if e.Score.GreaterThan(score) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountEntries(_ context.Context, seasonID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries[seasonID])), nil
}

func (s *MemoryStore) TopEntries(_ context.Context, seasonID string, limit int) ([]model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.LeaderboardEntry, 0, len(s.entries[seasonID]))
	for _, e := range s.entries[seasonID] {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Score.Cmp(out[j].Score); c != 0 {
			return c > 0
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) PutSnapshot(_ context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *snap
	copy.Entries = append([]model.SnapshotEntry(nil), snap.Entries...)
	s.snapshots[snap.SeasonID] = &copy
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, seasonID string) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[seasonID]
	if !ok {
		return nil, fmt.Errorf("snapshot for %s: %w", seasonID, ErrNotFound)
	}
	copy := *snap
	copy.Entries = append([]model.SnapshotEntry(nil), snap.Entries...)
	return &copy, nil
}
