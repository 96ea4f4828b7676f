package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/atmx/score-verifier/internal/model"
)

func entry(user string, score int64, at time.Time) *model.LeaderboardEntry {
	return &model.LeaderboardEntry{
		SeasonID:  "s1",
		UserID:    user,
		Score:     decimal.NewFromInt(score),
		UpdatedAt: at,
	}
}

func TestMemoryStore_CommitBestKeepsHighest(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	now := time.Now()

	improved, best, err := ms.CommitBest(ctx, entry("u1", 100, now))
	if err != nil || !improved || !best.Score.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("first commit: improved=%v best=%+v err=%v", improved, best, err)
	}
	improved, best, err = ms.CommitBest(ctx, entry("u1", 90, now))
	if err != nil || improved {
		t.Fatalf("lower score should not improve: improved=%v err=%v", improved, err)
	}
	if !best.Score.Equal(decimal.NewFromInt(100)) {
		t.Errorf("best should stay 100, got %s", best.Score)
	}
	improved, _, _ = ms.CommitBest(ctx, entry("u1", 100, now))
	if improved {
		t.Error("equal score should not improve")
	}
}

func TestMemoryStore_ScoreNeverDecreases(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		ms := NewMemoryStore()
		scores := rapid.SliceOfN(rapid.Int64Range(-10000, 10000), 1, 50).Draw(t, "scores")
		var high int64
		for i, sc := range scores {
			if _, _, err := ms.CommitBest(ctx, entry("u", sc, time.Unix(int64(i), 0))); err != nil {
				t.Fatal(err)
			}
			if i == 0 || sc > high {
				high = sc
			}
			got, err := ms.GetEntry(ctx, "s1", "u")
			if err != nil {
				t.Fatal(err)
			}
			if !got.Score.Equal(decimal.NewFromInt(high)) {
				t.Fatalf("after %d commits expected %d, got %s", i+1, high, got.Score)
			}
		}
	})
}

func TestMemoryStore_RankQueries(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	base := time.Unix(1000, 0)
	ms.CommitBest(ctx, entry("a", 50, base))
	ms.CommitBest(ctx, entry("b", 80, base.Add(time.Second)))
	ms.CommitBest(ctx, entry("c", 80, base))
	ms.CommitBest(ctx, entry("d", 10, base))

	n, _ := ms.CountHigher(ctx, "s1", decimal.NewFromInt(50))
	if n != 2 {
		t.Errorf("expected 2 higher than 50, got %d", n)
	}
	total, _ := ms.CountEntries(ctx, "s1")
	if total != 4 {
		t.Errorf("expected 4 entries, got %d", total)
	}

	top, _ := ms.TopEntries(ctx, "s1", 3)
	want := []string{"c", "b", "a"}
	if len(top) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(top))
	}
	for i, w := range want {
		if top[i].UserID != w {
			t.Errorf("position %d: expected %s, got %s", i, w, top[i].UserID)
		}
	}
}

func TestMemoryStore_SeedIssuedOnce(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	rec := &model.SeedRecord{SeasonID: "s1", UserID: "u1", Seed: "abc", IssuedAt: time.Now()}
	if err := ms.PutSeedRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := ms.PutSeedRecord(ctx, rec); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict on reissue, got %v", err)
	}
	if _, err := ms.GetSeedRecord(ctx, "s1", "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ActiveSeasons(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	now := time.Now()
	ms.CreateSeason(ctx, &model.Season{ID: "past", StartsAt: now.Add(-48 * time.Hour), EndsAt: now.Add(-time.Hour)})
	ms.CreateSeason(ctx, &model.Season{ID: "live", StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour)})
	ms.CreateSeason(ctx, &model.Season{ID: "future", StartsAt: now.Add(time.Hour), EndsAt: now.Add(48 * time.Hour)})

	active, _ := ms.ListActiveSeasons(ctx, now)
	if len(active) != 1 || active[0].ID != "live" {
		t.Errorf("expected only live season, got %+v", active)
	}
}

// fakeRedis implements the handful of commands CachedStore issues.
type fakeRedis struct {
	redis.Cmdable
	data map[string][]byte
	hits int
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: make(map[string][]byte)} }

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	f.hits++
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.data[key] = value.([]byte)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestCachedStore_SeedReadThrough(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	rdb := newFakeRedis()
	cs := NewCachedStore(primary, rdb, time.Minute)

	primary.PutSeedRecord(ctx, &model.SeedRecord{SeasonID: "s1", UserID: "u1", Seed: "trusted"})

	got, err := cs.GetSeedRecord(ctx, "s1", "u1")
	if err != nil || got.Seed != "trusted" {
		t.Fatalf("miss path: got %+v err %v", got, err)
	}
	if rdb.hits != 0 {
		t.Errorf("first read should miss the cache")
	}
	got, err = cs.GetSeedRecord(ctx, "s1", "u1")
	if err != nil || got.Seed != "trusted" || rdb.hits != 1 {
		t.Errorf("second read should hit the cache: got %+v hits %d err %v", got, rdb.hits, err)
	}
}

func TestCachedStore_CommitInvalidatesEntry(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	rdb := newFakeRedis()
	cs := NewCachedStore(primary, rdb, time.Minute)

	cs.CommitBest(ctx, entry("u1", 10, time.Now()))
	cs.GetEntry(ctx, "s1", "u1")
	cs.CommitBest(ctx, entry("u1", 20, time.Now()))

	got, err := cs.GetEntry(ctx, "s1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Score.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected fresh score 20 after invalidation, got %s", got.Score)
	}
}

func TestCachedStore_SnapshotWriteThrough(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	cs := NewCachedStore(NewMemoryStore(), rdb, time.Minute)

	snap := &model.Snapshot{SeasonID: "s1", TotalParticipants: 3,
		Entries: []model.SnapshotEntry{{UserID: "a", Rank: 1}}}
	if err := cs.PutSnapshot(ctx, snap); err != nil {
		t.Fatal(err)
	}
	got, err := cs.GetSnapshot(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if rdb.hits != 1 || got.TotalParticipants != 3 || len(got.Entries) != 1 {
		t.Errorf("expected cached snapshot, got %+v hits=%d", got, rdb.hits)
	}
}
