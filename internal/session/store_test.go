package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/token"
)

type fakeDirectory struct {
	mu    sync.Mutex
	locs  map[string]*Location
	reads int
}

func (d *fakeDirectory) CourseLocation(_ context.Context, courseID string) (*Location, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	return d.locs[courseID], nil
}

// brokenCache fails every operation, standing in for an unreachable redis.
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("cache down")
}
func (brokenCache) SetWithTTL(context.Context, string, string, time.Duration) error {
	return errors.New("cache down")
}
func (brokenCache) SetIfAbsent(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("cache down")
}
func (brokenCache) Delete(context.Context, string) error { return errors.New("cache down") }

func newTestStore(dir *fakeDirectory) (*Store, *MemoryCache) {
	cache := NewMemoryCache()
	return NewStore(cache, dir, 4*time.Hour, time.Hour, token.NewSecret), cache
}

func TestGetOrCreateSecret_CreatesOnceAndReuses(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(&fakeDirectory{})
	key := NewKey("course-1", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	first, err := s.GetOrCreateSecret(ctx, key)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := s.GetOrCreateSecret(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetOrCreateSecret_ConcurrentCallersConverge(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(&fakeDirectory{})
	key := NewKey("course-1", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	const n = 32
	secrets := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			secrets[i], errs[i] = s.GetOrCreateSecret(ctx, key)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	for i := 1; i < n; i++ {
		assert.Equal(t, secrets[0], secrets[i], "caller %d observed a different secret", i)
	}
}

func TestGetSecret_MissMeansNoActiveSession(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(&fakeDirectory{})

	_, found, err := s.GetSecret(ctx, NewKey("course-1", time.Now()))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetSecret_ExpiredSecretIsGone(t *testing.T) {
	ctx := context.Background()
	dir := &fakeDirectory{}
	cache := NewMemoryCache()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	s := NewStore(cache, dir, 4*time.Hour, time.Hour, token.NewSecret)
	key := NewKey("course-1", now)

	_, err := s.GetOrCreateSecret(ctx, key)
	require.NoError(t, err)

	now = now.Add(4*time.Hour + time.Minute)
	_, found, err := s.GetSecret(ctx, key)
	require.NoError(t, err)
	assert.False(t, found, "secret should expire after its TTL")
}

func TestInvalidateSecret(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(&fakeDirectory{})
	key := NewKey("course-1", time.Now())

	_, err := s.GetOrCreateSecret(ctx, key)
	require.NoError(t, err)
	require.NoError(t, s.InvalidateSecret(ctx, key))

	_, found, err := s.GetSecret(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetOrCreateSecret_CacheFailureIsHard(t *testing.T) {
	s := NewStore(brokenCache{}, &fakeDirectory{}, 0, 0, token.NewSecret)
	_, err := s.GetOrCreateSecret(context.Background(), NewKey("course-1", time.Now()))
	assert.Error(t, err, "secrets have no durable fallback")
}

func TestGetLocation_ReadsThroughAndCaches(t *testing.T) {
	ctx := context.Background()
	dir := &fakeDirectory{locs: map[string]*Location{
		"course-1": {Lat: 37.5665, Lon: 126.9780, RadiusMeters: 50},
	}}
	s, _ := newTestStore(dir)

	loc, err := s.GetLocation(ctx, "course-1")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 37.5665, loc.Lat)
	assert.Equal(t, 50.0, loc.RadiusMeters)
	assert.Equal(t, 1, dir.reads)

	// Second read is served from the cache.
	loc, err = s.GetLocation(ctx, "course-1")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 1, dir.reads)
}

func TestGetLocation_AbsentWhenNotConfigured(t *testing.T) {
	s, _ := newTestStore(&fakeDirectory{})
	loc, err := s.GetLocation(context.Background(), "course-unconfigured")
	require.NoError(t, err)
	assert.Nil(t, loc)
}

func TestGetLocation_CacheFailureFallsBackToDirectory(t *testing.T) {
	dir := &fakeDirectory{locs: map[string]*Location{
		"course-1": {Lat: 1, Lon: 2, RadiusMeters: 30},
	}}
	s := NewStore(brokenCache{}, dir, 0, 0, token.NewSecret)

	loc, err := s.GetLocation(context.Background(), "course-1")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 30.0, loc.RadiusMeters)
}

func TestWarmLocation_PopulatesCacheEntry(t *testing.T) {
	ctx := context.Background()
	dir := &fakeDirectory{locs: map[string]*Location{
		"course-1": {Lat: 1, Lon: 2, RadiusMeters: 30},
	}}
	s, _ := newTestStore(dir)

	require.NoError(t, s.WarmLocation(ctx, "course-1"))
	require.Equal(t, 1, dir.reads)

	// The warmed entry serves the read without another durable fetch.
	loc, err := s.GetLocation(ctx, "course-1")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 1, dir.reads)
}

func TestKey_DayIsPartOfTheKey(t *testing.T) {
	monday := NewKey("course-1", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	tuesday := NewKey("course-1", time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC))
	assert.NotEqual(t, monday.String(), tuesday.String())
	assert.Equal(t, "attendance:secret:course-1:20260302", monday.String())
}
