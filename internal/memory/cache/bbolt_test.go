package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T, maxItems int) *BoltCache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path, maxItems, 50*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c := openTestCache(t, 100)
	require.NoError(t, c.Put(ClassEpisode, "e1", []byte(`{"id":"e1"}`)))

	got, ok := c.Get(ClassEpisode, "e1")
	require.True(t, ok)
	assert.Equal(t, `{"id":"e1"}`, string(got))
}

func TestGetMissReportsFalse(t *testing.T) {
	c := openTestCache(t, 100)
	_, ok := c.Get(ClassEpisode, "does-not-exist")
	assert.False(t, ok)
}

func TestClassesDoNotCollideOnSharedID(t *testing.T) {
	c := openTestCache(t, 100)
	require.NoError(t, c.Put(ClassEpisode, "shared", []byte("episode-value")))
	require.NoError(t, c.Put(ClassPattern, "shared", []byte("pattern-value")))

	ep, ok := c.Get(ClassEpisode, "shared")
	require.True(t, ok)
	assert.Equal(t, "episode-value", string(ep))

	pat, ok := c.Get(ClassPattern, "shared")
	require.True(t, ok)
	assert.Equal(t, "pattern-value", string(pat))
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := openTestCache(t, 100)
	require.NoError(t, c.Put(ClassEpisode, "e1", []byte("x")))
	require.NoError(t, c.Delete(ClassEpisode, "e1"))

	_, ok := c.Get(ClassEpisode, "e1")
	assert.False(t, ok)
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	c := openTestCache(t, 100)
	require.NoError(t, c.Put(ClassEpisode, "e1", []byte("x")))

	c.Get(ClassEpisode, "e1")
	c.Get(ClassEpisode, "missing")

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}

func TestCapacityEvictsOldestOnOverflow(t *testing.T) {
	c := openTestCache(t, 2)
	require.NoError(t, c.Put(ClassEpisode, "e1", []byte("1")))
	require.NoError(t, c.Put(ClassEpisode, "e2", []byte("2")))
	require.NoError(t, c.Put(ClassEpisode, "e3", []byte("3")))

	_, stillPresent1 := c.Get(ClassEpisode, "e1")
	_, stillPresent3 := c.Get(ClassEpisode, "e3")

	assert.False(t, stillPresent1, "the oldest entry should be evicted once capacity is exceeded")
	assert.True(t, stillPresent3)

	stats := c.Stats()
	assert.GreaterOrEqual(t, stats.Evictions, int64(1))
}
