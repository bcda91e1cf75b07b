package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WorlesEnric/Nexus-sub001/internal/logging"
)

func TestGetOrCompile_MissThenHit(t *testing.T) {
	c, err := New(1<<20, "", 0, logging.NewDefault())
	require.NoError(t, err)

	src := []byte(`(function(){ return 1; })()`)
	a1, hit1, _, err := c.GetOrCompile("h1", src)
	require.NoError(t, err)
	assert.False(t, hit1)
	require.NotNil(t, a1.Program)

	a2, hit2, _, err := c.GetOrCompile("h1", src)
	require.NoError(t, err)
	assert.True(t, hit2)
	assert.Same(t, a1, a2)
}

func TestGetOrCompile_CompileError(t *testing.T) {
	c, err := New(1<<20, "", 0, logging.NewDefault())
	require.NoError(t, err)

	_, _, _, err = c.GetOrCompile("bad", []byte(`this is not valid js {{{`))
	assert.Error(t, err)
}

func TestGetOrCompile_MissAfterInvalidate(t *testing.T) {
	dir := t.TempDir()
	c, err := New(1<<20, dir, 100, logging.NewDefault())
	require.NoError(t, err)

	src := []byte(`(function(){ return 42; })()`)
	_, hit, _, err := c.GetOrCompile("h", src)
	require.NoError(t, err)
	require.False(t, hit)

	c.Invalidate(Fingerprint(src))

	_, hit2, _, err := c.GetOrCompile("h", src)
	require.NoError(t, err)
	assert.False(t, hit2, "after full invalidation both tiers were cleared")
}

func TestGetOrCompile_DiskHitIsReportedAsMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := New(1<<20, dir, 100, logging.NewDefault())
	require.NoError(t, err)

	src := []byte(`(function(){ return 7; })()`)
	_, _, _, err = c.GetOrCompile("h", src)
	require.NoError(t, err)

	c.mu.Lock()
	fp := Fingerprint(src)
	delete(c.entries, fp)
	c.lru.Init()
	c.mu.Unlock()

	_, hit, _, err := c.GetOrCompile("h", src)
	require.NoError(t, err)
	assert.False(t, hit, "a disk hit still recompiles locally, so it is reported as hit=false at this tier boundary")
}

func TestGetOrCompile_ConcurrentMissesCoalesce(t *testing.T) {
	c, err := New(1<<20, "", 0, logging.NewDefault())
	require.NoError(t, err)

	src := []byte(`(function(){ return 1; })()`)

	var wg sync.WaitGroup
	results := make([]*Artifact, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			a, _, _, err := c.GetOrCompile("h", src)
			require.NoError(t, err)
			results[idx] = a
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		assert.Same(t, results[0], results[i], "concurrent misses for the same fingerprint must coalesce to one compile")
	}
}

func TestInvalidate_RemovesFromBothTiers(t *testing.T) {
	dir := t.TempDir()
	c, err := New(1<<20, dir, 100, logging.NewDefault())
	require.NoError(t, err)

	src := []byte(`(function(){ return 1; })()`)
	_, _, _, err = c.GetOrCompile("h", src)
	require.NoError(t, err)

	fp := Fingerprint(src)
	c.Invalidate(fp)

	c.mu.Lock()
	_, present := c.entries[fp]
	c.mu.Unlock()
	assert.False(t, present)
}

func TestStats_TracksHitsAndMisses(t *testing.T) {
	c, err := New(1<<20, "", 0, logging.NewDefault())
	require.NoError(t, err)

	src := []byte(`(function(){ return 1; })()`)
	_, _, _, err = c.GetOrCompile("h", src)
	require.NoError(t, err)
	_, _, _, err = c.GetOrCompile("h", src)
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestEviction_RespectsMaxBytes(t *testing.T) {
	c, err := New(10, "", 0, logging.NewDefault()) // tiny byte budget forces eviction
	require.NoError(t, err)

	src1 := []byte(`(function(){ return 1; })()`)
	src2 := []byte(`(function(){ return 2222222222; })()`)

	_, _, _, err = c.GetOrCompile("h1", src1)
	require.NoError(t, err)
	_, _, _, err = c.GetOrCompile("h2", src2)
	require.NoError(t, err)

	c.mu.Lock()
	_, stillPresent := c.entries[Fingerprint(src1)]
	c.mu.Unlock()
	assert.False(t, stillPresent, "least-recently-used entry should be evicted once over budget")
}
