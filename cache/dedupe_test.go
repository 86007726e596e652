package cache

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	imagevault "github.com/wolfeidau/image-vault"
)

func TestDeduplicateRemovesByteDuplicates(t *testing.T) {
	c, fs := newTestCache(t)
	ctx := context.Background()

	data := []byte("duplicated bytes")
	h := imagevault.HashBytes(data)

	// Two hash-named files with identical bytes, as left behind by a
	// writer that predates consistent content hashing. One carries the
	// correct hash name, one a stale name.
	correct := imagevault.ImageStorageKey(imagevault.SourceGenerated, "openai", h, imagevault.FormatPNG)
	stale := imagevault.ImageStorageKey(imagevault.SourceGenerated, "openai", imagevault.HashBytes([]byte("stale name")), imagevault.FormatPNG)
	require.NoError(t, fs.Write(ctx, correct, bytes.NewReader(data)))
	require.NoError(t, fs.Write(ctx, stale, bytes.NewReader(data)))

	_, err := c.RebuildIndex(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	removed, err := c.Deduplicate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())

	// Idempotent: a second pass with no intervening writes removes nothing.
	removed, err = c.Deduplicate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, c.Len())
}

func TestDeduplicatePrunesBrokenReferences(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	rec := testRecord("img")
	_, err := c.Write(ctx, rec, []byte("bytes"))
	require.NoError(t, err)

	// Break the entry by deleting the file directly.
	require.NoError(t, c.fs.Delete(ctx, entryKey(t, c)))

	removed, err := c.Deduplicate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, c.Len())
}

func TestDeduplicateCleanState(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.Write(ctx, testRecord("a"), []byte("alpha"))
	require.NoError(t, err)
	_, err = c.Write(ctx, testRecord("b"), []byte("beta"))
	require.NoError(t, err)

	removed, err := c.Deduplicate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 2, c.Len())
}

// entryKey returns the storage key of the single entry in the cache.
func entryKey(t *testing.T, c *Cache) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.index, 1)
	for _, entry := range c.index {
		return entry.Key
	}
	return ""
}
