package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"

	imagevault "github.com/wolfeidau/image-vault"
	"github.com/wolfeidau/image-vault/backend"
)

// Deduplicate is a maintenance pass defending against index corruption
// and entries written before content hashing was applied consistently: it
// re-hashes every entry's bytes, groups entries by the recomputed hash,
// and for any group with more than one entry keeps the most recently
// created and removes the rest. Entries whose file can no longer be read
// are pruned as broken references.
//
// The pass is idempotent and safe to run concurrently with reads: a
// reader racing a removal sees a cache miss, never an error. Returns the
// number of entries removed.
func (c *Cache) Deduplicate(ctx context.Context) (int, error) {
	c.mu.Lock()
	snapshot := make([]*Entry, 0, len(c.index))
	for _, entry := range c.index {
		snapshot = append(snapshot, entry)
	}
	c.mu.Unlock()

	groups := make(map[imagevault.Hash][]*Entry)
	var broken []*Entry

	for _, entry := range snapshot {
		actual, err := c.rehash(ctx, entry.Key)
		if err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				broken = append(broken, entry)
				continue
			}
			return 0, fmt.Errorf("re-hashing %s: %w", entry.Key, err)
		}
		groups[actual] = append(groups[actual], entry)
	}

	removed := 0

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range broken {
		if _, live := c.index[entry.Hash]; !live {
			continue
		}
		delete(c.index, entry.Hash)
		c.deleteMetadataLocked(ctx, entry.Hash)
		removed++
	}

	for _, group := range groups {
		if len(group) < 2 {
			continue
		}

		// Keep the most recently created; ties resolve by key so repeated
		// runs agree.
		sort.Slice(group, func(i, j int) bool {
			if group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].Key > group[j].Key
			}
			return group[i].CreatedAt.After(group[j].CreatedAt)
		})

		for _, entry := range group[1:] {
			if err := c.removeLocked(ctx, entry.Hash); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				c.logger.Warn("removing duplicate failed", "key", entry.Key, "error", err)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		c.logger.Info("deduplication pass complete", "removed", removed)
	}
	return removed, nil
}

// rehash streams an entry's bytes through the content hash.
func (c *Cache) rehash(ctx context.Context, key string) (imagevault.Hash, error) {
	rc, err := c.fs.Read(ctx, key)
	if err != nil {
		return imagevault.Hash{}, err
	}
	defer func() { _ = rc.Close() }()

	h, _, err := imagevault.HashReader(rc)
	return h, err
}
