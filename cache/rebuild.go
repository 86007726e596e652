package cache

import (
	"context"
	"fmt"
	"strings"

	imagevault "github.com/wolfeidau/image-vault"
)

// RebuildIndex reconstructs the in-memory index purely from the
// filesystem: every file in the storage subtrees whose extension is a
// supported image format contributes an entry, with its content hash
// derived from the hash-named file stem and its sizes and times from stat
// information. Access statistics are rehydrated from the ledger when one
// is attached. Run it at startup and whenever the authoritative state
// must be reconstructed.
//
// Returns the number of entries indexed.
func (c *Cache) RebuildIndex(ctx context.Context) (int, error) {
	index := make(map[imagevault.Hash]*Entry)

	for _, source := range imagevault.SourceTypes() {
		keys, err := c.fs.List(ctx, string(source))
		if err != nil {
			return 0, fmt.Errorf("listing %s subtree: %w", source, err)
		}

		for _, key := range keys {
			h, _, err := c.parseKey(key)
			if err != nil {
				c.logger.Debug("skipping non-cache file", "key", key, "reason", err)
				continue
			}

			info, err := c.fs.Stat(ctx, key)
			if err != nil {
				c.logger.Warn("stat failed during rebuild", "key", key, "error", err)
				continue
			}

			entry := &Entry{
				Hash:         h,
				Key:          key,
				Size:         info.Size,
				CreatedAt:    info.ModTime,
				LastAccessed: info.ModTime,
			}

			if c.stats != nil {
				if stat, ok, err := c.stats.Get(h); err != nil {
					c.logger.Warn("reading access stats failed", "hash", h.ShortString(), "error", err)
				} else if ok {
					entry.AccessCount = stat.Count
					entry.LastAccessed = stat.LastAccessed
				}
			}

			index[h] = entry
		}
	}

	byID, err := c.rebuildIDIndex(ctx, index)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.index = index
	c.byID = byID
	c.mu.Unlock()

	c.logger.Info("rebuilt cache index", "entries", len(index), "records", len(byID))
	return len(index), nil
}

func (c *Cache) parseKey(key string) (imagevault.Hash, imagevault.Format, error) {
	return imagevault.ParseImageStorageKey(key)
}

// rebuildIDIndex scans the metadata subtree and maps logical image IDs to
// the hashes of live entries. Metadata for hashes no longer on disk is
// skipped; the files are authoritative.
func (c *Cache) rebuildIDIndex(ctx context.Context, index map[imagevault.Hash]*Entry) (map[string]imagevault.Hash, error) {
	byID := make(map[string]imagevault.Hash)

	keys, err := c.fs.List(ctx, "metadata")
	if err != nil {
		return nil, fmt.Errorf("listing metadata subtree: %w", err)
	}

	for _, key := range keys {
		if strings.HasPrefix(key, "metadata/references/") {
			h, id, err := imagevault.ParseReferenceKey(key)
			if err != nil {
				c.logger.Debug("skipping malformed reference key", "key", key, "reason", err)
				continue
			}
			if _, live := index[h]; live {
				byID[id] = h
			}
			continue
		}

		h, err := imagevault.ParseHash(strings.TrimSuffix(strings.TrimPrefix(key, "metadata/"), ".json"))
		if err != nil {
			c.logger.Debug("skipping malformed metadata key", "key", key, "reason", err)
			continue
		}
		if _, live := index[h]; !live {
			continue
		}

		rec, err := c.readRecord(ctx, key)
		if err != nil {
			c.logger.Warn("reading metadata failed during rebuild", "key", key, "error", err)
			continue
		}
		if rec.ID != "" {
			byID[rec.ID] = h
		}
	}
	return byID, nil
}
