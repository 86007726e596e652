package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	imagevault "github.com/wolfeidau/image-vault"
	"github.com/wolfeidau/image-vault/backend"
	"github.com/wolfeidau/image-vault/telemetry"
)

// persistRecord stores a record for a hash. The first record written
// becomes the primary metadata file; later records for the same hash are
// stored as separate reference records keyed (hash, imageID), so metadata
// is never overwritten or lost.
func (c *Cache) persistRecord(ctx context.Context, h imagevault.Hash, rec *imagevault.ImageRecord) error {
	primary, err := c.readRecord(ctx, imagevault.MetadataKey(h))
	switch {
	case errors.Is(err, backend.ErrNotFound):
		return c.writeRecord(ctx, imagevault.MetadataKey(h), rec)
	case err != nil:
		return err
	}

	if primary.ID == rec.ID {
		// Re-write of the same logical image updates the primary in place.
		return c.writeRecord(ctx, imagevault.MetadataKey(h), rec)
	}
	return c.writeRecord(ctx, imagevault.ReferenceKey(h, rec.ID), rec)
}

func (c *Cache) writeRecord(ctx context.Context, key string, rec *imagevault.ImageRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	if err := c.fs.Write(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing record %s: %w", key, err)
	}
	return nil
}

func (c *Cache) readRecord(ctx context.Context, key string) (*imagevault.ImageRecord, error) {
	rc, err := c.fs.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading record %s: %w", key, err)
	}

	var rec imagevault.ImageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", key, err)
	}
	return &rec, nil
}

// synthesizeRecord builds a minimal record from index-entry stat
// information for files that have no metadata record. The file is
// authoritative; metadata is a convenience layer.
func (c *Cache) synthesizeRecord(entry *Entry) *imagevault.ImageRecord {
	format := imagevault.FormatFromExtension(path.Ext(entry.Key))
	return &imagevault.ImageRecord{
		ID:          entry.Hash.String(),
		Format:      format,
		ByteSize:    entry.Size,
		Source:      sourceOfKey(entry.Key),
		Provider:    providerOfKey(entry.Key),
		CreatedAt:   entry.CreatedAt,
		UpdatedAt:   entry.CreatedAt,
		ContentHash: entry.Hash,
	}
}

// providerOfKey extracts the provider segment from an image storage key,
// when the layout carries one.
func providerOfKey(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) == 3 {
		return parts[1]
	}
	return ""
}

// referenceKeys lists the reference-record keys of a hash.
func (c *Cache) referenceKeys(ctx context.Context, h imagevault.Hash) ([]string, error) {
	keys, err := c.fs.List(ctx, "metadata/references")
	if err != nil {
		return nil, err
	}

	prefix := imagevault.ReferenceKeyPrefix(h)
	var out []string
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out, nil
}

// References returns all secondary records sharing the bytes cached under
// the hash, sorted by image ID for determinism.
func (c *Cache) References(ctx context.Context, h imagevault.Hash) ([]*imagevault.ImageRecord, error) {
	keys, err := c.referenceKeys(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	sort.Strings(keys)

	records := make([]*imagevault.ImageRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := c.readRecord(ctx, key)
		if err != nil {
			c.logger.Warn("reading reference record failed", "key", key, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetByID resolves a logical image ID to its record. The ID may belong to
// the primary record or to any reference record of a hash.
func (c *Cache) GetByID(ctx context.Context, id string) (*imagevault.ImageRecord, error) {
	c.mu.Lock()
	h, ok := c.byID[id]
	entry, live := c.index[h]
	c.mu.Unlock()

	if !ok || !live {
		telemetry.RecordCacheRead(ctx, "miss")
		return nil, ErrNotFound
	}

	rec, err := c.recordByID(ctx, h, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			telemetry.RecordCacheRead(ctx, "miss")
		}
		return nil, err
	}
	rec.FilePath = c.fs.Path(entry.Key)
	telemetry.RecordCacheRead(ctx, "hit")
	return rec, nil
}

func (c *Cache) recordByID(ctx context.Context, h imagevault.Hash, id string) (*imagevault.ImageRecord, error) {
	primary, err := c.readRecord(ctx, imagevault.MetadataKey(h))
	if err == nil && primary.ID == id {
		return primary, nil
	}
	if err != nil && !errors.Is(err, backend.ErrNotFound) {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}

	rec, err := c.readRecord(ctx, imagevault.ReferenceKey(h, id))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading reference metadata: %w", err)
	}
	return rec, nil
}

// DeleteByID removes the cache entry owning a logical image ID: the
// physical file plus its primary and reference metadata files.
func (c *Cache) DeleteByID(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.byID[id]
	if !ok {
		return ErrNotFound
	}
	return c.removeLocked(ctx, h)
}

// UpdateRecord applies an in-place edit to a logical image's metadata
// (title, description, tags, and similar caller-editable fields). Fields
// the cache owns are preserved.
func (c *Cache) UpdateRecord(ctx context.Context, id string, update func(*imagevault.ImageRecord)) (*imagevault.ImageRecord, error) {
	c.mu.Lock()
	h, ok := c.byID[id]
	c.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	rec, err := c.recordByID(ctx, h, id)
	if err != nil {
		return nil, err
	}

	update(rec)

	// The caller must not reassign identity or content linkage.
	rec.ID = id
	rec.ContentHash = h
	rec.UpdatedAt = c.now()

	key := imagevault.MetadataKey(h)
	if primary, perr := c.readRecord(ctx, key); perr != nil || primary.ID != id {
		key = imagevault.ReferenceKey(h, id)
	}
	if err := c.writeRecord(ctx, key, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRecords returns every logical record in the cache: primary and
// reference records of every live entry, ordered by hash then image ID
// for determinism. Entries without metadata yield a synthesized record.
func (c *Cache) ListRecords(ctx context.Context) ([]*imagevault.ImageRecord, error) {
	c.mu.Lock()
	entries := make([]*Entry, 0, len(c.index))
	for _, entry := range c.index {
		entries = append(entries, entry)
	}
	c.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Hash.String() < entries[j].Hash.String()
	})

	var records []*imagevault.ImageRecord
	for _, entry := range entries {
		primary, err := c.readRecord(ctx, imagevault.MetadataKey(entry.Hash))
		if err != nil {
			if !errors.Is(err, backend.ErrNotFound) {
				c.logger.Warn("reading metadata failed", "hash", entry.Hash.ShortString(), "error", err)
				continue
			}
			primary = c.synthesizeRecord(entry)
		}
		primary.FilePath = c.fs.Path(entry.Key)
		records = append(records, primary)

		refs, err := c.References(ctx, entry.Hash)
		if err != nil {
			c.logger.Warn("listing references failed", "hash", entry.Hash.ShortString(), "error", err)
			continue
		}
		for _, ref := range refs {
			ref.FilePath = c.fs.Path(entry.Key)
			records = append(records, ref)
		}
	}
	return records, nil
}

// MarkUsed increments a logical image's usage counter, feeding the
// popularity ranking signal.
func (c *Cache) MarkUsed(ctx context.Context, id string) error {
	_, err := c.UpdateRecord(ctx, id, func(rec *imagevault.ImageRecord) {
		rec.UsageCount++
	})
	return err
}
