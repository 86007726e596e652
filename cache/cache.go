// Package cache implements the content-addressable image cache. Bytes are
// stored once per SHA-256 content hash; logical image records layer on
// top as primary and reference metadata files. The in-memory index is a
// derived view of the filesystem and is rebuilt by scanning it, so losing
// the index is never data loss.
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	imagevault "github.com/wolfeidau/image-vault"
	"github.com/wolfeidau/image-vault/backend"
	"github.com/wolfeidau/image-vault/telemetry"
)

// ErrNotFound is returned when a hash or image ID has no live entry.
var ErrNotFound = errors.New("cache: not found")

// Entry describes one physical file on disk, keyed by its content hash.
type Entry struct {
	Hash         imagevault.Hash
	Key          string
	Size         int64
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
}

// Cache is the content-addressable image cache.
type Cache struct {
	fs     *backend.Filesystem
	stats  *StatsDB
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	index map[imagevault.Hash]*Entry
	byID  map[string]imagevault.Hash
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for the cache.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithStatsDB attaches a persistent access-statistics ledger. The ledger
// is an overlay: losing it loses only statistics, never image data.
func WithStatsDB(db *StatsDB) Option {
	return func(c *Cache) {
		c.stats = db
	}
}

// New creates a cache over the given filesystem backend. Call RebuildIndex
// before serving reads so the index reflects what is already on disk.
func New(fs *backend.Filesystem, opts ...Option) *Cache {
	c := &Cache{
		fs:     fs,
		logger: slog.Default(),
		now:    time.Now,
		index:  make(map[imagevault.Hash]*Entry),
		byID:   make(map[string]imagevault.Hash),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Write stores the record's bytes content-addressably and persists the
// record as metadata. N writes of identical bytes produce exactly one
// physical file and N metadata records: if a live entry for the hash
// already exists the bytes are not rewritten and the record becomes a
// reference record (or the primary, if none exists yet).
//
// On return the record's ContentHash, ByteSize and FilePath are filled in.
// A disk write failure is a hard error; a metadata write failure after a
// successful byte write is logged and degrades to the file-only state a
// later Read can synthesize metadata from.
func (c *Cache) Write(ctx context.Context, rec *imagevault.ImageRecord, data []byte) (imagevault.Hash, error) {
	h := imagevault.HashBytes(data)

	c.prepareRecord(rec, h, int64(len(data)))

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.index[h]; ok {
		exists, err := c.fs.Exists(ctx, entry.Key)
		if err != nil {
			return imagevault.Hash{}, fmt.Errorf("checking cached file: %w", err)
		}
		if exists {
			rec.FilePath = c.fs.Path(entry.Key)
			if err := c.persistRecord(ctx, h, rec); err != nil {
				c.logger.Warn("metadata write failed, file remains cached", "hash", h.ShortString(), "error", err)
			} else {
				c.byID[rec.ID] = h
			}
			c.touchLocked(entry)
			return h, nil
		}
		// Dangling entry: the file vanished underneath us. Evict and
		// rewrite below.
		delete(c.index, h)
	}

	key := imagevault.ImageStorageKey(rec.Source, rec.Provider, h, rec.Format)
	if err := c.fs.Write(ctx, key, bytes.NewReader(data)); err != nil {
		return imagevault.Hash{}, fmt.Errorf("writing image bytes: %w", err)
	}

	now := c.now()
	entry := &Entry{
		Hash:      h,
		Key:       key,
		Size:      int64(len(data)),
		CreatedAt: now,
	}
	c.index[h] = entry
	rec.FilePath = c.fs.Path(key)

	if err := c.persistRecord(ctx, h, rec); err != nil {
		c.logger.Warn("metadata write failed, file remains cached", "hash", h.ShortString(), "error", err)
	} else {
		c.byID[rec.ID] = h
	}
	return h, nil
}

// prepareRecord fills in the fields the cache owns before persistence.
func (c *Cache) prepareRecord(rec *imagevault.ImageRecord, h imagevault.Hash, size int64) {
	now := c.now()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if !rec.Source.Valid() {
		rec.Source = imagevault.SourceLocalUpload
	}
	if rec.Format == "" {
		rec.Format = imagevault.FormatPNG
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.ContentHash = h
	rec.ByteSize = size
}

// Read returns the primary metadata record and local file path for a
// content hash. A missing file is treated as not found and the dangling
// index entry is evicted lazily. If no metadata record exists the file is
// still authoritative: a minimal record is synthesized from file stat
// information.
func (c *Cache) Read(ctx context.Context, h imagevault.Hash) (*imagevault.ImageRecord, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.index[h]
	if !ok {
		telemetry.RecordCacheRead(ctx, "miss")
		return nil, "", ErrNotFound
	}

	exists, err := c.fs.Exists(ctx, entry.Key)
	if err != nil {
		return nil, "", fmt.Errorf("checking cached file: %w", err)
	}
	if !exists {
		delete(c.index, h)
		telemetry.RecordCacheRead(ctx, "miss")
		return nil, "", ErrNotFound
	}

	rec, err := c.readRecord(ctx, imagevault.MetadataKey(h))
	if err != nil {
		if !errors.Is(err, backend.ErrNotFound) {
			return nil, "", fmt.Errorf("reading metadata: %w", err)
		}
		rec = c.synthesizeRecord(entry)
	}

	c.touchLocked(entry)
	rec.FilePath = c.fs.Path(entry.Key)
	telemetry.RecordCacheRead(ctx, "hit")
	return rec, rec.FilePath, nil
}

// Contains reports whether a live entry exists for the hash without
// touching access statistics.
func (c *Cache) Contains(h imagevault.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[h]
	return ok
}

// Entry returns a copy of the index entry for a hash.
func (c *Cache) Entry(h imagevault.Hash) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.index[h]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Remove deletes the physical file for a hash together with its primary
// and reference metadata records. Returns ErrNotFound if no entry exists.
func (c *Cache) Remove(ctx context.Context, h imagevault.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(ctx, h)
}

func (c *Cache) removeLocked(ctx context.Context, h imagevault.Hash) error {
	entry, ok := c.index[h]
	if !ok {
		return ErrNotFound
	}

	if err := c.fs.Delete(ctx, entry.Key); err != nil {
		return fmt.Errorf("deleting image bytes: %w", err)
	}
	delete(c.index, h)

	c.deleteMetadataLocked(ctx, h)

	if c.stats != nil {
		if err := c.stats.Delete(h); err != nil {
			c.logger.Warn("deleting access stats failed", "hash", h.ShortString(), "error", err)
		}
	}
	return nil
}

// deleteMetadataLocked removes the primary and all reference records of a
// hash, and drops their IDs from the logical-ID index. Metadata deletion
// failures are logged, not fatal: the bytes are already gone.
func (c *Cache) deleteMetadataLocked(ctx context.Context, h imagevault.Hash) {
	for id, hash := range c.byID {
		if hash == h {
			delete(c.byID, id)
		}
	}

	if err := c.fs.Delete(ctx, imagevault.MetadataKey(h)); err != nil {
		c.logger.Warn("deleting primary metadata failed", "hash", h.ShortString(), "error", err)
	}

	keys, err := c.referenceKeys(ctx, h)
	if err != nil {
		c.logger.Warn("listing reference records failed", "hash", h.ShortString(), "error", err)
		return
	}
	for _, key := range keys {
		if err := c.fs.Delete(ctx, key); err != nil {
			c.logger.Warn("deleting reference record failed", "key", key, "error", err)
		}
	}
}

// touchLocked updates in-memory access statistics and, when a ledger is
// attached, persists them.
func (c *Cache) touchLocked(entry *Entry) {
	entry.AccessCount++
	entry.LastAccessed = c.now()

	if c.stats != nil {
		if err := c.stats.Touch(entry.Hash, entry.LastAccessed); err != nil {
			c.logger.Warn("persisting access stats failed", "hash", entry.Hash.ShortString(), "error", err)
		}
	}
}

// SourceStats is the per-source-type slice of cache statistics.
type SourceStats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Stats aggregates entry count, total bytes and a per-source breakdown.
type Stats struct {
	TotalEntries int                                   `json:"total_entries"`
	TotalBytes   int64                                 `json:"total_bytes"`
	BySource     map[imagevault.SourceType]SourceStats `json:"by_source"`
}

// Stats reports aggregate cache statistics from the in-memory index.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{BySource: make(map[imagevault.SourceType]SourceStats)}
	for _, entry := range c.index {
		stats.TotalEntries++
		stats.TotalBytes += entry.Size

		source := sourceOfKey(entry.Key)
		s := stats.BySource[source]
		s.Entries++
		s.Bytes += entry.Size
		stats.BySource[source] = s
	}
	return stats
}

// ClearAll removes every tracked entry and its metadata, then sweeps any
// orphaned files left in the storage subtrees that the index never
// learned about. Returns the number of tracked entries removed.
func (c *Cache) ClearAll(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for h := range c.index {
		if err := c.removeLocked(ctx, h); err != nil {
			c.logger.Warn("removing entry failed during clear", "hash", h.ShortString(), "error", err)
			continue
		}
		removed++
	}

	// Sweep orphans: files present in the subtrees without index entries.
	for _, source := range imagevault.SourceTypes() {
		keys, err := c.fs.List(ctx, string(source))
		if err != nil {
			return removed, fmt.Errorf("listing %s subtree: %w", source, err)
		}
		for _, key := range keys {
			if err := c.fs.Delete(ctx, key); err != nil {
				c.logger.Warn("deleting orphaned file failed", "key", key, "error", err)
			}
		}
	}
	return removed, nil
}

// ClearBySource removes every tracked entry stored under one source-type
// subtree. Returns the number of entries removed.
func (c *Cache) ClearBySource(ctx context.Context, source imagevault.SourceType) (int, error) {
	if !source.Valid() {
		return 0, fmt.Errorf("unknown source type %q", source)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for h, entry := range c.index {
		if sourceOfKey(entry.Key) != source {
			continue
		}
		if err := c.removeLocked(ctx, h); err != nil {
			c.logger.Warn("removing entry failed during clear", "hash", h.ShortString(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Len returns the number of live index entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func sourceOfKey(key string) imagevault.SourceType {
	for _, source := range imagevault.SourceTypes() {
		if len(key) > len(source) && key[:len(source)] == string(source) && key[len(source)] == '/' {
			return source
		}
	}
	return imagevault.SourceLocalUpload
}
