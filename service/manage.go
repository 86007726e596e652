package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	imagevault "github.com/wolfeidau/image-vault"
	"github.com/wolfeidau/image-vault/cache"
	"github.com/wolfeidau/image-vault/provider"
	"github.com/wolfeidau/image-vault/telemetry"
)

// GetByID returns the metadata record for a logical image ID.
func (s *Service) GetByID(ctx context.Context, id string) (*imagevault.ImageRecord, error) {
	return s.cache.GetByID(ctx, id)
}

// Delete removes the record for the given ID. It reports whether a record
// was actually removed; an unknown ID is not an error.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	err := s.cache.DeleteByID(ctx, id)
	if errors.Is(err, cache.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateRecord edits a stored record's caller-owned metadata in place.
func (s *Service) UpdateRecord(ctx context.Context, id string, update func(*imagevault.ImageRecord)) (*imagevault.ImageRecord, error) {
	return s.cache.UpdateRecord(ctx, id, update)
}

// MarkUsed bumps the usage counter feeding the popularity ranking signal.
func (s *Service) MarkUsed(ctx context.Context, id string) error {
	if err := s.cache.MarkUsed(ctx, id); err != nil {
		return err
	}
	telemetry.RecordImageTouch(ctx)
	return nil
}

// ListOptions filters and orders a cached-image listing.
type ListOptions struct {
	Page    int
	PerPage int

	// Category keeps only images carrying a tag with this category.
	Category string

	// SearchText ranks the listing by relevance to this text.
	SearchText string

	// SortKey orders the listing: "created", "usage", "title", or empty
	// for relevance when SearchText is set and insertion order otherwise.
	SortKey string
}

// ListCached pages through the cached image records.
func (s *Service) ListCached(ctx context.Context, opts ListOptions) (*imagevault.SearchResult, error) {
	start := time.Now()

	req := imagevault.SearchRequest{Page: opts.Page, PerPage: opts.PerPage}
	req.Normalize()

	records, err := s.cache.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cached records: %w", err)
	}

	if opts.Category != "" {
		kept := records[:0:0]
		for _, rec := range records {
			if hasTagCategory(rec, opts.Category) {
				kept = append(kept, rec)
			}
		}
		records = kept
	}

	switch opts.SortKey {
	case "created":
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		})
	case "usage":
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].UsageCount > records[j].UsageCount
		})
	case "title":
		sort.SliceStable(records, func(i, j int) bool {
			return strings.ToLower(records[i].Title) < strings.ToLower(records[j].Title)
		})
	default:
		if opts.SearchText != "" {
			records = s.ranker.Rank(opts.SearchText, records)
		}
	}

	result := paginate(records, req.Page, req.PerPage)
	result.Elapsed = time.Since(start)
	return result, nil
}

func hasTagCategory(rec *imagevault.ImageRecord, category string) bool {
	for _, tag := range rec.Tags {
		if strings.EqualFold(tag.Category, category) {
			return true
		}
	}
	return false
}

// Stats reports aggregate cache statistics.
func (s *Service) Stats() cache.Stats {
	return s.cache.Stats()
}

// Deduplicate re-verifies the cache and removes redundant physical files.
func (s *Service) Deduplicate(ctx context.Context) (int, error) {
	start := time.Now()
	removed, err := s.cache.Deduplicate(ctx)
	if err != nil {
		return removed, err
	}
	telemetry.RecordDedupeRun(ctx, removed, time.Since(start))
	return removed, nil
}

// ClearAll empties the cache. Returns the number of entries removed.
func (s *Service) ClearAll(ctx context.Context) (int, error) {
	return s.cache.ClearAll(ctx)
}

// ClearBySource empties one source subtree of the cache.
func (s *Service) ClearBySource(ctx context.Context, source imagevault.SourceType) (int, error) {
	return s.cache.ClearBySource(ctx, source)
}

// RebuildIndex reconstructs the in-memory index from the filesystem.
func (s *Service) RebuildIndex(ctx context.Context) (int, error) {
	return s.cache.RebuildIndex(ctx)
}

// Export streams the whole cache as a compressed archive.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	return s.cache.Export(ctx, w)
}

// Import restores cache contents from an archive produced by Export.
func (s *Service) Import(ctx context.Context, r io.Reader) (int, error) {
	return s.cache.Import(ctx, r)
}

// HealthCheck probes every registered provider.
func (s *Service) HealthCheck(ctx context.Context) map[string]provider.Status {
	return s.registry.HealthCheckAll(ctx)
}
