package service

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	imagevault "github.com/wolfeidau/image-vault"
	"github.com/wolfeidau/image-vault/provider"
	"github.com/wolfeidau/image-vault/telemetry"
)

// Search fans the request out to every selected search provider, merges
// the contributions, ranks the union against the query and returns one
// page of the globally ranked list.
//
// Identical concurrent searches are coalesced: at most one fan-out runs
// per distinct coalescing key, and every waiter receives the same result.
// A caller whose context expires before the fan-out settles gets its
// context error while the fan-out continues for the other waiters.
func (s *Service) Search(ctx context.Context, req imagevault.SearchRequest) (*imagevault.SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("empty query: %w", ErrValidation)
	}
	req.Normalize()

	key := coalescingKey(req)
	start := time.Now()

	if s.results != nil {
		if v, ok := s.results.Get(key); ok {
			s.logger.Debug("search served from result cache", "key", key)
			telemetry.RecordSearch(ctx, "cached", false, time.Since(start))
			return cloneResult(v.(*imagevault.SearchResult)), nil
		}
	}

	ch := s.group.DoChan(key, func() (any, error) {
		// Detached context so no single caller's cancellation stops the
		// fan-out for everyone else.
		res, err := s.doSearch(context.WithoutCancel(ctx), req)
		if err != nil {
			// Let the next caller retry instead of joining a dead flight.
			s.group.Forget(key)
		}
		return res, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			telemetry.RecordSearch(ctx, "error", res.Shared, time.Since(start))
			return nil, res.Err
		}
		result := res.Val.(*imagevault.SearchResult)
		telemetry.RecordSearch(ctx, "success", res.Shared, time.Since(start))
		return cloneResult(result), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// doSearch runs one fan-out for the request and assembles the ranked page.
func (s *Service) doSearch(ctx context.Context, req imagevault.SearchRequest) (*imagevault.SearchResult, error) {
	start := time.Now()

	descs := s.selectProviders(req)

	type contribution struct {
		name   string
		images []*imagevault.ImageRecord
	}
	contributions := make([]contribution, len(descs))

	g, gctx := errgroup.WithContext(ctx)
	for i, desc := range descs {
		i, desc := i, desc
		g.Go(func() error {
			contributions[i].name = desc.Name()

			if err := desc.Allow(); err != nil {
				s.logger.Warn("provider rate limited", "provider", desc.Name())
				telemetry.RecordRateLimited(gctx, desc.Name())
				return nil
			}

			searcher := desc.Provider.(provider.Searcher)

			pctx, cancel := context.WithTimeout(gctx, s.cfg.ProviderTimeout)
			defer cancel()

			resp, err := searcher.Search(pctx, req)
			if err != nil {
				// A failed provider contributes zero results, never a
				// failed search.
				s.logger.Warn("provider search failed", "provider", desc.Name(), "error", err)
				return nil
			}

			contributions[i].images = resp.Images
			return nil
		})
	}
	_ = g.Wait()

	providerResults := make(map[string]int, len(contributions))
	var merged []*imagevault.ImageRecord
	for _, c := range contributions {
		providerResults[c.name] = len(c.images)
		merged = append(merged, c.images...)
	}

	merged = filterConstraints(merged, req)
	ranked := s.ranker.Rank(req.Query, merged)

	result := paginate(ranked, req.Page, req.PerPage)
	result.Elapsed = time.Since(start)
	result.ProviderResults = providerResults

	s.logger.Debug("search settled",
		"query", req.Query,
		"providers", len(descs),
		"total", result.TotalCount,
		"elapsed", result.Elapsed)

	if s.results != nil {
		s.results.SetDefault(coalescingKey(req), result)
	}

	return result, nil
}

// selectProviders resolves the fan-out set: the request's allow list when
// present, otherwise the configured default preference ordering, otherwise
// all enabled search providers in registration order. The request's deny
// list is applied last.
func (s *Service) selectProviders(req imagevault.SearchRequest) []*provider.Descriptor {
	enabled := s.registry.ByCapability(provider.CapabilitySearch, true)

	byName := make(map[string]*provider.Descriptor, len(enabled))
	for _, d := range enabled {
		byName[d.Name()] = d
	}

	var ordered []*provider.Descriptor
	switch {
	case len(req.Providers) > 0:
		for _, name := range req.Providers {
			if d, ok := byName[name]; ok {
				ordered = append(ordered, d)
			}
		}
	case len(s.cfg.DefaultProviders) > 0:
		for _, name := range s.cfg.DefaultProviders {
			if d, ok := byName[name]; ok {
				ordered = append(ordered, d)
			}
		}
	default:
		ordered = enabled
	}

	if len(req.ExcludeProviders) == 0 {
		return ordered
	}

	excluded := make(map[string]bool, len(req.ExcludeProviders))
	for _, name := range req.ExcludeProviders {
		excluded[name] = true
	}

	kept := ordered[:0:0]
	for _, d := range ordered {
		if !excluded[d.Name()] {
			kept = append(kept, d)
		}
	}
	return kept
}

// filterConstraints drops merged results that violate the request's
// dimension or license constraints. Providers that honor the constraints
// upstream pass through unchanged; this keeps the guarantee uniform
// across providers that cannot.
func filterConstraints(images []*imagevault.ImageRecord, req imagevault.SearchRequest) []*imagevault.ImageRecord {
	if req.MinWidth == 0 && req.MinHeight == 0 && req.License == "" {
		return images
	}

	kept := images[:0:0]
	for _, img := range images {
		if req.MinWidth > 0 && img.Width > 0 && img.Width < req.MinWidth {
			continue
		}
		if req.MinHeight > 0 && img.Height > 0 && img.Height < req.MinHeight {
			continue
		}
		if req.License != "" && (img.License == nil || !strings.EqualFold(img.License.Name, req.License)) {
			continue
		}
		kept = append(kept, img)
	}
	return kept
}

// paginate slices one page out of the globally ranked list.
func paginate(ranked []*imagevault.ImageRecord, page, perPage int) *imagevault.SearchResult {
	total := len(ranked)

	startIdx := (page - 1) * perPage
	if startIdx > total {
		startIdx = total
	}
	endIdx := startIdx + perPage
	if endIdx > total {
		endIdx = total
	}

	return &imagevault.SearchResult{
		Images:     ranked[startIdx:endIdx],
		TotalCount: total,
		Page:       page,
		PerPage:    perPage,
		HasNext:    endIdx < total,
		HasPrev:    page > 1,
	}
}

// coalescingKey canonicalizes a request so identical searches share one
// flight. Provider filter lists are sorted so ordering differences do not
// defeat coalescing; differently-filtered searches never share one.
func coalescingKey(req imagevault.SearchRequest) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(req.Query)))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(req.Page))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(req.PerPage))

	writeSorted := func(names []string) {
		b.WriteByte('|')
		sorted := append([]string(nil), names...)
		sort.Strings(sorted)
		b.WriteString(strings.Join(sorted, ","))
	}
	writeSorted(req.Providers)
	writeSorted(req.ExcludeProviders)

	b.WriteByte('|')
	b.WriteString(strconv.Itoa(req.MinWidth))
	b.WriteByte('x')
	b.WriteString(strconv.Itoa(req.MinHeight))
	b.WriteByte('|')
	b.WriteString(req.License)

	return b.String()
}

// cloneResult shallow-copies a search result so coalesced waiters and
// result-cache hits each get their own Images slice and provider counts.
// The records themselves stay shared; callers treat them as read-only.
func cloneResult(r *imagevault.SearchResult) *imagevault.SearchResult {
	out := *r
	out.Images = append([]*imagevault.ImageRecord(nil), r.Images...)
	out.ProviderResults = maps.Clone(r.ProviderResults)
	return &out
}
