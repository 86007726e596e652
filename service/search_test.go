package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imagevault "github.com/wolfeidau/image-vault"
	"github.com/wolfeidau/image-vault/backend"
	"github.com/wolfeidau/image-vault/cache"
	"github.com/wolfeidau/image-vault/provider"
)

// fakeSearcher is a scriptable search provider.
type fakeSearcher struct {
	name   string
	images []*imagevault.ImageRecord
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (f *fakeSearcher) Name() string { return f.name }

func (f *fakeSearcher) Search(ctx context.Context, req imagevault.SearchRequest) (*provider.SearchResponse, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &provider.SearchResponse{Images: f.images, Total: len(f.images)}, nil
}

func searchImages(providerName string, n int) []*imagevault.ImageRecord {
	images := make([]*imagevault.ImageRecord, n)
	for i := 0; i < n; i++ {
		images[i] = &imagevault.ImageRecord{
			ID:       fmt.Sprintf("%s-%d", providerName, i),
			Title:    fmt.Sprintf("Sunset over the bay %d", i),
			Keywords: []string{"sunset", "bay"},
			Source:   imagevault.SourceWebSearch,
			Provider: providerName,
		}
	}
	return images
}

func newTestService(t *testing.T, cfg Config, providers ...*provider.Descriptor) *Service {
	t.Helper()

	fs, err := backend.NewFilesystem(filepath.Join(t.TempDir(), "vault"))
	require.NoError(t, err)

	registry := provider.NewRegistry()
	for _, d := range providers {
		registry.Register(d)
	}

	return New(cache.New(fs), registry, cfg)
}

func enabled(p provider.Provider) *provider.Descriptor {
	return &provider.Descriptor{Provider: p, Enabled: true}
}

func TestSearchCoalescing(t *testing.T) {
	searcher := &fakeSearcher{
		name:   "unsplash",
		images: searchImages("unsplash", 3),
		delay:  50 * time.Millisecond,
	}
	svc := newTestService(t, Config{}, enabled(searcher))

	req := imagevault.SearchRequest{Query: "sunset", Page: 1, PerPage: 10}

	var wg sync.WaitGroup
	results := make([]*imagevault.SearchResult, 10)
	errs := make([]error, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = svc.Search(context.Background(), req)
		}(i)
	}

	wg.Wait()

	require.Equal(t, int32(1), searcher.calls.Load(), "identical concurrent searches must share one fan-out")
	for i := 0; i < 10; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, 3, results[i].TotalCount)
	}
}

func TestSearchDistinctKeysRunIndependently(t *testing.T) {
	searcher := &fakeSearcher{name: "unsplash", images: searchImages("unsplash", 1)}
	svc := newTestService(t, Config{}, enabled(searcher))

	_, err := svc.Search(context.Background(), imagevault.SearchRequest{Query: "sunset"})
	require.NoError(t, err)
	_, err = svc.Search(context.Background(), imagevault.SearchRequest{Query: "sunrise"})
	require.NoError(t, err)

	require.Equal(t, int32(2), searcher.calls.Load())
}

func TestSearchPartialFailure(t *testing.T) {
	good := &fakeSearcher{name: "unsplash", images: searchImages("unsplash", 3)}
	bad := &fakeSearcher{name: "pexels", err: errors.New("upstream unavailable")}
	svc := newTestService(t, Config{}, enabled(good), enabled(bad))

	result, err := svc.Search(context.Background(), imagevault.SearchRequest{Query: "sunset"})
	require.NoError(t, err, "a failed provider must not fail the search")

	assert.Equal(t, 3, result.TotalCount)
	assert.Equal(t, map[string]int{"unsplash": 3, "pexels": 0}, result.ProviderResults)
}

func TestSearchProviderTimeout(t *testing.T) {
	slow := &fakeSearcher{name: "unsplash", images: searchImages("unsplash", 5), delay: time.Second}
	fast := &fakeSearcher{name: "pexels", images: searchImages("pexels", 2)}
	svc := newTestService(t, Config{ProviderTimeout: 20 * time.Millisecond}, enabled(slow), enabled(fast))

	result, err := svc.Search(context.Background(), imagevault.SearchRequest{Query: "sunset"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalCount)
	assert.Equal(t, 0, result.ProviderResults["unsplash"])
}

func TestSearchPagination(t *testing.T) {
	a := &fakeSearcher{name: "unsplash", images: searchImages("unsplash", 8)}
	b := &fakeSearcher{name: "pexels", images: searchImages("pexels", 5)}
	svc := newTestService(t, Config{}, enabled(a), enabled(b))

	result, err := svc.Search(context.Background(), imagevault.SearchRequest{Query: "sunset", Page: 1, PerPage: 10})
	require.NoError(t, err)

	assert.Equal(t, 13, result.TotalCount)
	assert.Len(t, result.Images, 10)
	assert.True(t, result.HasNext)
	assert.False(t, result.HasPrev)

	result, err = svc.Search(context.Background(), imagevault.SearchRequest{Query: "sunset", Page: 2, PerPage: 10})
	require.NoError(t, err)

	assert.Equal(t, 13, result.TotalCount)
	assert.Len(t, result.Images, 3)
	assert.False(t, result.HasNext)
	assert.True(t, result.HasPrev)
}

func TestSearchPageBeyondEnd(t *testing.T) {
	a := &fakeSearcher{name: "unsplash", images: searchImages("unsplash", 3)}
	svc := newTestService(t, Config{}, enabled(a))

	result, err := svc.Search(context.Background(), imagevault.SearchRequest{Query: "sunset", Page: 5, PerPage: 10})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalCount)
	assert.Empty(t, result.Images)
	assert.False(t, result.HasNext)
	assert.True(t, result.HasPrev)
}

func TestSearchEmptyQuery(t *testing.T) {
	svc := newTestService(t, Config{})

	_, err := svc.Search(context.Background(), imagevault.SearchRequest{Query: "   "})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSearchProviderAllowList(t *testing.T) {
	a := &fakeSearcher{name: "unsplash", images: searchImages("unsplash", 2)}
	b := &fakeSearcher{name: "pexels", images: searchImages("pexels", 2)}
	svc := newTestService(t, Config{}, enabled(a), enabled(b))

	result, err := svc.Search(context.Background(), imagevault.SearchRequest{
		Query:     "sunset",
		Providers: []string{"pexels"},
	})
	require.NoError(t, err)

	assert.Equal(t, int32(0), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Equal(t, map[string]int{"pexels": 2}, result.ProviderResults)
}

func TestSearchProviderDenyList(t *testing.T) {
	a := &fakeSearcher{name: "unsplash", images: searchImages("unsplash", 2)}
	b := &fakeSearcher{name: "pexels", images: searchImages("pexels", 2)}
	svc := newTestService(t, Config{}, enabled(a), enabled(b))

	result, err := svc.Search(context.Background(), imagevault.SearchRequest{
		Query:            "sunset",
		ExcludeProviders: []string{"unsplash"},
	})
	require.NoError(t, err)

	assert.Equal(t, int32(0), a.calls.Load())
	assert.Equal(t, map[string]int{"pexels": 2}, result.ProviderResults)
}

func TestSearchDefaultProviderOrdering(t *testing.T) {
	a := &fakeSearcher{name: "unsplash", images: searchImages("unsplash", 1)}
	b := &fakeSearcher{name: "pexels", images: searchImages("pexels", 1)}
	svc := newTestService(t, Config{DefaultProviders: []string{"pexels"}}, enabled(a), enabled(b))

	result, err := svc.Search(context.Background(), imagevault.SearchRequest{Query: "sunset"})
	require.NoError(t, err)

	assert.Equal(t, int32(0), a.calls.Load(), "providers outside the default preference are not fanned out")
	assert.Equal(t, map[string]int{"pexels": 1}, result.ProviderResults)
}

func TestSearchRateLimitedProviderContributesZero(t *testing.T) {
	searcher := &fakeSearcher{name: "unsplash", images: searchImages("unsplash", 3)}
	desc := &provider.Descriptor{
		Provider: searcher,
		Enabled:  true,
		Limiter:  provider.NewRateLimiter(1, time.Hour),
	}
	svc := newTestService(t, Config{}, desc)

	result, err := svc.Search(context.Background(), imagevault.SearchRequest{Query: "sunset"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalCount)

	// Window exhausted: the second distinct search sees a zero contribution.
	result, err = svc.Search(context.Background(), imagevault.SearchRequest{Query: "sunrise"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalCount)
	assert.Equal(t, map[string]int{"unsplash": 0}, result.ProviderResults)
	assert.Equal(t, int32(1), searcher.calls.Load())
}

func TestSearchResultCache(t *testing.T) {
	searcher := &fakeSearcher{name: "unsplash", images: searchImages("unsplash", 2)}
	svc := newTestService(t, Config{SearchCacheTTL: time.Minute}, enabled(searcher))

	req := imagevault.SearchRequest{Query: "sunset"}

	first, err := svc.Search(context.Background(), req)
	require.NoError(t, err)

	second, err := svc.Search(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), searcher.calls.Load(), "repeat search within the TTL must not fan out")
	assert.Equal(t, first.TotalCount, second.TotalCount)
}

func TestSearchCallersGetIndependentResults(t *testing.T) {
	searcher := &fakeSearcher{name: "unsplash", images: searchImages("unsplash", 3)}
	svc := newTestService(t, Config{SearchCacheTTL: time.Minute}, enabled(searcher))

	req := imagevault.SearchRequest{Query: "sunset"}

	first, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, first.Images, 3)

	// A caller scribbling on its copy must not leak into later callers.
	first.Images[0] = nil
	first.Images = first.Images[:1]
	first.TotalCount = 99
	first.ProviderResults["unsplash"] = 0

	second, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), searcher.calls.Load(), "second search should be served from the result cache")
	require.Len(t, second.Images, 3)
	require.NotNil(t, second.Images[0])
	assert.Equal(t, 3, second.TotalCount)
	assert.Equal(t, 3, second.ProviderResults["unsplash"])
}

func TestSearchMinWidthFilter(t *testing.T) {
	images := searchImages("unsplash", 2)
	images[0].Width = 640
	images[1].Width = 1920
	searcher := &fakeSearcher{name: "unsplash", images: images}
	svc := newTestService(t, Config{}, enabled(searcher))

	result, err := svc.Search(context.Background(), imagevault.SearchRequest{Query: "sunset", MinWidth: 1000})
	require.NoError(t, err)

	require.Len(t, result.Images, 1)
	assert.Equal(t, 1920, result.Images[0].Width)
}

func TestSearchCallerTimeoutLeavesFlightRunning(t *testing.T) {
	searcher := &fakeSearcher{
		name:   "unsplash",
		images: searchImages("unsplash", 1),
		delay:  100 * time.Millisecond,
	}
	svc := newTestService(t, Config{}, enabled(searcher))

	req := imagevault.SearchRequest{Query: "sunset", Page: 1, PerPage: 10}

	shortCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.Search(shortCtx, req)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}()

	// Let the first caller start the flight, then attach with a patient context.
	time.Sleep(20 * time.Millisecond)

	result, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalCount)
	assert.Equal(t, int32(1), searcher.calls.Load())

	wg.Wait()
}
