// Package pexels implements the search capability against the Pexels
// photo API.
package pexels

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	imagevault "github.com/wolfeidau/image-vault"
	"github.com/wolfeidau/image-vault/provider"
)

const (
	// Name is the provider's registry identity.
	Name = "pexels"

	// DefaultBaseURL is the Pexels API endpoint.
	DefaultBaseURL = "https://api.pexels.com"

	// DefaultTimeout bounds upstream requests.
	DefaultTimeout = 15 * time.Second
)

// Provider searches Pexels.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// New creates a Pexels provider with the given API key.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements provider.Provider.
func (p *Provider) Name() string {
	return Name
}

// Search implements provider.Searcher.
func (p *Provider) Search(ctx context.Context, req imagevault.SearchRequest) (*provider.SearchResponse, error) {
	q := url.Values{}
	q.Set("query", req.Query)
	q.Set("page", strconv.Itoa(req.Page))
	q.Set("per_page", strconv.Itoa(req.PerPage))

	endpoint := p.baseURL + "/v1/search?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, provider.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return parseSearchResponse(body), nil
}

func parseSearchResponse(body []byte) *provider.SearchResponse {
	parsed := gjson.ParseBytes(body)

	var images []*imagevault.ImageRecord
	parsed.Get("photos").ForEach(func(_, photo gjson.Result) bool {
		alt := photo.Get("alt").String()
		images = append(images, &imagevault.ImageRecord{
			ID:          Name + "-" + photo.Get("id").String(),
			Title:       alt,
			Description: alt,
			AltText:     alt,
			Width:       int(photo.Get("width").Int()),
			Height:      int(photo.Get("height").Int()),
			Format:      imagevault.FormatJPEG,
			Source:      imagevault.SourceWebSearch,
			Provider:    Name,
			SourceURL:   photo.Get("src.large").String(),
			License: &imagevault.LicenseInfo{
				Name:          "Pexels License",
				URL:           "https://www.pexels.com/license/",
				Attribution:   photo.Get("photographer").String(),
				CommercialUse: true,
			},
		})
		return true
	})

	return &provider.SearchResponse{
		Images: images,
		Total:  int(parsed.Get("total_results").Int()),
	}
}

// HealthCheck implements provider.HealthChecker.
func (p *Provider) HealthCheck(ctx context.Context) provider.Status {
	if p.apiKey == "" {
		return provider.Status{Healthy: false, Detail: "api key not configured"}
	}
	return provider.Status{Healthy: true}
}

var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.Searcher      = (*Provider)(nil)
	_ provider.HealthChecker = (*Provider)(nil)
)
