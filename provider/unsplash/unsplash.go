// Package unsplash implements the search capability against the Unsplash
// photo API.
package unsplash

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
	Name = "unsplash"

	// DefaultBaseURL is the Unsplash API endpoint.
	DefaultBaseURL = "https://api.unsplash.com"

	// DefaultTimeout bounds upstream requests.
	DefaultTimeout = 15 * time.Second
)

// Provider searches Unsplash.
type Provider struct {
	accessKey string
	baseURL   string
	client    *http.Client
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

// New creates an Unsplash provider with the given access key.
func New(accessKey string, opts ...Option) *Provider {
	p := &Provider{
		accessKey: accessKey,
		baseURL:   DefaultBaseURL,
		client:    &http.Client{Timeout: DefaultTimeout},
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

	endpoint := p.baseURL + "/search/photos?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Client-ID "+p.accessKey)
	httpReq.Header.Set("Accept-Version", "v1")

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
	parsed.Get("results").ForEach(func(_, photo gjson.Result) bool {
		images = append(images, photoToRecord(photo))
		return true
	})

	return &provider.SearchResponse{
		Images: images,
		Total:  int(parsed.Get("total").Int()),
	}
}

func photoToRecord(photo gjson.Result) *imagevault.ImageRecord {
	description := photo.Get("description").String()
	if description == "" {
		description = photo.Get("alt_description").String()
	}

	var tags []imagevault.ImageTag
	var keywords []string
	photo.Get("tags").ForEach(func(_, tag gjson.Result) bool {
		title := tag.Get("title").String()
		if title == "" {
			return true
		}
		tags = append(tags, imagevault.ImageTag{Name: title, Confidence: 1.0, Origin: Name})
		keywords = append(keywords, title)
		return true
	})

	return &imagevault.ImageRecord{
		ID:          Name + "-" + photo.Get("id").String(),
		Title:       description,
		Description: description,
		AltText:     photo.Get("alt_description").String(),
		Tags:        tags,
		Keywords:    keywords,
		Width:       int(photo.Get("width").Int()),
		Height:      int(photo.Get("height").Int()),
		Format:      imagevault.FormatJPEG,
		Source:      imagevault.SourceWebSearch,
		Provider:    Name,
		SourceURL:   photo.Get("urls.regular").String(),
		License: &imagevault.LicenseInfo{
			Name:          "Unsplash License",
			URL:           "https://unsplash.com/license",
			Attribution:   photo.Get("user.name").String(),
			CommercialUse: true,
		},
	}
}

// HealthCheck implements provider.HealthChecker. A missing access key
// reports unhealthy without touching the network.
func (p *Provider) HealthCheck(ctx context.Context) provider.Status {
	if p.accessKey == "" {
		return provider.Status{Healthy: false, Detail: "access key not configured"}
	}
	return provider.Status{Healthy: true}
}

var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.Searcher      = (*Provider)(nil)
	_ provider.HealthChecker = (*Provider)(nil)
)
