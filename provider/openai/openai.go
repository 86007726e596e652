// Package openai implements the image-generation capability against the
// OpenAI images API.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	imagevault "github.com/wolfeidau/image-vault"
	"github.com/wolfeidau/image-vault/provider"
	"github.com/wolfeidau/image-vault/rank"
)

const (
	// Name is the provider's registry identity.
	Name = "openai"

	// DefaultBaseURL is the OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com"

	// DefaultModel is the image model used when none is configured.
	DefaultModel = "dall-e-3"

	// DefaultTimeout bounds generation requests; image generation is
	// slow compared to search.
	DefaultTimeout = 120 * time.Second
)

// supportedSizes are the generation sizes the API accepts, in preference
// order for dimension matching.
var supportedSizes = []struct {
	w, h int
}{
	{1024, 1024},
	{1792, 1024},
	{1024, 1792},
	{512, 512},
	{256, 256},
}

// Provider generates images via the OpenAI API.
type Provider struct {
	apiKey  string
	baseURL string
	model   string
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

// WithModel overrides the image model.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// New creates an OpenAI generation provider with the given API key.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
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

type generateRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
	Style          string `json:"style,omitempty"`
}

// Generate implements provider.Generator. The returned bytes are the
// decoded image payload; persistence is the caller's responsibility.
func (p *Provider) Generate(ctx context.Context, req imagevault.GenerateRequest) (*provider.GenerateResult, error) {
	width, height := matchSize(req.Width, req.Height)

	payload, err := json.Marshal(generateRequest{
		Model:          p.model,
		Prompt:         req.Prompt,
		N:              1,
		Size:           fmt.Sprintf("%dx%d", width, height),
		ResponseFormat: "b64_json",
		Style:          req.Style,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

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

	encoded := gjson.GetBytes(body, "data.0.b64_json").String()
	if encoded == "" {
		return nil, fmt.Errorf("response contains no image payload")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding image payload: %w", err)
	}

	revisedPrompt := gjson.GetBytes(body, "data.0.revised_prompt").String()
	description := revisedPrompt
	if description == "" {
		description = req.Prompt
	}

	now := time.Now()
	record := &imagevault.ImageRecord{
		ID:          uuid.NewString(),
		Title:       truncate(req.Prompt, 80),
		Description: description,
		AltText:     description,
		Keywords:    rank.UniqueKeywords(req.Prompt),
		Width:       width,
		Height:      height,
		Format:      imagevault.FormatPNG,
		ByteSize:    int64(len(data)),
		Source:      imagevault.SourceGenerated,
		Provider:    Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	return &provider.GenerateResult{Record: record, Data: data}, nil
}

// matchSize maps requested dimensions onto the closest supported
// generation size. Unset dimensions default to the square base size.
func matchSize(width, height int) (int, int) {
	if width <= 0 || height <= 0 {
		return supportedSizes[0].w, supportedSizes[0].h
	}

	best := supportedSizes[0]
	bestDiff := -1
	for _, size := range supportedSizes {
		diff := abs(size.w-width) + abs(size.h-height)
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = size, diff
		}
	}
	return best.w, best.h
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
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
	_ provider.Generator     = (*Provider)(nil)
	_ provider.HealthChecker = (*Provider)(nil)
)
