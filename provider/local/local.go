// Package local implements the store capability for user uploads. It
// normalizes caller-declared metadata into an image record; validation
// and persistence belong to the orchestration service.
package local

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	imagevault "github.com/wolfeidau/image-vault"
	"github.com/wolfeidau/image-vault/provider"
	"github.com/wolfeidau/image-vault/rank"
)

// Name is the provider's registry identity.
const Name = "local"

// Provider accepts user uploads.
type Provider struct{}

// New creates a local upload provider.
func New() *Provider {
	return &Provider{}
}

// Name implements provider.Provider.
func (p *Provider) Name() string {
	return Name
}

// Store implements provider.Storer. It assigns an identity and derives a
// record from the declared metadata; the bytes pass through untouched.
func (p *Provider) Store(ctx context.Context, req imagevault.UploadRequest, data []byte) (*imagevault.ImageRecord, error) {
	format := imagevault.FormatFromExtension(filepath.Ext(req.Filename))
	if format == "" {
		return nil, fmt.Errorf("unsupported file extension %q", filepath.Ext(req.Filename))
	}

	title := req.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(req.Filename), filepath.Ext(req.Filename))
	}

	keywords := req.Keywords
	if len(keywords) == 0 {
		keywords = rank.UniqueKeywords(title + " " + req.Description)
	}

	now := time.Now()
	return &imagevault.ImageRecord{
		ID:          uuid.NewString(),
		Title:       title,
		Description: req.Description,
		AltText:     req.AltText,
		Tags:        req.Tags,
		Keywords:    keywords,
		Format:      format,
		ByteSize:    int64(len(data)),
		Source:      imagevault.SourceLocalUpload,
		Provider:    Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// HealthCheck implements provider.HealthChecker; uploads need no
// credentials or network, so the provider is always healthy.
func (p *Provider) HealthCheck(ctx context.Context) provider.Status {
	return provider.Status{Healthy: true}
}

var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.Storer        = (*Provider)(nil)
	_ provider.HealthChecker = (*Provider)(nil)
)
