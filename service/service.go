// Package service orchestrates image acquisition across registered
// providers: it coalesces identical in-flight searches, fans searches out
// to every enabled search provider concurrently, merges and ranks the
// union, and routes generation and upload requests to a single matching
// provider while writing the resulting bytes through the content cache.
package service

import (
	"errors"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/wolfeidau/image-vault/cache"
	"github.com/wolfeidau/image-vault/provider"
	"github.com/wolfeidau/image-vault/rank"
)

var (
	// ErrValidation indicates a request was rejected before any provider
	// or cache work happened.
	ErrValidation = errors.New("validation failed")

	// ErrProviderNotFound indicates no registered provider matches the
	// request's provider identity and capability.
	ErrProviderNotFound = errors.New("no matching provider")
)

// Config holds the service's tunables.
type Config struct {
	// ProviderTimeout bounds each provider call during fan-out. A provider
	// that exceeds it contributes zero results (default: 10s).
	ProviderTimeout time.Duration

	// GenerateTimeout bounds a single generation call, which runs far
	// longer than a search (default: 2m).
	GenerateTimeout time.Duration

	// MaxUploadSize is the largest declared upload size accepted
	// (default: 25 MiB).
	MaxUploadSize int64

	// DefaultProviders is the preference ordering used when a search
	// request does not name providers explicitly. Empty means all enabled
	// search providers in registration order.
	DefaultProviders []string

	// SearchCacheTTL keeps settled search results around so identical
	// searches within the window skip the fan-out entirely. Zero disables
	// the result cache.
	SearchCacheTTL time.Duration
}

func (c *Config) setDefaults() {
	if c.ProviderTimeout == 0 {
		c.ProviderTimeout = 10 * time.Second
	}
	if c.GenerateTimeout == 0 {
		c.GenerateTimeout = 2 * time.Minute
	}
	if c.MaxUploadSize == 0 {
		c.MaxUploadSize = 25 << 20
	}
}

// Service is the caller-facing entry point.
type Service struct {
	cfg      Config
	cache    *cache.Cache
	registry *provider.Registry
	ranker   *rank.Engine
	logger   *slog.Logger

	group   singleflight.Group
	results *gocache.Cache
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRanker replaces the default ranking engine.
func WithRanker(ranker *rank.Engine) Option {
	return func(s *Service) {
		s.ranker = ranker
	}
}

// New creates a Service over the given cache and provider registry.
func New(c *cache.Cache, registry *provider.Registry, cfg Config, opts ...Option) *Service {
	cfg.setDefaults()

	s := &Service{
		cfg:      cfg,
		cache:    c,
		registry: registry,
		ranker:   rank.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.SearchCacheTTL > 0 {
		s.results = gocache.New(cfg.SearchCacheTTL, 2*cfg.SearchCacheTTL)
	}

	return s
}
