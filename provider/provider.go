// Package provider defines the capability contracts image providers
// implement and the registry the orchestration service resolves them
// through. A provider may implement search, generate, store, or any
// combination; the registry stores typed handles per capability.
package provider

import (
	"context"
	"errors"

	imagevault "github.com/wolfeidau/image-vault"
)

// Capability identifies one of the provider capabilities.
type Capability string

const (
	CapabilitySearch   Capability = "search"
	CapabilityGenerate Capability = "generate"
	CapabilityStore    Capability = "store"
)

var (
	// ErrNotFound is returned when no provider matches an identity or
	// capability lookup.
	ErrNotFound = errors.New("provider not found")

	// ErrRateLimited is returned when a provider's sliding window is
	// exhausted.
	ErrRateLimited = errors.New("provider rate limited")
)

// SearchResponse is one provider's contribution to a fanned-out search.
type SearchResponse struct {
	Images []*imagevault.ImageRecord
	Total  int
}

// Searcher is the search capability.
type Searcher interface {
	Search(ctx context.Context, req imagevault.SearchRequest) (*SearchResponse, error)
}

// GenerateResult carries a generated record together with its bytes, so
// the service can write them through the cache before the caller sees the
// record.
type GenerateResult struct {
	Record *imagevault.ImageRecord
	Data   []byte
}

// Generator is the image-generation capability.
type Generator interface {
	Generate(ctx context.Context, req imagevault.GenerateRequest) (*GenerateResult, error)
}

// Storer is the upload/store capability. Implementations normalize the
// caller-declared metadata into an ImageRecord; persistence is the
// service's job.
type Storer interface {
	Store(ctx context.Context, req imagevault.UploadRequest, data []byte) (*imagevault.ImageRecord, error)
}

// Status reports the outcome of a provider health check.
type Status struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// HealthChecker is a lightweight per-provider check: credential presence
// plus an optional reachability probe. Providers without one are assumed
// healthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Status
}

// Provider is the identity every capability implementation carries.
type Provider interface {
	// Name is the provider's registry identity.
	Name() string
}

// Descriptor couples a provider with its registry state: capability set,
// enabled flag and rate-limit window.
type Descriptor struct {
	Provider Provider

	// Enabled providers participate in lookups by default; disabled
	// providers stay registered so they can be re-enabled when their
	// configuration heals.
	Enabled bool

	// Limiter is the provider-local sliding-window rate limit. Nil means
	// unlimited.
	Limiter *RateLimiter
}

// Name returns the provider's registry identity.
func (d *Descriptor) Name() string {
	return d.Provider.Name()
}

// Capabilities derives the capability set from the interfaces the provider
// implements.
func (d *Descriptor) Capabilities() []Capability {
	var caps []Capability
	if _, ok := d.Provider.(Searcher); ok {
		caps = append(caps, CapabilitySearch)
	}
	if _, ok := d.Provider.(Generator); ok {
		caps = append(caps, CapabilityGenerate)
	}
	if _, ok := d.Provider.(Storer); ok {
		caps = append(caps, CapabilityStore)
	}
	return caps
}

// Allow consults the descriptor's rate limiter, admitting the call or
// returning ErrRateLimited. Descriptors without a limiter always admit.
func (d *Descriptor) Allow() error {
	if d.Limiter == nil {
		return nil
	}
	return d.Limiter.Allow()
}
