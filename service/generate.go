package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	imagevault "github.com/wolfeidau/image-vault"
	"github.com/wolfeidau/image-vault/provider"
	"github.com/wolfeidau/image-vault/telemetry"
)

// Generate resolves exactly one generation-capable provider and writes
// the generated bytes through the cache before returning, so every
// returned record is already durable and deduplicated.
func (s *Service) Generate(ctx context.Context, req imagevault.GenerateRequest) (*imagevault.ImageRecord, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("empty prompt: %w", ErrValidation)
	}

	desc, err := s.resolveOne(provider.CapabilityGenerate, req.Provider)
	if err != nil {
		return nil, err
	}

	if err := desc.Allow(); err != nil {
		telemetry.RecordRateLimited(ctx, desc.Name())
		return nil, fmt.Errorf("provider %s: %w", desc.Name(), err)
	}

	gen := desc.Provider.(provider.Generator)

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()

	start := time.Now()
	res, err := gen.Generate(gctx, req)
	if err != nil {
		return nil, fmt.Errorf("generate via %s: %w", desc.Name(), err)
	}

	s.logger.Debug("image generated",
		"provider", desc.Name(),
		"bytes", len(res.Data),
		"elapsed", time.Since(start))

	rec := res.Record
	rec.Source = imagevault.SourceGenerated
	rec.Provider = desc.Name()

	wasNew := !s.cache.Contains(imagevault.HashBytes(res.Data))
	if _, err := s.cache.Write(ctx, rec, res.Data); err != nil {
		return nil, fmt.Errorf("persist generated image: %w", err)
	}
	telemetry.RecordCacheWrite(ctx, string(rec.Source), int64(len(res.Data)), wasNew)

	return rec, nil
}

// resolveOne finds the single provider to route a request to: the named
// provider when the request sets one, otherwise the first enabled provider
// with the capability.
func (s *Service) resolveOne(cap provider.Capability, name string) (*provider.Descriptor, error) {
	if name != "" {
		desc, err := s.registry.ByIdentity(name)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, ErrProviderNotFound)
		}
		if !desc.Enabled || !hasCap(desc, cap) {
			return nil, fmt.Errorf("provider %q lacks %s capability: %w", name, cap, ErrProviderNotFound)
		}
		return desc, nil
	}

	descs := s.registry.ByCapability(cap, true)
	if len(descs) == 0 {
		return nil, fmt.Errorf("no enabled %s provider: %w", cap, ErrProviderNotFound)
	}
	return descs[0], nil
}

func hasCap(d *provider.Descriptor, cap provider.Capability) bool {
	for _, c := range d.Capabilities() {
		if c == cap {
			return true
		}
	}
	return false
}
