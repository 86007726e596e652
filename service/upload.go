package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	imagevault "github.com/wolfeidau/image-vault"
	"github.com/wolfeidau/image-vault/provider"
	"github.com/wolfeidau/image-vault/telemetry"
)

// Upload validates the caller-declared metadata, hands the bytes to the
// store-capable provider for normalization and writes them through the
// cache. Validation failures are rejected before any provider or cache
// work happens.
func (s *Service) Upload(ctx context.Context, req imagevault.UploadRequest, data []byte) (*imagevault.ImageRecord, error) {
	if strings.TrimSpace(req.Filename) == "" {
		return nil, fmt.Errorf("missing filename: %w", ErrValidation)
	}
	if req.DeclaredSize > s.cfg.MaxUploadSize {
		return nil, fmt.Errorf("declared size %d exceeds limit %d: %w",
			req.DeclaredSize, s.cfg.MaxUploadSize, ErrValidation)
	}
	if int64(len(data)) > s.cfg.MaxUploadSize {
		return nil, fmt.Errorf("upload of %d bytes exceeds limit %d: %w",
			len(data), s.cfg.MaxUploadSize, ErrValidation)
	}

	ext := strings.TrimPrefix(filepath.Ext(req.Filename), ".")
	if !imagevault.FormatFromExtension(ext).Valid() {
		return nil, fmt.Errorf("unsupported format %q: %w", ext, ErrValidation)
	}

	desc, err := s.resolveOne(provider.CapabilityStore, "")
	if err != nil {
		return nil, err
	}

	storer := desc.Provider.(provider.Storer)

	rec, err := storer.Store(ctx, req, data)
	if err != nil {
		return nil, fmt.Errorf("store upload via %s: %w", desc.Name(), err)
	}

	rec.Source = imagevault.SourceLocalUpload

	wasNew := !s.cache.Contains(imagevault.HashBytes(data))
	if _, err := s.cache.Write(ctx, rec, data); err != nil {
		return nil, fmt.Errorf("persist upload: %w", err)
	}
	telemetry.RecordCacheWrite(ctx, string(rec.Source), int64(len(data)), wasNew)

	return rec, nil
}
