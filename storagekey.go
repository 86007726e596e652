package imagevault

import (
	"fmt"
	"path"
	"strings"
)

// Storage key layout.
//
// Image bytes live under a subtree per source type and provider, named by
// their content hash plus the original format extension:
//
//	generated/<provider>/<hash>.<ext>
//	web-search/<provider>/<hash>.<ext>
//	local-upload/<hash>.<ext>
//
// A parallel metadata subtree holds one JSON record per primary entry plus
// a references/ subtree for secondary records sharing the same bytes:
//
//	metadata/<hash>.json
//	metadata/references/<hash>_<imageID>.json
//
// The layout must remain stable across restarts: the in-memory index is
// rebuilt purely by scanning these subtrees.

const (
	metadataPrefix  = "metadata"
	referencePrefix = "metadata/references"
)

// ImageStorageKey returns the backend key for an image's bytes.
func ImageStorageKey(source SourceType, provider string, h Hash, format Format) string {
	name := h.String() + "." + format.Extension()
	if source == SourceLocalUpload || provider == "" {
		return path.Join(string(source), name)
	}
	return path.Join(string(source), provider, name)
}

// ParseImageStorageKey extracts the content hash and format from an image
// storage key. Files are always named by their hash, so the key's base name
// stem is the hex digest.
func ParseImageStorageKey(key string) (Hash, Format, error) {
	base := path.Base(key)
	stem, ext, ok := strings.Cut(base, ".")
	if !ok {
		return Hash{}, "", fmt.Errorf("image key %q has no extension", key)
	}
	format := FormatFromExtension(ext)
	if format == "" {
		return Hash{}, "", fmt.Errorf("image key %q has unsupported extension %q", key, ext)
	}
	h, err := ParseHash(stem)
	if err != nil {
		return Hash{}, "", fmt.Errorf("image key %q is not hash-named: %w", key, err)
	}
	return h, format, nil
}

// MetadataKey returns the backend key for the primary metadata record of a
// content hash.
func MetadataKey(h Hash) string {
	return path.Join(metadataPrefix, h.String()+".json")
}

// ReferenceKey returns the backend key for a secondary metadata record: a
// logical image whose bytes are already cached under another record's hash.
func ReferenceKey(h Hash, imageID string) string {
	return path.Join(referencePrefix, h.String()+"_"+imageID+".json")
}

// ReferenceKeyPrefix returns the key prefix shared by all reference records
// of a content hash.
func ReferenceKeyPrefix(h Hash) string {
	return path.Join(referencePrefix, h.String()+"_")
}

// ParseReferenceKey extracts the content hash and image ID from a reference
// record key.
func ParseReferenceKey(key string) (Hash, string, error) {
	base := strings.TrimSuffix(path.Base(key), ".json")
	stem, id, ok := strings.Cut(base, "_")
	if !ok {
		return Hash{}, "", fmt.Errorf("reference key %q missing image id", key)
	}
	h, err := ParseHash(stem)
	if err != nil {
		return Hash{}, "", fmt.Errorf("reference key %q is not hash-named: %w", key, err)
	}
	return h, id, nil
}
