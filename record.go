// Package imagevault defines the shared types of the image asset vault:
// content hashes, image records and the request/result shapes exchanged
// between providers, the cache and the orchestration service.
package imagevault

import (
	"strings"
	"time"
)

// SourceType classifies where an image's bytes came from.
type SourceType string

const (
	SourceGenerated   SourceType = "generated"
	SourceWebSearch   SourceType = "web-search"
	SourceLocalUpload SourceType = "local-upload"
)

// SourceTypes lists all known source types in storage-layout order.
func SourceTypes() []SourceType {
	return []SourceType{SourceGenerated, SourceWebSearch, SourceLocalUpload}
}

// Valid reports whether the source type is one of the known values.
func (s SourceType) Valid() bool {
	switch s {
	case SourceGenerated, SourceWebSearch, SourceLocalUpload:
		return true
	}
	return false
}

// Format identifies an image file format. The zero value is unknown.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatWebP Format = "webp"
	FormatSVG  Format = "svg"
	FormatBMP  Format = "bmp"
)

// formatExtensions maps each format to its canonical file extension.
var formatExtensions = map[Format]string{
	FormatJPEG: "jpg",
	FormatPNG:  "png",
	FormatGIF:  "gif",
	FormatWebP: "webp",
	FormatSVG:  "svg",
	FormatBMP:  "bmp",
}

// Extension returns the canonical file extension (without dot) for the
// format. Unknown formats fall back to "png" so a write never produces an
// extension-less file.
func (f Format) Extension() string {
	if ext, ok := formatExtensions[f]; ok {
		return ext
	}
	return "png"
}

// Valid reports whether the format is one of the supported image formats.
func (f Format) Valid() bool {
	_, ok := formatExtensions[f]
	return ok
}

// FormatFromExtension maps a file extension (with or without leading dot)
// to a Format. Returns the zero Format if the extension is not a supported
// image format.
func FormatFromExtension(ext string) Format {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch ext {
	case "jpg", "jpeg":
		return FormatJPEG
	case "png":
		return FormatPNG
	case "gif":
		return FormatGIF
	case "webp":
		return FormatWebP
	case "svg":
		return FormatSVG
	case "bmp":
		return FormatBMP
	}
	return ""
}

// ImageTag is a single descriptive tag attached to an image.
type ImageTag struct {
	Name       string  `json:"name"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence"`
	Origin     string  `json:"origin,omitempty"`
}

// LicenseInfo describes the usage terms attached to an image.
type LicenseInfo struct {
	Name          string `json:"name"`
	URL           string `json:"url,omitempty"`
	Attribution   string `json:"attribution,omitempty"`
	CommercialUse bool   `json:"commercial_use"`
}

// ImageRecord is the logical image a caller reasons about. Multiple
// records may reference the same content hash when identical bytes were
// produced or uploaded more than once.
type ImageRecord struct {
	ID          string     `json:"id"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	AltText     string     `json:"alt_text,omitempty"`
	Tags        []ImageTag `json:"tags,omitempty"`
	Keywords    []string   `json:"keywords,omitempty"`

	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Format   Format `json:"format,omitempty"`
	ByteSize int64  `json:"byte_size,omitempty"`

	Source   SourceType   `json:"source"`
	Provider string       `json:"provider,omitempty"`
	License  *LicenseInfo `json:"license,omitempty"`

	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// ContentHash links the record to its cached bytes. Zero until the
	// record has been written through the cache.
	ContentHash Hash `json:"content_hash,omitzero"`

	// FilePath is the local path of the cached bytes, when known.
	FilePath string `json:"file_path,omitempty"`

	// SourceURL is the remote location the bytes were fetched from, for
	// web-search results that have not been downloaded yet.
	SourceURL string `json:"source_url,omitempty"`
}

// SearchRequest describes one logical image search.
type SearchRequest struct {
	Query   string `json:"query"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`

	// Providers restricts the fan-out to the named providers. Empty means
	// all enabled search providers.
	Providers []string `json:"providers,omitempty"`

	// ExcludeProviders removes the named providers from the fan-out.
	ExcludeProviders []string `json:"exclude_providers,omitempty"`

	MinWidth  int    `json:"min_width,omitempty"`
	MinHeight int    `json:"min_height,omitempty"`
	License   string `json:"license,omitempty"`
}

const (
	// DefaultPerPage is the page size used when a request does not set one.
	DefaultPerPage = 20

	// MaxPerPage caps the page size a caller may request.
	MaxPerPage = 100
)

// Normalize clamps paging values into their valid ranges.
func (r *SearchRequest) Normalize() {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PerPage < 1 {
		r.PerPage = DefaultPerPage
	}
	if r.PerPage > MaxPerPage {
		r.PerPage = MaxPerPage
	}
}

// SearchResult is one page of a globally ranked search.
type SearchResult struct {
	Images     []*ImageRecord `json:"images"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	PerPage    int            `json:"per_page"`
	HasNext    bool           `json:"has_next"`
	HasPrev    bool           `json:"has_prev"`
	Elapsed    time.Duration  `json:"elapsed"`

	// ProviderResults records how many results each fanned-out provider
	// contributed; failed providers appear with a zero count so callers
	// can tell "no matches" from "no providers responded".
	ProviderResults map[string]int `json:"provider_results"`
}

// GenerateRequest asks a single generation-capable provider for an image.
type GenerateRequest struct {
	Prompt   string `json:"prompt"`
	Provider string `json:"provider"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Style    string `json:"style,omitempty"`
}

// UploadRequest carries the caller-declared metadata for an upload.
type UploadRequest struct {
	Filename     string     `json:"filename"`
	Title        string     `json:"title,omitempty"`
	Description  string     `json:"description,omitempty"`
	AltText      string     `json:"alt_text,omitempty"`
	Tags         []ImageTag `json:"tags,omitempty"`
	Keywords     []string   `json:"keywords,omitempty"`
	DeclaredSize int64      `json:"declared_size,omitempty"`
}
