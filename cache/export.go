package cache

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"
	imagevault "github.com/wolfeidau/image-vault"
)

// Export streams the entire cache (image bytes plus metadata records) as
// a zstd-compressed tar archive for backup or migration. Entries are
// written in listing order; the archive holds backend keys as member
// names so Import can restore the exact layout.
func (c *Cache) Export(ctx context.Context, w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	prefixes := make([]string, 0, len(imagevault.SourceTypes())+1)
	for _, source := range imagevault.SourceTypes() {
		prefixes = append(prefixes, string(source))
	}
	prefixes = append(prefixes, "metadata")

	for _, prefix := range prefixes {
		keys, err := c.fs.List(ctx, prefix)
		if err != nil {
			return fmt.Errorf("listing %s subtree: %w", prefix, err)
		}
		for _, key := range keys {
			if err := c.exportKey(ctx, tw, key); err != nil {
				return err
			}
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing compressor: %w", err)
	}
	return nil
}

func (c *Cache) exportKey(ctx context.Context, tw *tar.Writer, key string) error {
	info, err := c.fs.Stat(ctx, key)
	if err != nil {
		return fmt.Errorf("stat %s: %w", key, err)
	}

	rc, err := c.fs.Read(ctx, key)
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()

	hdr := &tar.Header{
		Name:    key,
		Mode:    0644,
		Size:    info.Size,
		ModTime: info.ModTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing archive header for %s: %w", key, err)
	}
	if _, err := io.Copy(tw, rc); err != nil {
		return fmt.Errorf("archiving %s: %w", key, err)
	}
	return nil
}

// Import restores entries from an archive produced by Export. The import
// is idempotent by content hash: image files whose hash is already live
// are skipped, and metadata records never overwrite existing ones. The
// index is rebuilt afterwards. Returns the number of image files
// imported.
func (c *Cache) Import(ctx context.Context, r io.Reader) (int, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	imported := 0

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		key := hdr.Name
		if !safeArchiveKey(key) {
			return imported, fmt.Errorf("archive member %q escapes the vault root", key)
		}
		if h, _, err := imagevault.ParseImageStorageKey(key); err == nil {
			if c.Contains(h) {
				continue
			}
			if err := c.fs.Write(ctx, key, tr); err != nil {
				return imported, fmt.Errorf("restoring %s: %w", key, err)
			}
			imported++
			continue
		}

		if !strings.HasPrefix(key, "metadata/") {
			return imported, fmt.Errorf("archive member %q is not a vault key", key)
		}

		// Metadata records restore only when absent, so local edits win
		// over the archived copy.
		exists, err := c.fs.Exists(ctx, key)
		if err != nil {
			return imported, fmt.Errorf("checking %s: %w", key, err)
		}
		if exists {
			continue
		}
		if err := c.fs.Write(ctx, key, tr); err != nil {
			return imported, fmt.Errorf("restoring %s: %w", key, err)
		}
	}

	if _, err := c.RebuildIndex(ctx); err != nil {
		return imported, fmt.Errorf("rebuilding index after import: %w", err)
	}
	return imported, nil
}

// safeArchiveKey reports whether an archive member name can be used as a
// backend key without escaping the vault root. Member names come from the
// archive, not from us, so anything absolute, unclean, or dot-dot relative
// is rejected before it reaches the backend.
func safeArchiveKey(key string) bool {
	if key == "" || path.IsAbs(key) || strings.ContainsRune(key, '\\') {
		return false
	}
	if key != path.Clean(key) {
		return false
	}
	return key != ".." && !strings.HasPrefix(key, "../")
}
