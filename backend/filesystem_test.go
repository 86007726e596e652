package backend

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	fs, err := NewFilesystem(filepath.Join(t.TempDir(), "vault"))
	require.NoError(t, err)
	return fs
}

func TestNewFilesystem(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vault")

	fs, err := NewFilesystem(root)
	require.NoError(t, err)
	require.Equal(t, root, fs.Root())

	info, err := os.Stat(root)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestFilesystemWriteRead(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	key := "web-search/unsplash/abc.png"
	data := []byte("not really a png")

	err := fs.Write(ctx, key, bytes.NewReader(data))
	require.NoError(t, err)

	rc, err := fs.Read(ctx, key)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFilesystemReadNotFound(t *testing.T) {
	fs := newTestFilesystem(t)

	_, err := fs.Read(context.Background(), "missing/key.png")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemStat(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	_, err := fs.Stat(ctx, "missing.png")
	require.ErrorIs(t, err, ErrNotFound)

	err = fs.Write(ctx, "generated/openai/img.png", bytes.NewReader([]byte("12345")))
	require.NoError(t, err)

	info, err := fs.Stat(ctx, "generated/openai/img.png")
	require.NoError(t, err)
	require.Equal(t, int64(5), info.Size)
	require.False(t, info.ModTime.IsZero())
}

func TestFilesystemDelete(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	key := "local-upload/img.jpg"
	require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte("data"))))
	require.NoError(t, fs.Delete(ctx, key))

	exists, err := fs.Exists(ctx, key)
	require.NoError(t, err)
	require.False(t, exists)

	// Deleting a missing key is not an error.
	require.NoError(t, fs.Delete(ctx, key))
}

func TestFilesystemList(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	keys := []string{
		"generated/openai/a.png",
		"generated/openai/b.png",
		"web-search/unsplash/c.jpg",
		"metadata/a.json",
	}
	for _, key := range keys {
		require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte(key))))
	}

	got, err := fs.List(ctx, "generated")
	require.NoError(t, err)
	sort.Strings(got)
	require.Equal(t, []string{"generated/openai/a.png", "generated/openai/b.png"}, got)

	// Unknown prefix returns no keys, no error.
	got, err = fs.List(ctx, "nope")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestFilesystemListSkipsTempFiles(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "generated/a.png", bytes.NewReader([]byte("x"))))

	// Simulate a crashed atomic write.
	tmpPath := filepath.Join(fs.Root(), "generated", ".tmp-12345")
	require.NoError(t, os.WriteFile(tmpPath, []byte("partial"), 0644))

	got, err := fs.List(ctx, "generated")
	require.NoError(t, err)
	require.Equal(t, []string{"generated/a.png"}, got)
}

func TestFilesystemAtomicOverwrite(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	key := "local-upload/img.png"
	require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte("one"))))
	require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte("two"))))

	rc, err := fs.Read(ctx, key)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, []byte("two"), got)
}
