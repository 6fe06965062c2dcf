package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/pawsort/internal/models"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func touch(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestListImagesRecursive(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "b.jpg"), []byte("x"))
	touch(t, filepath.Join(root, "a.PNG"), []byte("x"))
	touch(t, filepath.Join(root, "notes.txt"), []byte("hello"))
	touch(t, filepath.Join(root, "sub", "c.webp"), []byte("x"))
	touch(t, filepath.Join(root, "sub", "deeper", "d.jpeg"), []byte("x"))
	touch(t, filepath.Join(root, "z", "e.jpg"), []byte("x"))
	touch(t, filepath.Join(root, "z", "noext"), pngHeader)

	var events []int
	got, err := New().ListImages(context.Background(), root, func(n int) { events = append(events, n) })
	require.NoError(t, err)

	want := []string{
		filepath.Join(root, "a.PNG"),
		filepath.Join(root, "b.jpg"),
		filepath.Join(root, "sub", "c.webp"),
		filepath.Join(root, "sub", "deeper", "d.jpeg"),
		filepath.Join(root, "z", "e.jpg"),
		filepath.Join(root, "z", "noext"),
	}
	assert.Equal(t, want, got)
	assert.Equal(t, []int{6}, events)
}

func TestListImagesWithoutSniffing(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "noext"), pngHeader)
	touch(t, filepath.Join(root, "a.jpg"), []byte("x"))
	got, err := New(WithContentSniffing(false)).ListImages(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.jpg")}, got)
}

func TestListImagesProgressEvery50(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 120; i++ {
		touch(t, filepath.Join(root, fmt.Sprintf("p%03d.jpg", i)), []byte("x"))
	}
	var events []int
	got, err := New().ListImages(context.Background(), root, func(n int) { events = append(events, n) })
	require.NoError(t, err)
	assert.Len(t, got, 120)
	assert.Equal(t, []int{50, 100, 120}, events)
}

func TestListImagesProgressNoDuplicateFinal(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 100; i++ {
		touch(t, filepath.Join(root, fmt.Sprintf("p%03d.jpg", i)), []byte("x"))
	}
	var events []int
	_, err := New().ListImages(context.Background(), root, func(n int) { events = append(events, n) })
	require.NoError(t, err)
	assert.Equal(t, []int{50, 100}, events)

	events = nil
	_, err = New().ListImages(context.Background(), t.TempDir(), func(n int) { events = append(events, n) })
	require.NoError(t, err)
	assert.Equal(t, []int{0}, events)
}

func TestListImagesSkipsUndecodableFormats(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "logo.svg"), []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="1" height="1"></svg>`))
	touch(t, filepath.Join(root, "scan.tif"), []byte{'I', 'I', 0x2a, 0x00, 0x08, 0, 0, 0, 0, 0, 0, 0})
	touch(t, filepath.Join(root, "anim.gif"), []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00"))
	touch(t, filepath.Join(root, "photo"), pngHeader)

	got, err := New().ListImages(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "anim.gif"), filepath.Join(root, "photo")}, got)
}

func TestListImagesErrors(t *testing.T) {
	_, err := New().ListImages(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	assert.Equal(t, models.KindValidation, models.KindOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New().ListImages(ctx, t.TempDir(), nil)
	assert.Equal(t, models.KindCancelled, models.KindOf(err))
}

func TestLoadReferences(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "rex", "1.jpg"), []byte("x"))
	touch(t, filepath.Join(root, "rex", "2.jpg"), []byte("x"))
	touch(t, filepath.Join(root, "rex", "nested", "3.jpg"), []byte("x"))
	touch(t, filepath.Join(root, "bella", "1.png"), []byte("x"))
	touch(t, filepath.Join(root, "empty", "readme.txt"), []byte("no photos"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "nothing"), 0755))
	touch(t, filepath.Join(root, "loose.jpg"), []byte("x"))
	touch(t, filepath.Join(root, "cafe\u0301", "1.jpg"), []byte("x"))

	got, err := New().LoadReferences(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "bella", got[0].ClassID)
	assert.Equal(t, "caf\u00e9", got[1].ClassID, "class IDs are NFC")
	assert.Equal(t, "rex", got[2].ClassID)
	assert.Len(t, got[2].Refs, 2, "references are not recursive")
}

func TestLoadReferencesMissingRoot(t *testing.T) {
	_, err := New().LoadReferences(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}

func TestIsImageExt(t *testing.T) {
	assert.True(t, IsImageExt("a.JPEG"))
	assert.True(t, IsImageExt("a.webp"))
	assert.False(t, IsImageExt("a.gif"))
	assert.False(t, IsImageExt("jpg"))
}
