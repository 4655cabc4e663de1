package scanner

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryNames(entries []Entry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	slices.Sort(names)
	return names
}

func TestWalker_List(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "001.jpg"), []byte("page-one"))
	writeFile(t, filepath.Join(dir, "Chapter 2", "001.jpg"), []byte("x"))
	writeFile(t, filepath.Join(dir, ".cover.jpg"), []byte("x"))
	writeFile(t, filepath.Join(dir, ".thumbs", "a.jpg"), []byte("x"))
	writeFile(t, filepath.Join(dir, "__MACOSX", "._001.jpg"), []byte("x"))

	entries, err := NewWalker(testLogger()).List(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"001.jpg", "Chapter 2"}, entryNames(entries))

	for _, e := range entries {
		assert.Equal(t, filepath.Join(dir, e.Name), e.Path)
		switch e.Name {
		case "001.jpg":
			assert.False(t, e.IsDir)
			assert.EqualValues(t, len("page-one"), e.Size)
		case "Chapter 2":
			assert.True(t, e.IsDir)
		}
	}
}

func TestWalker_ListEmpty(t *testing.T) {
	entries, err := NewWalker(testLogger()).List(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWalker_ListMissingDirectory(t *testing.T) {
	_, err := NewWalker(testLogger()).List(context.Background(), filepath.Join(t.TempDir(), "gone"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWalker_ListFollowsDirectorySymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(t.TempDir(), "Volume 1")
	writeFile(t, filepath.Join(target, "001.png"), []byte("x"))
	if err := os.Symlink(target, filepath.Join(dir, "Volume 1")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(dir, "nowhere"), filepath.Join(dir, "dangling")))

	entries, err := NewWalker(testLogger()).List(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, e.Name == "Volume 1", e.IsDir, e.Name)
	}
}

func TestWalker_ListCancelled(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"001.jpg", "002.jpg", "003.jpg"} {
		writeFile(t, filepath.Join(dir, name), []byte("x"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entries, err := NewWalker(testLogger()).List(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, entries)
}

func TestIsHidden(t *testing.T) {
	tests := map[string]bool{
		".DS_Store": true,
		".hidden":   true,
		"__MACOSX":  true,
		"Berserk":   false,
		"001.jpg":   false,
		"_extras":   false,
	}
	for name, want := range tests {
		assert.Equal(t, want, isHidden(name), name)
	}
}
