package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestDiscoverFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.png"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "sub", "b.MP4"))
	touch(t, filepath.Join(dir, "skip", "c.png"))
	touch(t, filepath.Join(dir, ".hidden", "d.png"))
	single := filepath.Join(t.TempDir(), "e.jpg")
	touch(t, single)

	accept := func(name string) bool {
		c := CategoryOf(name)
		return c == CategoryImage || c == CategoryVideo
	}
	files, err := DiscoverFiles([]string{dir, single}, []string{`/skip$`}, accept)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f.Path))
		assert.True(t, filepath.IsAbs(f.Path))
	}
	assert.ElementsMatch(t, []string{"a.png", "b.MP4", "e.jpg"}, names)

	for _, f := range files {
		if strings.HasSuffix(f.Path, "b.MP4") {
			assert.Equal(t, "video/mp4", f.MimeType)
			assert.Equal(t, int64(1), f.Size)
		}
	}
}

func TestDiscoverFiles_Errors(t *testing.T) {
	_, err := DiscoverFiles([]string{t.TempDir()}, []string{"("}, nil)
	assert.Error(t, err)

	_, err = DiscoverFiles([]string{filepath.Join(t.TempDir(), "missing")}, nil, nil)
	assert.Error(t, err)
}

func TestCategoryAndIcon(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		icon     string
	}{
		{"x.JPG", CategoryImage, "🖼️"},
		{"x.webm", CategoryVideo, "🎬"},
		{"x.pdf", CategoryDocument, "📄"},
		{"x.zip", CategoryOther, "📁"},
		{"noext", CategoryOther, "📁"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.category, CategoryOf(tt.name), tt.name)
		assert.Equal(t, tt.icon, Icon(tt.name), tt.name)
	}
}
