package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// touch creates an empty file under root, with parent directories.
func touch(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
}

func TestInstanceSearch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "raw/v0000001_fg/c01.fits")
	p := NewPosix(root)

	t.Run("existing file", func(t *testing.T) {
		got := p.InstanceSearch("raw/v0000001_fg/c01.fits")
		assert.Equal(t, []string{"raw/v0000001_fg/c01.fits"}, got)
	})

	t.Run("missing file", func(t *testing.T) {
		assert.Nil(t, p.InstanceSearch("raw/v0000002_fr/c01.fits"))
	})

	t.Run("HDU designator is stripped for the probe and kept in the result", func(t *testing.T) {
		got := p.InstanceSearch("raw/v0000001_fg/c01.fits[1]")
		assert.Equal(t, []string{"raw/v0000001_fg/c01.fits[1]"}, got)
	})

	t.Run("compressed sibling is not found implicitly", func(t *testing.T) {
		touch(t, root, "calexp/v1.fits.gz")
		assert.Nil(t, p.InstanceSearch("calexp/v1.fits"), "the caller decides which extensions to probe")
		assert.NotNil(t, p.InstanceSearch("calexp/v1.fits.gz"))
	})
}

func TestCopyFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "calexp/v1.fits")
	p := NewPosix(root)

	require.NoError(t, p.CopyFile("calexp/v1.fits", "backup/calexp/v1.fits~1"))

	data, err := os.ReadFile(filepath.Join(root, "backup/calexp/v1.fits~1"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	err = p.CopyFile("missing.fits", "anywhere.fits")
	require.Error(t, err)
}

func TestSplitHDU(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path     string
		wantFile string
		wantHDU  string
	}{
		{"a/b.fits", "a/b.fits", ""},
		{"a/b.fits[1]", "a/b.fits", "[1]"},
		{"a/b.fits[FLUX]", "a/b.fits", "[FLUX]"},
		{"[weird", "[weird", ""},
	}

	for _, tt := range tests {
		file, hdu := splitHDU(tt.path)
		assert.Equal(t, tt.wantFile, file, tt.path)
		assert.Equal(t, tt.wantHDU, hdu, tt.path)
	}
}
