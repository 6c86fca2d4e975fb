package boundary

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/territory-cli/internal/territory"
)

// zipDir writes every file in dir into a new archive at zipPath.
func zipDir(t *testing.T, dir, zipPath string) {
	t.Helper()
	out, err := os.Create(zipPath)
	require.NoError(t, err)
	defer out.Close() //nolint:errcheck

	zw := zip.NewWriter(out)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		f, err := os.Open(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		w, err := zw.Create("tl_test_cbsa/" + e.Name())
		require.NoError(t, err)
		_, err = io.Copy(w, f)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	require.NoError(t, zw.Close())
}

func TestResolveSource_ShpFile(t *testing.T) {
	path := writeShapefile(t, t.TempDir(), sampleFixtures())
	got, cleanup, err := resolveSource(path, "")
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, path, got)
}

func TestResolveSource_Directory(t *testing.T) {
	dir := t.TempDir()
	path := writeShapefile(t, dir, sampleFixtures())
	got, cleanup, err := resolveSource(dir, "")
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, path, got)
}

func TestResolveSource_Zip(t *testing.T) {
	src := t.TempDir()
	writeShapefile(t, src, sampleFixtures())
	zipPath := filepath.Join(t.TempDir(), "tl_2024_us_cbsa.zip")
	zipDir(t, src, zipPath)

	got, cleanup, err := resolveSource(zipPath, t.TempDir())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, ".shp"))

	boundaries, _, err := ParseShapefile(got)
	require.NoError(t, err)
	assert.Len(t, boundaries, 2)

	cleanup()
	_, err = os.Stat(got)
	assert.True(t, os.IsNotExist(err), "extracted files must be removed")
}

func TestResolveSource_Missing(t *testing.T) {
	_, _, err := resolveSource(filepath.Join(t.TempDir(), "missing.shp"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, territory.ErrSourceMissing)
}

func TestResolveSource_EmptyPath(t *testing.T) {
	_, _, err := resolveSource("  ", "")
	assert.ErrorIs(t, err, territory.ErrSourceMissing)
}

func TestResolveSource_DirectoryWithoutShapefile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))
	_, _, err := resolveSource(dir, "")
	assert.ErrorIs(t, err, territory.ErrSourceMissing)
}

func TestResolveSource_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cbsa.geojson")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	_, _, err := resolveSource(path, "")
	assert.ErrorIs(t, err, territory.ErrSourceMissing)
}

func TestResolveSource_CorruptZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cbsa.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	_, _, err := resolveSource(path, t.TempDir())
	assert.ErrorIs(t, err, territory.ErrConversionFailed)
}
