package boundary

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/territory-cli/internal/territory"
)

// resolveSource turns a dataset path into the path of a readable .shp file.
// path may name a .shp file, a directory containing one, or a .zip archive,
// which is extracted under tempDir. Anything else fails with ErrSourceMissing.
// The returned cleanup removes any extracted files and is never nil.
func resolveSource(path, tempDir string) (string, func(), error) {
	noop := func() {}
	if strings.TrimSpace(path) == "" {
		return "", noop, eris.Wrap(territory.ErrSourceMissing, "boundary: no dataset path given")
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", noop, eris.Wrapf(territory.ErrSourceMissing, "boundary: stat %s: %v", path, err)
	}

	if info.IsDir() {
		shpPath, err := findFileByExt(path, ".shp")
		if err != nil {
			return "", noop, eris.Wrapf(territory.ErrSourceMissing, "boundary: %v", err)
		}
		return shpPath, noop, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return path, noop, nil
	case ".zip":
		if tempDir == "" {
			tempDir = os.TempDir()
		}
		extractDir, err := os.MkdirTemp(tempDir, "boundaries-")
		if err != nil {
			return "", noop, eris.Wrap(err, "boundary: create extract dir")
		}
		cleanup := func() { _ = os.RemoveAll(extractDir) }
		if err := extractZIP(path, extractDir); err != nil {
			cleanup()
			return "", noop, eris.Wrapf(territory.ErrConversionFailed, "boundary: extract %s: %v", path, err)
		}
		shpPath, err := findFileByExt(extractDir, ".shp")
		if err != nil {
			cleanup()
			return "", noop, eris.Wrapf(territory.ErrSourceMissing, "boundary: %v", err)
		}
		return shpPath, cleanup, nil
	default:
		return "", noop, eris.Wrapf(territory.ErrSourceMissing, "boundary: %s is not a shapefile, directory, or zip archive", path)
	}
}

// extractZIP extracts a ZIP archive into destDir, flattening directories.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := extractEntry(f, filepath.Join(destDir, filepath.Base(f.Name))); err != nil {
			return err
		}
	}

	return nil
}

func extractEntry(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "open zip entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return eris.Wrapf(err, "create %s", destPath)
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return eris.Wrapf(err, "extract %s", f.Name)
	}
	return nil
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}
