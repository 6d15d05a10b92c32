package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrCorruptZip = errors.New("corrupt zip")

// Validate opens the archive and reads every entry to the end so that CRC
// mismatches surface.
func Validate(zipPath string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptZip, filepath.Base(zipPath), err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("%w: %s: %s: %v", ErrCorruptZip, filepath.Base(zipPath), f.Name, err)
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("%w: %s: %s: %v", ErrCorruptZip, filepath.Base(zipPath), f.Name, err)
		}
	}
	return nil
}

// Stem returns the file name without directory or extension.
func Stem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Extract unpacks zipPath into outDir, or into a sibling directory named after
// the archive when outDir is empty. Returns the output directory.
func Extract(zipPath, outDir string) (string, error) {
	if outDir == "" {
		outDir = filepath.Join(filepath.Dir(zipPath), Stem(zipPath))
	}

	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return outDir, fmt.Errorf("%w: %s: %v", ErrCorruptZip, filepath.Base(zipPath), err)
	}
	defer zr.Close()

	root := filepath.Clean(outDir)
	for _, f := range zr.File {
		target := filepath.Join(root, f.Name)
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return outDir, fmt.Errorf("%w: %s: illegal path %q", ErrCorruptZip, filepath.Base(zipPath), f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return outDir, err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return outDir, err
		}
	}
	return outDir, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptZip, f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("%w: %s: %v", ErrCorruptZip, f.Name, err)
	}
	return out.Close()
}

// ExtractAll extracts each archive into baseDir/<stem> (or next to the archive
// when baseDir is empty). Archives that fail are logged and skipped.
func ExtractAll(zipPaths []string, baseDir string, logger *slog.Logger) []string {
	var extracted []string
	for _, zp := range zipPaths {
		base := baseDir
		if base == "" {
			base = filepath.Dir(zp)
		}
		out, err := Extract(zp, filepath.Join(base, Stem(zp)))
		if err != nil {
			logger.Error("extract failed", "zip", filepath.Base(zp), "error", err)
			continue
		}
		logger.Info("zip extracted", "zip", filepath.Base(zp), "dir", out)
		extracted = append(extracted, out)
	}
	return extracted
}

// ZipPaths lists the .zip files (any case) directly inside dir.
func ZipPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".zip") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// FindFiles walks dir recursively and returns files with extension ext (any case).
func FindFiles(dir, ext string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ext) {
			found = append(found, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(found)
	return found, nil
}
