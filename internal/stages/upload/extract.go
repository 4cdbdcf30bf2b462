package upload

import (
	"archive/zip"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Extract unpacks the local data file into the unzip directory and returns
// the extracted paths. A file that is not a ZIP archive is copied into the
// directory as is. Entries that would land outside the directory are
// rejected.
func (s *Stage) Extract() ([]string, error) {
	src := s.cfg.LocalDataFile
	dir := s.cfg.UnzipDir
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	zr, err := zip.OpenReader(src)
	if errors.Is(err, zip.ErrFormat) {
		dst := filepath.Join(dir, filepath.Base(src))
		s.logger.Info("dataset is not a zip archive, copying", slog.String("file", src))
		if err := copyFile(dst, src); err != nil {
			return nil, err
		}
		return []string{dst}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", src, err)
	}
	defer func() { _ = zr.Close() }()

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	var out []string
	for _, f := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return nil, fmt.Errorf("archive entry %q escapes %s", f.Name, dir)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", target, err)
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return nil, err
		}
		out = append(out, target)
	}

	s.logger.Info("extracted dataset", slog.Int("files", len(out)), slog.String("dir", dir))
	return out, nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()
	return writeFile(target, rc)
}
