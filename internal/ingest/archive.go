package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// extract unpacks the zip archive at src into dst. Entries that would land
// outside dst are rejected, and the total uncompressed size is capped.
func extract(ctx context.Context, src, dst string, limit int64) error {
	rc, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("%w: open archive: %v", ErrParse, err)
	}
	defer rc.Close()

	var total int64
	for _, f := range rc.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := filepath.FromSlash(f.Name)
		if !filepath.IsLocal(name) {
			return fmt.Errorf("%w: archive entry %q escapes extraction dir", ErrParse, f.Name)
		}
		target := filepath.Join(dst, name)

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("mkdir %q: %w", f.Name, err)
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}
		n, err := extractFile(f, target, limit-total)
		total += n
		if err != nil {
			return err
		}
	}
	return nil
}

var errTooLarge = errors.New("archive exceeds extraction limit")

func extractFile(f *zip.File, target string, remaining int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("mkdir for %q: %w", f.Name, err)
	}
	in, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: open entry %q: %v", ErrParse, f.Name, err)
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %q: %w", f.Name, err)
	}
	// read one byte past the budget so an oversized entry is detected
	n, err := io.Copy(out, io.LimitReader(in, remaining+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("%w: extract %q: %v", ErrParse, f.Name, err)
	}
	if n > remaining {
		return n, fmt.Errorf("%w: %w", ErrParse, errTooLarge)
	}
	return n, nil
}

// findShapefile returns the first .shp file (any case) under root in lexical
// walk order.
func findShapefile(root string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".shp") {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk extracted archive: %w", err)
	}
	if found == "" {
		return "", ErrNoShapefile
	}
	return found, nil
}

// companion finds a sibling of shpPath with the given extension, ignoring
// case. Returns "" when there is none.
func companion(shpPath, ext string) string {
	dir := filepath.Dir(shpPath)
	stem := strings.TrimSuffix(filepath.Base(shpPath), filepath.Ext(shpPath))
	want := stem + ext
	if _, err := os.Stat(filepath.Join(dir, want)); err == nil {
		return filepath.Join(dir, want)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), want) {
			return filepath.Join(dir, e.Name())
		}
	}
	return ""
}
