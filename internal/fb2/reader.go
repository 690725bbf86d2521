package fb2

import (
	"archive/zip"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrNoFB2InArchive = errors.New("no .fb2 file found in archive")
	ErrFileNotFound   = errors.New("file not found")
)

// Open reads and parses an FB2 book from path. Zip archives (.zip,
// .fb2.zip) are searched for the first .fb2 entry.
func Open(path string, opts ParseOptions) (*Document, error) {
	if isZip(path) {
		return openZip(path, opts)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to open FB2: %w", err)
	}
	defer f.Close()

	doc, err := Parse(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func openZip(path string, opts ParseOptions) (*Document, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(f.Name), ".fb2") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
		}
		defer rc.Close()

		doc, err := Parse(rc, opts)
		if err != nil {
			return nil, fmt.Errorf("%s!%s: %w", path, f.Name, err)
		}
		return doc, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNoFB2InArchive, path)
}

func isZip(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}
