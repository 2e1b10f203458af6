// Package analysis inspects uploaded archives: it validates the container,
// classifies the source ecosystem by marker files, and extracts evidence of
// restricted platform API usage.
package analysis

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrNotZip is reported for any blob that is not a well-formed zip container.
var ErrNotZip = errors.New("not a zip archive")

// Archive is a validated zip container. Entry order is the archive's own
// listing order, never sorted.
type Archive struct {
	files []*zip.File
}

// OpenArchive validates that blob is a well-formed zip container and opens
// its manifest in memory. Corrupt, truncated, or wrong-magic input yields
// ErrNotZip with no partial result.
func OpenArchive(blob []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotZip, err)
	}
	return &Archive{files: zr.File}, nil
}

// Entries returns the manifest's entry names in listing order.
func (a *Archive) Entries() []string {
	names := make([]string, len(a.files))
	for i, f := range a.files {
		names[i] = f.Name
	}
	return names
}

// ReadEntry returns the decompressed contents of one entry.
func (a *Archive) ReadEntry(name string) ([]byte, error) {
	for _, f := range a.files {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open entry %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("entry %s not found", name)
}
