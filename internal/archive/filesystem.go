package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pqi-go/internal/pqi"
)

// FileSystemArchive stores export bundles as files:
//
//	<root>/
//	  exports/
//	    <tourID>.json
type FileSystemArchive struct {
	name       string
	root       string
	exportsDir string
}

var _ pqi.Archive = (*FileSystemArchive)(nil)

// NewFileSystemArchive creates a new filesystem archive rooted at the given path.
func NewFileSystemArchive(name, root string) (*FileSystemArchive, error) {
	exportsDir := filepath.Join(root, "exports")
	if err := os.MkdirAll(exportsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	return &FileSystemArchive{
		name:       name,
		root:       root,
		exportsDir: exportsDir,
	}, nil
}

// PutExport stores a tour's export bundle, overwriting any previous one.
// The bundle is written to a temp file and renamed so readers never see a
// partial export.
func (v *FileSystemArchive) PutExport(_ context.Context, tourID string, r io.Reader, size int64) error {
	destPath := filepath.Join(v.exportsDir, tourID+".json")

	tmp, err := os.CreateTemp(v.exportsDir, "."+tourID+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("failed to move export into place: %w", err)
	}
	return nil
}

// GetExport retrieves a tour's export bundle and writes it to w.
func (v *FileSystemArchive) GetExport(_ context.Context, tourID string, w io.Writer) error {
	srcPath := filepath.Join(v.exportsDir, tourID+".json")
	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("export not found: %s", tourID)
		}
		return fmt.Errorf("failed to open export: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read export: %w", err)
	}
	return nil
}

// ValidateSetup verifies the archive directory is writable.
func (v *FileSystemArchive) ValidateSetup(context.Context) error {
	probe, err := os.CreateTemp(v.exportsDir, ".probe-")
	if err != nil {
		return fmt.Errorf("archive directory not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}
