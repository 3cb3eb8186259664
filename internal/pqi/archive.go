package pqi

import (
	"context"
	"io"
)

// Archive stores export bundles for tours that drained without failures.
// Archiving is best-effort: a failed upload is logged, never fatal to sync.
type Archive interface {
	// PutExport stores a tour's export bundle. Storing the same tour twice
	// overwrites the previous bundle. size is the number of bytes that will
	// be read from r.
	PutExport(ctx context.Context, tourID string, r io.Reader, size int64) error

	// GetExport retrieves a tour's export bundle and writes it to w.
	GetExport(ctx context.Context, tourID string, w io.Writer) error

	// ValidateSetup verifies that the archive backend is accessible.
	ValidateSetup(ctx context.Context) error
}
