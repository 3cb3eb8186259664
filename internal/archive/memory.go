package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"pqi-go/internal/pqi"
)

// MemoryArchive is an in-memory implementation of the Archive interface,
// useful for tests. This implementation is safe for concurrent use.
type MemoryArchive struct {
	name    string
	exports map[string][]byte // tourID -> bundle
	mu      sync.RWMutex
}

var _ pqi.Archive = (*MemoryArchive)(nil)

// NewMemoryArchive creates a new in-memory archive with the given name.
func NewMemoryArchive(name string) *MemoryArchive {
	return &MemoryArchive{
		name:    name,
		exports: make(map[string][]byte),
	}
}

// PutExport stores a tour's export bundle, overwriting any previous one.
func (m *MemoryArchive) PutExport(_ context.Context, tourID string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read export: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.exports[tourID] = data
	return nil
}

// GetExport retrieves a tour's export bundle.
func (m *MemoryArchive) GetExport(_ context.Context, tourID string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.exports[tourID]
	if !ok {
		return fmt.Errorf("export not found: %s", tourID)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// ValidateSetup always succeeds for the in-memory archive.
func (m *MemoryArchive) ValidateSetup(context.Context) error { return nil }

// Len returns the number of stored exports.
func (m *MemoryArchive) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.exports)
}
