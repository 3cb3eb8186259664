package store

import (
	"sort"
	"sync"

	"pqi-go/internal/pqi"
)

// MemoryStore is an in-memory implementation of the pqi.Store interface.
// Nothing survives a restart, which makes it useful for tests and dev runs.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	tours     map[string]*pqi.Tour
	completed map[string]bool
	pending   map[string][]*pqi.PendingRecord // tourID -> records in creation order
	snapshots map[string]*pqi.Snapshot
	mode      pqi.Mode
}

var _ pqi.Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tours:     make(map[string]*pqi.Tour),
		completed: make(map[string]bool),
		pending:   make(map[string][]*pqi.PendingRecord),
		snapshots: make(map[string]*pqi.Snapshot),
		mode:      pqi.ModeOnline,
	}
}

// UpsertPending inserts rec, replacing any queued record with the same
// (tour, category, natural key). The replacement takes the new creation
// position so replay order follows the latest write.
func (m *MemoryStore) UpsertPending(rec *pqi.PendingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.pending[rec.TourID]
	for i, existing := range records {
		if existing.Category == rec.Category && existing.NaturalKey == rec.NaturalKey {
			records = append(records[:i], records[i+1:]...)
			break
		}
	}
	copied := *rec
	m.pending[rec.TourID] = append(records, &copied)
	return nil
}

// RemovePending deletes the matching record; absent records are not an error.
func (m *MemoryStore) RemovePending(tourID string, category pqi.Category, naturalKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.pending[tourID]
	for i, existing := range records {
		if existing.Category == category && existing.NaturalKey == naturalKey {
			m.pending[tourID] = append(records[:i], records[i+1:]...)
			break
		}
	}
	if len(m.pending[tourID]) == 0 {
		delete(m.pending, tourID)
	}
	return nil
}

// MarkPendingFailed flags the matching record for UI display.
func (m *MemoryStore) MarkPendingFailed(tourID string, category pqi.Category, naturalKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.pending[tourID] {
		if existing.Category == category && existing.NaturalKey == naturalKey {
			existing.SyncState = pqi.SyncStateFailed
			break
		}
	}
	return nil
}

// ListPendingForSync returns queued records grouped by tour, tours in a
// stable order, records in creation order.
func (m *MemoryStore) ListPendingForSync() ([]pqi.TourPending, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tourIDs := make([]string, 0, len(m.pending))
	for tourID := range m.pending {
		tourIDs = append(tourIDs, tourID)
	}
	sort.Strings(tourIDs)

	out := make([]pqi.TourPending, 0, len(tourIDs))
	for _, tourID := range tourIDs {
		tp := pqi.TourPending{TourID: tourID}
		for _, rec := range m.pending[tourID] {
			copied := *rec
			tp.Records = append(tp.Records, &copied)
		}
		out = append(out, tp)
	}
	return out, nil
}

// PendingCount returns the total number of queued records.
func (m *MemoryStore) PendingCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, records := range m.pending {
		count += len(records)
	}
	return count, nil
}

// SaveTour stores or replaces tour metadata.
func (m *MemoryStore) SaveTour(t *pqi.Tour) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *t
	m.tours[t.ID] = &copied
	return nil
}

// ActiveTour returns the most recently started in-progress tour, or nil.
func (m *MemoryStore) ActiveTour() (*pqi.Tour, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *pqi.Tour
	for id, t := range m.tours {
		if t.Status != pqi.TourInProgress || m.completed[id] {
			continue
		}
		if best == nil || t.StartedAt.After(best.StartedAt) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}
	copied := *best
	return &copied, nil
}

// LoadTour returns the tour by id, or nil if unknown.
func (m *MemoryStore) LoadTour(tourID string) (*pqi.Tour, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tours[tourID]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}

// MarkTourCompleted flags the tour for UI filtering only.
func (m *MemoryStore) MarkTourCompleted(tourID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.completed[tourID] = true
	return nil
}

// ClearTour removes the tour's queued records and snapshot entirely.
func (m *MemoryStore) ClearTour(tourID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pending, tourID)
	delete(m.snapshots, tourID)
	return nil
}

// SaveSnapshot replaces the tour's snapshot wholesale.
func (m *MemoryStore) SaveSnapshot(snapshot *pqi.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *snapshot
	m.snapshots[snapshot.TourID] = &copied
	return nil
}

// LoadSnapshot returns the tour's snapshot, or nil if none is cached.
func (m *MemoryStore) LoadSnapshot(tourID string) (*pqi.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot, ok := m.snapshots[tourID]
	if !ok {
		return nil, nil
	}
	copied := *snapshot
	return &copied, nil
}

// LoadMode returns the persisted capture mode.
func (m *MemoryStore) LoadMode() (pqi.Mode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode, nil
}

// SaveMode persists the capture mode.
func (m *MemoryStore) SaveMode(mode pqi.Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
	return nil
}

// CheckSchema is a no-op: the in-memory store has no persisted schema.
func (m *MemoryStore) CheckSchema() error { return nil }

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }
