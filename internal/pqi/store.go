package pqi

// Store is the durable local store: it survives process restarts and holds,
// per tour, the queued records and the offline snapshot.
//
// Every mutating operation must leave the store valid even if the process is
// interrupted mid-write. Implementations write whole rows atomically.
type Store interface {
	// UpsertPending inserts rec, replacing any existing unsynced record with
	// the same (tour, category, natural key). A later write for the same
	// natural key wins; it never duplicates.
	//
	// On a storage-quota failure the implementation runs one eviction pass
	// (tours untouched for 30 days) and retries once. If the retry also
	// fails it returns a StorageFullError so the caller knows the write did
	// not persist.
	UpsertPending(rec *PendingRecord) error

	// RemovePending deletes the record for (tourID, category, naturalKey).
	// Idempotent: removing an absent record is not an error.
	RemovePending(tourID string, category Category, naturalKey string) error

	// MarkPendingFailed flags the record so the UI can show it as failed.
	// The record stays queued; only a successful sync removes it.
	MarkPendingFailed(tourID string, category Category, naturalKey string) error

	// ListPendingForSync returns every queued record grouped by tour, for
	// every tour with at least one entry. Records within a tour are ordered
	// by ascending creation time. Pure read.
	ListPendingForSync() ([]TourPending, error)

	// PendingCount returns the total number of queued records across tours.
	PendingCount() (int, error)

	// SaveTour stores or replaces tour metadata.
	SaveTour(t *Tour) error

	// ActiveTour returns the most recently started in-progress tour, or nil.
	ActiveTour() (*Tour, error)

	// LoadTour returns the tour by id, or nil if unknown.
	LoadTour(tourID string) (*Tour, error)

	// MarkTourCompleted flags the tour for UI filtering. It does not delete
	// queued records; clearing is the synchronizer's job.
	MarkTourCompleted(tourID string) error

	// ClearTour removes the tour's queued records and snapshot entirely.
	// Called only after the tour drained with zero failures.
	ClearTour(tourID string) error

	// SaveSnapshot replaces the tour's snapshot wholesale.
	SaveSnapshot(snapshot *Snapshot) error

	// LoadSnapshot returns the tour's snapshot, or nil if none is cached.
	LoadSnapshot(tourID string) (*Snapshot, error)

	// LoadMode returns the persisted capture mode, defaulting to Online.
	LoadMode() (Mode, error)

	// SaveMode persists the capture mode across process restarts.
	SaveMode(mode Mode) error

	// CheckSchema verifies the store's on-disk schema matches what this
	// binary expects. Stores without a schema return nil.
	CheckSchema() error

	// Close closes the store.
	Close() error
}
