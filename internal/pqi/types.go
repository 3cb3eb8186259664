package pqi

import (
	"encoding/json"
	"time"
)

// Category identifies which remote endpoint and merge rule a record targets.
type Category string

const (
	CategoryChecklist         Category = "checklist-observation"
	CategoryNotApplicable     Category = "not-applicable-observation"
	CategoryCreamPercentage   Category = "cream-percentage-cycle"
	CategorySieveMagnet       Category = "sieve-and-magnet-cycle"
	CategoryProductMonitoring Category = "product-monitoring-cycle"
)

// Categories lists every known category in a stable order.
var Categories = []Category{
	CategoryChecklist,
	CategoryNotApplicable,
	CategoryCreamPercentage,
	CategorySieveMagnet,
	CategoryProductMonitoring,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// SyncState tracks the replay state of a queued record.
// A successfully synced record is removed from the store, never flagged,
// so "synced" is deliberately not a state here.
type SyncState string

const (
	SyncStatePending SyncState = "pending"
	SyncStateFailed  SyncState = "failed"
)

// PendingRecord is the unit of offline work: one observation captured
// locally and awaiting replay against the remote system.
type PendingRecord struct {
	ID         string
	TourID     string
	Category   Category
	NaturalKey string
	Payload    json.RawMessage
	CreatedAt  time.Time
	SyncState  SyncState
}

// Tour statuses as the remote system reports them.
const (
	TourInProgress = "InProgress"
	TourCompleted  = "Completed"
)

// Tour is one inspection walkthrough, scoped to a plant/department and
// identified by a server-issued id.
type Tour struct {
	ID          string
	Plant       string
	Department  string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string
	Score       float64
}

// Criterion is one entry from the reference inspection-criteria list.
type Criterion struct {
	ID       string
	Area     string
	Category string
	What     string
	Criteria string
}

// EmployeeDetails identifies the inspector running a tour.
type EmployeeDetails struct {
	ID         string
	Name       string
	Role       string
	Plant      string
	Department string
}

// RemoteObservation is a previously recorded observation fetched from the
// remote system, cached so an offline session can resume a tour.
type RemoteObservation struct {
	RemoteID    string
	CriterionID string
	Status      string
	Severity    string
	RecordedAt  time.Time
}

// SnapshotMaxAge is how long a cached snapshot is trusted before it is
// considered stale and should be refreshed.
const SnapshotMaxAge = 24 * time.Hour

// Snapshot is the bundle of reference data fetched once before working
// offline. It is replaced wholesale on each successful bootstrap.
type Snapshot struct {
	TourID       string
	Criteria     []Criterion
	Employee     EmployeeDetails
	Observations []RemoteObservation
	FetchedAt    time.Time
}

// Stale reports whether the snapshot is older than SnapshotMaxAge.
func (s *Snapshot) Stale(now time.Time) bool {
	return now.Sub(s.FetchedAt) > SnapshotMaxAge
}

// TourPending groups the queued records of one tour, ordered by creation time.
type TourPending struct {
	TourID  string
	Records []*PendingRecord
}

// SyncError describes one record that failed to replay.
type SyncError struct {
	Category   Category
	NaturalKey string
	Message    string
	// Permanent marks a validation failure that will not succeed on retry
	// without user correction.
	Permanent bool
}

// SyncSummary reports the outcome of draining one tour's queue.
type SyncSummary struct {
	TourID string
	Synced int
	Failed int
	Errors []SyncError
}

// Clean reports whether every record of the tour synced.
func (s *SyncSummary) Clean() bool {
	return s.Failed == 0
}

// TourExport is the bundle archived after a tour drains without failures.
type TourExport struct {
	Tour              Tour      `json:"tour"`
	SyncedRecords     int       `json:"synced_records"`
	SnapshotFetchedAt time.Time `json:"snapshot_fetched_at,omitzero"`
	ExportedAt        time.Time `json:"exported_at"`
}
