package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"pqi-go/internal/pqi"
	"pqi-go/internal/store/migrations"
)

// evictionAge is how long a tour may sit untouched before a storage-quota
// failure is allowed to evict it.
const evictionAge = 30 * 24 * time.Hour

// SQLiteStore implements the pqi.Store interface using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	clock pqi.Clock
}

var _ pqi.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the store at path and brings the schema
// to the latest version. path can be a file path or ":memory:".
func NewSQLiteStore(path string, clock pqi.Clock) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating store schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path, clock: clock}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Wait for locks instead of failing immediately; the CLI may overlap a
	// sync run with a capture.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// UpsertPending inserts or replaces the record for its (tour, category,
// natural key). On a storage-quota failure it evicts tours untouched for 30
// days and retries once; a second failure surfaces as StorageFullError.
func (s *SQLiteStore) UpsertPending(rec *pqi.PendingRecord) error {
	err := s.writePending(rec)
	if err == nil {
		return nil
	}
	if !isStorageFull(err) {
		return fmt.Errorf("upserting pending record: %w", err)
	}

	if evictErr := s.evictStaleTours(); evictErr != nil {
		return &pqi.StorageFullError{Err: fmt.Errorf("eviction failed: %w (original: %v)", evictErr, err)}
	}
	if err := s.writePending(rec); err != nil {
		return &pqi.StorageFullError{Err: err}
	}
	return nil
}

func (s *SQLiteStore) writePending(rec *pqi.PendingRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO pending_records (id, tour_id, category, natural_key, payload, created_at, sync_state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tour_id, category, natural_key) DO UPDATE SET
			id = excluded.id,
			payload = excluded.payload,
			created_at = excluded.created_at,
			sync_state = excluded.sync_state`,
		rec.ID, rec.TourID, string(rec.Category), rec.NaturalKey,
		string(rec.Payload), rec.CreatedAt, string(rec.SyncState))
	if err != nil {
		return err
	}

	if err := touchTour(tx, rec.TourID, s.clock.Now()); err != nil {
		return err
	}
	return tx.Commit()
}

// evictStaleTours is the cleanup pass run when the store hits its quota:
// tours (and their records and snapshots) untouched for evictionAge go.
func (s *SQLiteStore) evictStaleTours() error {
	cutoff := s.clock.Now().Add(-evictionAge)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM pending_records WHERE tour_id IN (SELECT id FROM tours WHERE last_updated < ?)`,
		`DELETE FROM snapshots WHERE tour_id IN (SELECT id FROM tours WHERE last_updated < ?)`,
		`DELETE FROM tours WHERE last_updated < ?`,
	} {
		if _, err := tx.Exec(stmt, cutoff); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RemovePending deletes the record for (tourID, category, naturalKey).
// Removing an absent record is not an error.
func (s *SQLiteStore) RemovePending(tourID string, category pqi.Category, naturalKey string) error {
	_, err := s.db.Exec(
		`DELETE FROM pending_records WHERE tour_id = ? AND category = ? AND natural_key = ?`,
		tourID, string(category), naturalKey)
	if err != nil {
		return fmt.Errorf("removing pending record: %w", err)
	}
	return nil
}

// MarkPendingFailed flags the record for UI display. The record stays queued.
func (s *SQLiteStore) MarkPendingFailed(tourID string, category pqi.Category, naturalKey string) error {
	_, err := s.db.Exec(
		`UPDATE pending_records SET sync_state = ? WHERE tour_id = ? AND category = ? AND natural_key = ?`,
		string(pqi.SyncStateFailed), tourID, string(category), naturalKey)
	if err != nil {
		return fmt.Errorf("marking pending record failed: %w", err)
	}
	return nil
}

// ListPendingForSync returns every queued record grouped by tour, ordered by
// ascending creation time within each tour.
func (s *SQLiteStore) ListPendingForSync() ([]pqi.TourPending, error) {
	rows, err := s.db.Query(`
		SELECT id, tour_id, category, natural_key, payload, created_at, sync_state
		FROM pending_records
		ORDER BY tour_id, created_at, natural_key`)
	if err != nil {
		return nil, fmt.Errorf("listing pending records: %w", err)
	}
	defer rows.Close()

	var out []pqi.TourPending
	for rows.Next() {
		var rec pqi.PendingRecord
		var category, payload, syncState string
		if err := rows.Scan(&rec.ID, &rec.TourID, &category, &rec.NaturalKey, &payload, &rec.CreatedAt, &syncState); err != nil {
			return nil, fmt.Errorf("scanning pending record: %w", err)
		}
		rec.Category = pqi.Category(category)
		rec.Payload = json.RawMessage(payload)
		rec.SyncState = pqi.SyncState(syncState)

		if len(out) == 0 || out[len(out)-1].TourID != rec.TourID {
			out = append(out, pqi.TourPending{TourID: rec.TourID})
		}
		last := &out[len(out)-1]
		last.Records = append(last.Records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending records: %w", err)
	}
	return out, nil
}

// PendingCount returns the total number of queued records.
func (s *SQLiteStore) PendingCount() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting pending records: %w", err)
	}
	return count, nil
}

// SaveTour stores or replaces tour metadata.
func (s *SQLiteStore) SaveTour(t *pqi.Tour) error {
	var completedAt sql.NullTime
	if t.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *t.CompletedAt, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO tours (id, plant, department, started_at, completed_at, status, score, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			plant = excluded.plant,
			department = excluded.department,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			status = excluded.status,
			score = excluded.score,
			last_updated = excluded.last_updated`,
		t.ID, t.Plant, t.Department, t.StartedAt, completedAt, t.Status, t.Score, s.clock.Now())
	if err != nil {
		return fmt.Errorf("saving tour: %w", err)
	}
	return nil
}

// ActiveTour returns the most recently started in-progress tour, or nil.
func (s *SQLiteStore) ActiveTour() (*pqi.Tour, error) {
	row := s.db.QueryRow(`
		SELECT id, plant, department, started_at, completed_at, status, score
		FROM tours
		WHERE status = ? AND completed = 0
		ORDER BY started_at DESC
		LIMIT 1`, pqi.TourInProgress)
	return scanTour(row)
}

// LoadTour returns the tour by id, or nil if unknown.
func (s *SQLiteStore) LoadTour(tourID string) (*pqi.Tour, error) {
	row := s.db.QueryRow(`
		SELECT id, plant, department, started_at, completed_at, status, score
		FROM tours
		WHERE id = ?`, tourID)
	return scanTour(row)
}

func scanTour(row *sql.Row) (*pqi.Tour, error) {
	var t pqi.Tour
	var completedAt sql.NullTime
	err := row.Scan(&t.ID, &t.Plant, &t.Department, &t.StartedAt, &completedAt, &t.Status, &t.Score)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("scanning tour: %w", err)
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// MarkTourCompleted flags the tour for UI filtering only.
func (s *SQLiteStore) MarkTourCompleted(tourID string) error {
	_, err := s.db.Exec(`UPDATE tours SET completed = 1, last_updated = ? WHERE id = ?`,
		s.clock.Now(), tourID)
	if err != nil {
		return fmt.Errorf("marking tour completed: %w", err)
	}
	return nil
}

// ClearTour removes the tour's queued records and snapshot entirely.
func (s *SQLiteStore) ClearTour(tourID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("clearing tour: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM pending_records WHERE tour_id = ?`, tourID); err != nil {
		return fmt.Errorf("clearing pending records: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM snapshots WHERE tour_id = ?`, tourID); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}
	if err := touchTour(tx, tourID, s.clock.Now()); err != nil {
		return fmt.Errorf("clearing tour: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clearing tour: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the tour's snapshot wholesale. The snapshot is one
// JSON document in one row, so the write is atomic even mid-interrupt.
func (s *SQLiteStore) SaveSnapshot(snapshot *pqi.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO snapshots (tour_id, data, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT (tour_id) DO UPDATE SET
			data = excluded.data,
			fetched_at = excluded.fetched_at`,
		snapshot.TourID, string(data), snapshot.FetchedAt)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the tour's snapshot, or nil if none is cached.
func (s *SQLiteStore) LoadSnapshot(tourID string) (*pqi.Snapshot, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM snapshots WHERE tour_id = ?`, tourID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not cached
		}
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}

	var snapshot pqi.Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snapshot, nil
}

// LoadMode returns the persisted capture mode, defaulting to Online.
func (s *SQLiteStore) LoadMode() (pqi.Mode, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_state WHERE key = 'mode'`).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pqi.ModeOnline, nil
		}
		return "", fmt.Errorf("loading mode: %w", err)
	}
	return pqi.Mode(value), nil
}

// SaveMode persists the capture mode.
func (s *SQLiteStore) SaveMode(mode pqi.Mode) error {
	_, err := s.db.Exec(`
		INSERT INTO app_state (key, value) VALUES ('mode', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		string(mode))
	if err != nil {
		return fmt.Errorf("saving mode: %w", err)
	}
	return nil
}

// CheckSchema verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckSchema() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// touchTour bumps the tour's last_updated so quota eviction never takes a
// tour with recent activity. Tours unknown locally (records queued before
// the tour row landed) are skipped.
func touchTour(tx *sql.Tx, tourID string, now time.Time) error {
	_, err := tx.Exec(`UPDATE tours SET last_updated = ? WHERE id = ?`, now, tourID)
	return err
}

// isStorageFull reports whether err is a storage-quota failure worth an
// eviction pass.
func isStorageFull(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrFull || serr.Code == sqlite3.ErrIoErr
	}
	return false
}
