package store_test

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"pqi-go/internal/pqi"
	"pqi-go/internal/store"
	"pqi-go/internal/testutil"
)

// Both implementations must satisfy the same behavioral contract, so every
// test runs against both.
func forEachStore(t *testing.T, fn func(t *testing.T, s pqi.Store, clock *testutil.StubClock)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, store.NewMemoryStore(), testutil.FixedClock())
	})

	t.Run("sqlite", func(t *testing.T) {
		clock := testutil.FixedClock()
		s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "pqi.db"), clock)
		if err != nil {
			t.Fatalf("NewSQLiteStore() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s, clock)
	})
}

func newPendingRecord(id, tourID string, category pqi.Category, naturalKey string, createdAt time.Time) *pqi.PendingRecord {
	return &pqi.PendingRecord{
		ID:         id,
		TourID:     tourID,
		Category:   category,
		NaturalKey: naturalKey,
		Payload:    json.RawMessage(`{"status":"Approved"}`),
		CreatedAt:  createdAt,
		SyncState:  pqi.SyncStatePending,
	}
}

func TestStore_CheckSchema(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s pqi.Store, clock *testutil.StubClock) {
		if err := s.CheckSchema(); err != nil {
			t.Errorf("CheckSchema() on a freshly opened store: %v", err)
		}
	})
}

func TestStore_UpsertPending(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s pqi.Store, clock *testutil.StubClock) {
		t.Run("same natural key replaces not duplicates", func(t *testing.T) {
			now := clock.Now()
			if err := s.UpsertPending(newPendingRecord("id-1", "t1", pqi.CategoryChecklist, "criterion:c1", now)); err != nil {
				t.Fatalf("UpsertPending() error = %v", err)
			}

			rec := newPendingRecord("id-2", "t1", pqi.CategoryChecklist, "criterion:c1", now.Add(time.Minute))
			rec.Payload = json.RawMessage(`{"status":"Rejected"}`)
			if err := s.UpsertPending(rec); err != nil {
				t.Fatalf("UpsertPending() error = %v", err)
			}

			count, err := s.PendingCount()
			if err != nil {
				t.Fatalf("PendingCount() error = %v", err)
			}
			if count != 1 {
				t.Errorf("count = %d, want 1", count)
			}

			tours, err := s.ListPendingForSync()
			if err != nil {
				t.Fatalf("ListPendingForSync() error = %v", err)
			}
			if string(tours[0].Records[0].Payload) != `{"status":"Rejected"}` {
				t.Errorf("payload = %s, want replacement", tours[0].Records[0].Payload)
			}
		})

		t.Run("different keys coexist", func(t *testing.T) {
			now := clock.Now()
			records := []*pqi.PendingRecord{
				newPendingRecord("id-1", "t2", pqi.CategoryChecklist, "criterion:c1", now),
				newPendingRecord("id-2", "t2", pqi.CategoryChecklist, "criterion:c2", now.Add(time.Second)),
				newPendingRecord("id-3", "t2", pqi.CategorySieveMagnet, "criterion:c1", now.Add(2*time.Second)),
			}
			for _, rec := range records {
				if err := s.UpsertPending(rec); err != nil {
					t.Fatalf("UpsertPending() error = %v", err)
				}
			}

			tours, err := s.ListPendingForSync()
			if err != nil {
				t.Fatalf("ListPendingForSync() error = %v", err)
			}
			var got int
			for _, tp := range tours {
				if tp.TourID == "t2" {
					got = len(tp.Records)
				}
			}
			if got != 3 {
				t.Errorf("records for t2 = %d, want 3", got)
			}
		})
	})
}

func TestStore_ListPendingForSync(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s pqi.Store, clock *testutil.StubClock) {
		now := clock.Now()

		// Two tours interleaved; listing must group them with records in
		// creation order.
		inserts := []*pqi.PendingRecord{
			newPendingRecord("id-1", "tour-b", pqi.CategoryChecklist, "criterion:c1", now),
			newPendingRecord("id-2", "tour-a", pqi.CategoryChecklist, "criterion:c1", now.Add(time.Second)),
			newPendingRecord("id-3", "tour-b", pqi.CategoryChecklist, "criterion:c2", now.Add(2*time.Second)),
		}
		for _, rec := range inserts {
			if err := s.UpsertPending(rec); err != nil {
				t.Fatalf("UpsertPending() error = %v", err)
			}
		}

		tours, err := s.ListPendingForSync()
		if err != nil {
			t.Fatalf("ListPendingForSync() error = %v", err)
		}
		if len(tours) != 2 {
			t.Fatalf("tours = %d, want 2", len(tours))
		}
		if tours[0].TourID != "tour-a" || tours[1].TourID != "tour-b" {
			t.Errorf("tour order = %s, %s", tours[0].TourID, tours[1].TourID)
		}
		if len(tours[1].Records) != 2 {
			t.Fatalf("tour-b records = %d, want 2", len(tours[1].Records))
		}
		if tours[1].Records[0].NaturalKey != "criterion:c1" {
			t.Errorf("first record = %s, want criterion:c1", tours[1].Records[0].NaturalKey)
		}
	})
}

func TestStore_RemoveAndMarkFailed(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s pqi.Store, clock *testutil.StubClock) {
		now := clock.Now()
		if err := s.UpsertPending(newPendingRecord("id-1", "t1", pqi.CategoryChecklist, "criterion:c1", now)); err != nil {
			t.Fatalf("UpsertPending() error = %v", err)
		}

		if err := s.MarkPendingFailed("t1", pqi.CategoryChecklist, "criterion:c1"); err != nil {
			t.Fatalf("MarkPendingFailed() error = %v", err)
		}
		tours, _ := s.ListPendingForSync()
		if tours[0].Records[0].SyncState != pqi.SyncStateFailed {
			t.Errorf("sync state = %s, want failed", tours[0].Records[0].SyncState)
		}

		if err := s.RemovePending("t1", pqi.CategoryChecklist, "criterion:c1"); err != nil {
			t.Fatalf("RemovePending() error = %v", err)
		}
		count, _ := s.PendingCount()
		if count != 0 {
			t.Errorf("count = %d, want 0", count)
		}

		// Removing again is not an error.
		if err := s.RemovePending("t1", pqi.CategoryChecklist, "criterion:c1"); err != nil {
			t.Errorf("second RemovePending() error = %v", err)
		}
	})
}

func TestStore_Tours(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s pqi.Store, clock *testutil.StubClock) {
		now := clock.Now()

		tour, err := s.ActiveTour()
		if err != nil {
			t.Fatalf("ActiveTour() error = %v", err)
		}
		if tour != nil {
			t.Fatalf("ActiveTour() = %+v, want nil on empty store", tour)
		}

		first := &pqi.Tour{ID: "t1", Plant: "plant-a", Department: "bakery", StartedAt: now, Status: pqi.TourInProgress}
		second := &pqi.Tour{ID: "t2", Plant: "plant-a", Department: "bakery", StartedAt: now.Add(time.Hour), Status: pqi.TourInProgress}
		for _, tr := range []*pqi.Tour{first, second} {
			if err := s.SaveTour(tr); err != nil {
				t.Fatalf("SaveTour() error = %v", err)
			}
		}

		tour, err = s.ActiveTour()
		if err != nil {
			t.Fatalf("ActiveTour() error = %v", err)
		}
		if tour == nil || tour.ID != "t2" {
			t.Errorf("ActiveTour() = %+v, want most recently started", tour)
		}

		if err := s.MarkTourCompleted("t2"); err != nil {
			t.Fatalf("MarkTourCompleted() error = %v", err)
		}
		tour, err = s.ActiveTour()
		if err != nil {
			t.Fatalf("ActiveTour() error = %v", err)
		}
		if tour == nil || tour.ID != "t1" {
			t.Errorf("ActiveTour() after completion = %+v, want t1", tour)
		}

		loaded, err := s.LoadTour("t2")
		if err != nil {
			t.Fatalf("LoadTour() error = %v", err)
		}
		if loaded == nil || loaded.Plant != "plant-a" {
			t.Errorf("LoadTour() = %+v", loaded)
		}

		unknown, err := s.LoadTour("nope")
		if err != nil || unknown != nil {
			t.Errorf("LoadTour(unknown) = %+v, %v", unknown, err)
		}
	})
}

func TestStore_Snapshots(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s pqi.Store, clock *testutil.StubClock) {
		now := clock.Now()

		missing, err := s.LoadSnapshot("t1")
		if err != nil || missing != nil {
			t.Fatalf("LoadSnapshot(missing) = %+v, %v", missing, err)
		}

		snapshot := &pqi.Snapshot{
			TourID: "t1",
			Criteria: []pqi.Criterion{
				{ID: "c1", Area: "mixing", What: "Bowls", Criteria: "Clean"},
			},
			Employee:  pqi.EmployeeDetails{ID: "emp-1", Plant: "plant-a"},
			FetchedAt: now,
		}
		if err := s.SaveSnapshot(snapshot); err != nil {
			t.Fatalf("SaveSnapshot() error = %v", err)
		}

		loaded, err := s.LoadSnapshot("t1")
		if err != nil {
			t.Fatalf("LoadSnapshot() error = %v", err)
		}
		if loaded == nil || len(loaded.Criteria) != 1 || loaded.Employee.ID != "emp-1" {
			t.Errorf("LoadSnapshot() = %+v", loaded)
		}

		// Overwrite replaces wholesale.
		snapshot.Criteria = nil
		if err := s.SaveSnapshot(snapshot); err != nil {
			t.Fatalf("SaveSnapshot() error = %v", err)
		}
		loaded, _ = s.LoadSnapshot("t1")
		if len(loaded.Criteria) != 0 {
			t.Errorf("criteria after overwrite = %d, want 0", len(loaded.Criteria))
		}
	})
}

func TestStore_ClearTour(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s pqi.Store, clock *testutil.StubClock) {
		now := clock.Now()
		if err := s.UpsertPending(newPendingRecord("id-1", "t1", pqi.CategoryChecklist, "criterion:c1", now)); err != nil {
			t.Fatalf("UpsertPending() error = %v", err)
		}
		if err := s.SaveSnapshot(&pqi.Snapshot{TourID: "t1", FetchedAt: now}); err != nil {
			t.Fatalf("SaveSnapshot() error = %v", err)
		}

		if err := s.ClearTour("t1"); err != nil {
			t.Fatalf("ClearTour() error = %v", err)
		}

		count, _ := s.PendingCount()
		if count != 0 {
			t.Errorf("pending = %d, want 0", count)
		}
		snapshot, _ := s.LoadSnapshot("t1")
		if snapshot != nil {
			t.Errorf("snapshot survived ClearTour: %+v", snapshot)
		}
	})
}

func TestStore_Mode(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s pqi.Store, clock *testutil.StubClock) {
		mode, err := s.LoadMode()
		if err != nil {
			t.Fatalf("LoadMode() error = %v", err)
		}
		if mode != pqi.ModeOnline {
			t.Errorf("default mode = %s, want online", mode)
		}

		if err := s.SaveMode(pqi.ModeOfflineActive); err != nil {
			t.Fatalf("SaveMode() error = %v", err)
		}
		mode, err = s.LoadMode()
		if err != nil {
			t.Fatalf("LoadMode() error = %v", err)
		}
		if mode != pqi.ModeOfflineActive {
			t.Errorf("mode = %s, want offline-active", mode)
		}
	})
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pqi.db")
	clock := testutil.FixedClock()

	s, err := store.NewSQLiteStore(path, clock)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := s.UpsertPending(newPendingRecord("id-1", "t1", pqi.CategoryChecklist, "criterion:c1", clock.Now())); err != nil {
		t.Fatalf("UpsertPending() error = %v", err)
	}
	if err := s.SaveMode(pqi.ModeOfflineActive); err != nil {
		t.Fatalf("SaveMode() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := store.NewSQLiteStore(path, clock)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer reopened.Close()

	count, err := reopened.PendingCount()
	if err != nil {
		t.Fatalf("PendingCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("pending after reopen = %d, want 1", count)
	}
	mode, err := reopened.LoadMode()
	if err != nil {
		t.Fatalf("LoadMode() error = %v", err)
	}
	if mode != pqi.ModeOfflineActive {
		t.Errorf("mode after reopen = %s, want offline-active", mode)
	}
}
