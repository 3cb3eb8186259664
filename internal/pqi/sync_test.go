package pqi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"pqi-go/internal/archive"
	"pqi-go/internal/pqi"
	"pqi-go/internal/testutil"
)

// startOfflineAndQueue bootstraps an offline session and queues one record
// per given natural key, all in the checklist category unless keyed otherwise.
func startOfflineAndQueue(t *testing.T, h *serviceHarness, keys ...string) {
	t.Helper()
	if err := h.svc.StartOfflineSession(context.Background()); err != nil {
		t.Fatalf("StartOfflineSession() error = %v", err)
	}
	for _, key := range keys {
		if _, err := h.svc.RecordObservation(context.Background(), pqi.CategoryChecklist, key, map[string]any{"key": key}); err != nil {
			t.Fatalf("RecordObservation(%s) error = %v", key, err)
		}
		h.clock.Advance(1)
	}
}

func TestPQIService_SyncAll(t *testing.T) {
	t.Parallel()

	t.Run("clean drain returns to online and empties the queue", func(t *testing.T) {
		h := newServiceHarness(t, pqi.ModeOnline)
		startOfflineAndQueue(t, h, "criterion:c1", "criterion:c2", "criterion:c3")

		summaries, err := h.svc.SyncAll(context.Background())
		if err != nil {
			t.Fatalf("SyncAll() error = %v", err)
		}
		if len(summaries) != 1 {
			t.Fatalf("summaries = %d, want 1", len(summaries))
		}
		if summaries[0].Synced != 3 || summaries[0].Failed != 0 {
			t.Errorf("summary = %+v", summaries[0])
		}

		if h.svc.Mode() != pqi.ModeOnline {
			t.Errorf("mode = %s, want online after clean drain", h.svc.Mode())
		}
		count, _ := h.store.PendingCount()
		if count != 0 {
			t.Errorf("pending = %d, want 0", count)
		}
		if h.gw.RowCount() != 3 {
			t.Errorf("remote rows = %d, want 3", h.gw.RowCount())
		}
	})

	t.Run("replaying a drained queue is idempotent", func(t *testing.T) {
		h := newServiceHarness(t, pqi.ModeOnline)
		startOfflineAndQueue(t, h, "criterion:c1")

		if _, err := h.svc.SyncAll(context.Background()); err != nil {
			t.Fatalf("first SyncAll() error = %v", err)
		}

		// Queue the same logical record again and sync again: the remote
		// side must update the row, not add one.
		if err := h.svc.StartOfflineSession(context.Background()); err != nil {
			t.Fatalf("StartOfflineSession() error = %v", err)
		}
		if _, err := h.svc.RecordObservation(context.Background(), pqi.CategoryChecklist, "criterion:c1", map[string]any{"status": "Rejected"}); err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
		if _, err := h.svc.SyncAll(context.Background()); err != nil {
			t.Fatalf("second SyncAll() error = %v", err)
		}

		if h.gw.RowCount() != 1 {
			t.Errorf("remote rows = %d, want 1 after replay", h.gw.RowCount())
		}
		if writes := h.gw.Writes(pqi.CategoryChecklist, "criterion:c1"); writes != 2 {
			t.Errorf("writes = %d, want 2", writes)
		}
		payload := h.gw.LastPayload(pqi.CategoryChecklist, "criterion:c1")
		if !bytes.Contains(payload, []byte("Rejected")) {
			t.Errorf("remote payload not updated: %s", payload)
		}
	})

	t.Run("one failure never blocks the rest", func(t *testing.T) {
		h := newServiceHarness(t, pqi.ModeOnline)
		startOfflineAndQueue(t, h, "criterion:c1", "criterion:c2", "criterion:c3")
		h.gw.SendErr = &pqi.NetworkError{Op: "send", Err: errors.New("timeout")}
		h.gw.FailKeys["criterion:c2"] = true

		summaries, err := h.svc.SyncAll(context.Background())
		if err != nil {
			t.Fatalf("SyncAll() error = %v", err)
		}
		if summaries[0].Synced != 2 || summaries[0].Failed != 1 {
			t.Errorf("summary = %+v", summaries[0])
		}
		if len(summaries[0].Errors) != 1 {
			t.Fatalf("errors = %v", summaries[0].Errors)
		}
		if summaries[0].Errors[0].Permanent {
			t.Error("network failure flagged permanent")
		}

		// Still offline: the tour did not drain clean.
		if !h.svc.IsOfflineActive() {
			t.Error("offline session ended despite a failed record")
		}
		count, _ := h.store.PendingCount()
		if count != 1 {
			t.Errorf("pending = %d, want 1", count)
		}

		// The failed record is flagged for display.
		tours, _ := h.store.ListPendingForSync()
		if len(tours) != 1 || len(tours[0].Records) != 1 {
			t.Fatalf("pending tours = %+v", tours)
		}
		if tours[0].Records[0].SyncState != pqi.SyncStateFailed {
			t.Errorf("sync state = %s, want failed", tours[0].Records[0].SyncState)
		}

		// Second run with the fault cleared drains the remainder.
		h.gw.SendErr = nil
		summaries, err = h.svc.SyncAll(context.Background())
		if err != nil {
			t.Fatalf("second SyncAll() error = %v", err)
		}
		if summaries[0].Synced != 1 || summaries[0].Failed != 0 {
			t.Errorf("second summary = %+v", summaries[0])
		}
		if h.svc.IsOfflineActive() {
			t.Error("offline session still active after clean drain")
		}
	})

	t.Run("permanent rejections are flagged for correction", func(t *testing.T) {
		h := newServiceHarness(t, pqi.ModeOnline)
		startOfflineAndQueue(t, h, "criterion:c1")
		h.gw.SendErr = &pqi.RemoteError{Status: 422, Message: "validation failed"}

		summaries, err := h.svc.SyncAll(context.Background())
		if err != nil {
			t.Fatalf("SyncAll() error = %v", err)
		}
		if len(summaries[0].Errors) != 1 || !summaries[0].Errors[0].Permanent {
			t.Errorf("errors = %+v, want one permanent", summaries[0].Errors)
		}
		if got := pqi.RetryableErrors(summaries[0]); len(got) != 0 {
			t.Errorf("RetryableErrors() = %v, want none", got)
		}
	})

	t.Run("clean drain clears degraded categories", func(t *testing.T) {
		h := newServiceHarness(t, pqi.ModeOnline)
		h.gw.SendErr = &pqi.NetworkError{Op: "send", Err: errors.New("refused")}
		if _, err := h.svc.RecordObservation(context.Background(), pqi.CategoryChecklist, "criterion:c1", nil); err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
		if !h.mode.CaptureOffline(pqi.CategoryChecklist) {
			t.Fatal("category not degraded")
		}

		h.gw.SendErr = nil
		if _, err := h.svc.SyncAll(context.Background()); err != nil {
			t.Fatalf("SyncAll() error = %v", err)
		}
		if h.mode.CaptureOffline(pqi.CategoryChecklist) {
			t.Error("category still degraded after clean drain")
		}
	})

	t.Run("a failure in any tour keeps the category degraded", func(t *testing.T) {
		h := newServiceHarness(t, pqi.ModeOnline)
		h.gw.SendErr = &pqi.NetworkError{Op: "send", Err: errors.New("timeout")}
		h.gw.FailKeys["criterion:a1"] = true

		// Live send fails and degrades the checklist category; the record
		// lands in the queue under the opened tour.
		if _, err := h.svc.RecordObservation(context.Background(), pqi.CategoryChecklist, "criterion:a1", nil); err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
		if !h.mode.CaptureOffline(pqi.CategoryChecklist) {
			t.Fatal("category not degraded")
		}

		// A second tour holds a checklist record that syncs fine. It sorts
		// after the failing tour, so it drains last.
		rec := &pqi.PendingRecord{
			ID:         "p2",
			TourID:     "tour-z",
			Category:   pqi.CategoryChecklist,
			NaturalKey: "criterion:b1",
			Payload:    json.RawMessage(`{}`),
			CreatedAt:  h.clock.Now(),
			SyncState:  pqi.SyncStatePending,
		}
		if err := h.store.UpsertPending(rec); err != nil {
			t.Fatalf("UpsertPending() error = %v", err)
		}

		summaries, err := h.svc.SyncAll(context.Background())
		if err != nil {
			t.Fatalf("SyncAll() error = %v", err)
		}
		if len(summaries) != 2 {
			t.Fatalf("summaries = %+v, want 2 tours", summaries)
		}
		if summaries[0].Failed != 1 || summaries[1].Synced != 1 {
			t.Errorf("summaries = %+v", summaries)
		}

		// The clean second tour must not clear the flag the first tour's
		// failure earned.
		if !h.mode.CaptureOffline(pqi.CategoryChecklist) {
			t.Error("category cleared while still failing in another tour")
		}
	})

	t.Run("cancellation marks remaining records failed", func(t *testing.T) {
		h := newServiceHarness(t, pqi.ModeOnline)
		startOfflineAndQueue(t, h, "criterion:c1", "criterion:c2")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		summaries, err := h.svc.SyncAll(ctx)
		if err == nil {
			t.Error("SyncAll() with cancelled context should error")
		}
		if len(summaries) != 1 || summaries[0].Failed != 2 || summaries[0].Synced != 0 {
			t.Errorf("summaries = %+v", summaries)
		}
		count, _ := h.store.PendingCount()
		if count != 2 {
			t.Errorf("pending = %d, want 2 untouched records", count)
		}
	})

	t.Run("empty queue is a no-op", func(t *testing.T) {
		h := newServiceHarness(t, pqi.ModeOnline)
		summaries, err := h.svc.SyncAll(context.Background())
		if err != nil {
			t.Fatalf("SyncAll() error = %v", err)
		}
		if len(summaries) != 0 {
			t.Errorf("summaries = %+v, want none", summaries)
		}
	})

	t.Run("drained tour is archived", func(t *testing.T) {
		h := newServiceHarness(t, pqi.ModeOnline)
		arch := archive.NewMemoryArchive("test")
		h.svc = pqi.NewPQIService(h.store, h.gw, h.tokens, h.conn, arch, h.mode,
			pqi.NewNopLogger(), h.clock, testutil.NewStubIDGenerator(), "user-1")
		startOfflineAndQueue(t, h, "criterion:c1")

		if _, err := h.svc.SyncAll(context.Background()); err != nil {
			t.Fatalf("SyncAll() error = %v", err)
		}
		if arch.Len() != 1 {
			t.Errorf("archived exports = %d, want 1", arch.Len())
		}

		// Snapshot and pending records are gone.
		tours, _ := h.store.ListPendingForSync()
		if len(tours) != 0 {
			t.Errorf("pending tours = %+v, want none", tours)
		}
	})
}

func TestDedupeOrdering(t *testing.T) {
	t.Parallel()

	// Records are replayed oldest first even after a same-key recapture
	// moved one to the back of the queue.
	h := newServiceHarness(t, pqi.ModeOnline)
	startOfflineAndQueue(t, h, "criterion:c1", "criterion:c2")

	// Recapture c1; it should now replay after c2.
	if _, err := h.svc.RecordObservation(context.Background(), pqi.CategoryChecklist, "criterion:c1", map[string]any{"v": 2}); err != nil {
		t.Fatalf("RecordObservation() error = %v", err)
	}

	tours, err := h.store.ListPendingForSync()
	if err != nil {
		t.Fatalf("ListPendingForSync() error = %v", err)
	}
	if len(tours) != 1 || len(tours[0].Records) != 2 {
		t.Fatalf("tours = %+v", tours)
	}
	if tours[0].Records[0].NaturalKey != "criterion:c2" {
		t.Errorf("first record = %s, want criterion:c2", tours[0].Records[0].NaturalKey)
	}
	if tours[0].Records[1].NaturalKey != "criterion:c1" {
		t.Errorf("second record = %s, want criterion:c1", tours[0].Records[1].NaturalKey)
	}
}
