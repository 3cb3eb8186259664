package pqi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// SyncAll drains every tour's queue through the gateway and returns one
// summary per tour. The pending set is snapshotted once at the start;
// records queued mid-run wait for the next invocation.
//
// Failures are per-record and non-fatal to the batch: one bad record never
// blocks the rest. A tour is cleared only when every one of its records
// synced; offline mode deactivates only when every tour drained clean.
func (s *PQIService) SyncAll(ctx context.Context) ([]SyncSummary, error) {
	tours, err := s.store.ListPendingForSync()
	if err != nil {
		return nil, fmt.Errorf("listing pending records: %w", err)
	}

	s.logger.Info("sync run started", "tours", len(tours))

	allClean := true
	failedCategories := make(map[Category]bool)
	summaries := make([]SyncSummary, 0, len(tours))
	for _, tp := range tours {
		summary := s.syncTour(ctx, tp, failedCategories)
		if !summary.Clean() {
			allClean = false
		}
		summaries = append(summaries, summary)
	}

	// Degraded categories clear only against the whole run: a category that
	// failed in any tour stays degraded even if another tour drained clean.
	if len(tours) > 0 {
		for _, c := range Categories {
			if !failedCategories[c] {
				s.mode.ClearDegraded(c)
			}
		}
	}

	if allClean && s.mode.OfflineActive() {
		if err := s.mode.Deactivate(); err != nil {
			return summaries, err
		}
	}

	s.logger.Info("sync run finished", "tours", len(summaries), "clean", allClean)

	if ctx.Err() != nil {
		return summaries, fmt.Errorf("sync cancelled: %w", ctx.Err())
	}
	return summaries, nil
}

// syncTour replays one tour's records in creation order, accumulating the
// categories that failed into failedCategories. Categories are independent;
// within one category the store holds at most one record per natural key, so
// creation order preserves last-write-wins end to end.
func (s *PQIService) syncTour(ctx context.Context, tp TourPending, failedCategories map[Category]bool) SyncSummary {
	summary := SyncSummary{TourID: tp.TourID}
	records := dedupeByNaturalKey(tp.Records)

	for i, rec := range records {
		// Cancellation is honored between records, never mid-call.
		if ctx.Err() != nil {
			for _, rest := range records[i:] {
				summary.Failed++
				failedCategories[rest.Category] = true
				summary.Errors = append(summary.Errors, SyncError{
					Category:   rest.Category,
					NaturalKey: rest.NaturalKey,
					Message:    "sync cancelled",
				})
			}
			break
		}

		if _, err := s.gateway.Send(ctx, rec); err != nil {
			summary.Failed++
			failedCategories[rec.Category] = true
			summary.Errors = append(summary.Errors, SyncError{
				Category:   rec.Category,
				NaturalKey: rec.NaturalKey,
				Message:    err.Error(),
				Permanent:  !IsRetryable(err),
			})
			if merr := s.store.MarkPendingFailed(rec.TourID, rec.Category, rec.NaturalKey); merr != nil {
				s.logger.Error("marking record failed", "error", merr)
			}
			s.logger.Warn("record sync failed",
				"tour_id", rec.TourID, "category", rec.Category,
				"natural_key", rec.NaturalKey, "error", err)
			continue
		}

		if err := s.store.RemovePending(rec.TourID, rec.Category, rec.NaturalKey); err != nil {
			// The remote write landed; the gateway's natural-key lookup
			// makes a replay on the next run idempotent.
			s.logger.Error("removing synced record", "error", err)
		}
		summary.Synced++
	}

	if summary.Clean() {
		s.finishDrain(ctx, tp.TourID, summary.Synced)
	}
	return summary
}

// finishDrain clears a fully synced tour from the local store and archives
// its export bundle. Archive failures are logged, never fatal.
func (s *PQIService) finishDrain(ctx context.Context, tourID string, syncedCount int) {
	snapshot, err := s.store.LoadSnapshot(tourID)
	if err != nil {
		s.logger.Error("loading snapshot before clear", "tour_id", tourID, "error", err)
	}

	if err := s.store.ClearTour(tourID); err != nil {
		s.logger.Error("clearing drained tour", "tour_id", tourID, "error", err)
		return
	}
	s.logger.Info("tour drained clean", "tour_id", tourID, "synced", syncedCount)

	if s.archive == nil {
		return
	}
	export := TourExport{
		SyncedRecords: syncedCount,
		ExportedAt:    s.clock.Now(),
	}
	if tour, err := s.store.LoadTour(tourID); err == nil && tour != nil {
		export.Tour = *tour
	} else {
		export.Tour = Tour{ID: tourID}
	}
	if snapshot != nil {
		export.SnapshotFetchedAt = snapshot.FetchedAt
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		s.logger.Error("encoding tour export", "tour_id", tourID, "error", err)
		return
	}
	if err := s.archive.PutExport(ctx, tourID, bytes.NewReader(data), int64(len(data))); err != nil {
		s.logger.Warn("archiving tour export failed", "tour_id", tourID, "error", err)
		return
	}
	s.logger.Info("tour export archived", "tour_id", tourID)
}

// dedupeByNaturalKey defensively collapses records targeting the same
// (category, natural key), keeping the newest by creation time. The store's
// upsert already guarantees this, but older storage contents or manual edits
// must not produce duplicate remote writes. Replay order stays ascending.
func dedupeByNaturalKey(records []*PendingRecord) []*PendingRecord {
	type key struct {
		category   Category
		naturalKey string
	}
	newest := make(map[key]*PendingRecord, len(records))
	for _, rec := range records {
		k := key{rec.Category, rec.NaturalKey}
		if cur, ok := newest[k]; !ok || rec.CreatedAt.After(cur.CreatedAt) {
			newest[k] = rec
		}
	}

	out := make([]*PendingRecord, 0, len(newest))
	for _, rec := range records {
		if newest[key{rec.Category, rec.NaturalKey}] == rec {
			out = append(out, rec)
		}
	}
	return out
}

// RetryableErrors filters a summary's errors down to the ones that will be
// retried automatically on the next run.
func RetryableErrors(summary SyncSummary) []SyncError {
	var out []SyncError
	for _, e := range summary.Errors {
		if !e.Permanent {
			out = append(out, e)
		}
	}
	return out
}
