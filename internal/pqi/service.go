package pqi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PQIService is the orchestration layer the CLI works against: it decides
// whether a record goes straight to the remote system or into the local
// queue, and owns the offline session lifecycle.
type PQIService struct {
	store        Store
	gateway      Gateway
	tokens       TokenSource
	connectivity Connectivity
	archive      Archive
	mode         *ModeController
	logger       Logger
	clock        Clock
	idgen        IDGenerator
	userID       string
}

// NewPQIService creates a new PQIService with the provided dependencies.
// archive may be nil when no archive backend is configured.
func NewPQIService(store Store, gateway Gateway, tokens TokenSource, connectivity Connectivity, archive Archive, mode *ModeController, logger Logger, clock Clock, idgen IDGenerator, userID string) *PQIService {
	return &PQIService{
		store:        store,
		gateway:      gateway,
		tokens:       tokens,
		connectivity: connectivity,
		archive:      archive,
		mode:         mode,
		logger:       logger,
		clock:        clock,
		idgen:        idgen,
		userID:       userID,
	}
}

// RecordObservation captures one record. It returns synced=true when the
// record went straight to the remote system and synced=false when it was
// queued locally — either because an offline session is active, the category
// already degraded, or the live write failed for a retryable reason.
//
// A record is never silently dropped: every failure path either queues it or
// returns an error.
func (s *PQIService) RecordObservation(ctx context.Context, category Category, naturalKey string, payload map[string]any) (bool, error) {
	if !category.Valid() {
		return false, fmt.Errorf("unknown category: %q", category)
	}
	if naturalKey == "" {
		return false, fmt.Errorf("natural key must not be empty")
	}

	tour, err := s.EnsureTour(ctx)
	if err != nil {
		return false, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encoding payload: %w", err)
	}

	rec := &PendingRecord{
		ID:         s.idgen.New(),
		TourID:     tour.ID,
		Category:   category,
		NaturalKey: naturalKey,
		Payload:    raw,
		CreatedAt:  s.clock.Now(),
		SyncState:  SyncStatePending,
	}

	if s.mode.CaptureOffline(category) {
		if err := s.store.UpsertPending(rec); err != nil {
			return false, err
		}
		return false, nil
	}

	if _, err := s.gateway.Send(ctx, rec); err != nil {
		return false, s.handleLiveWriteFailure(rec, err)
	}
	return true, nil
}

// handleLiveWriteFailure decides between degrade-to-offline (queue the
// record, mark the category degraded) and propagating the error. Permanent
// validation rejections and auth failures need the user; everything else
// queues.
func (s *PQIService) handleLiveWriteFailure(rec *PendingRecord, sendErr error) error {
	var authErr *AuthError
	if errors.As(sendErr, &authErr) {
		return sendErr
	}
	if !IsRetryable(sendErr) {
		return sendErr
	}

	var netErr *NetworkError
	if errors.As(sendErr, &netErr) {
		s.mode.SetConnected(false)
	}

	if err := s.store.UpsertPending(rec); err != nil {
		return fmt.Errorf("queueing after failed live write (%v): %w", sendErr, err)
	}
	s.mode.MarkDegraded(rec.Category)
	s.logger.Warn("live write failed, record queued",
		"category", rec.Category, "natural_key", rec.NaturalKey, "error", sendErr)
	return nil
}

// EnsureTour returns the active tour, opening one remotely when the user is
// online with no tour in progress. A tour id is required before any record
// can be created, so this cannot be deferred while offline.
func (s *PQIService) EnsureTour(ctx context.Context) (*Tour, error) {
	tour, err := s.store.ActiveTour()
	if err != nil {
		return nil, fmt.Errorf("loading active tour: %w", err)
	}
	if tour != nil {
		return tour, nil
	}
	if s.mode.OfflineActive() {
		// Bootstrap creates the tour before offline mode activates, so
		// this means the local state was cleared out from under us.
		return nil, ErrNoActiveTour
	}

	employee, err := s.gateway.GetEmployee(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("resolving employee: %w", err)
	}
	tour, err = s.gateway.OpenTour(ctx, employee.Plant, employee.Department, employee.ID)
	if err != nil {
		return nil, fmt.Errorf("opening tour: %w", err)
	}
	if err := s.store.SaveTour(tour); err != nil {
		return nil, fmt.Errorf("saving tour: %w", err)
	}
	return tour, nil
}

// Employee resolves the inspector identity, preferring the cached snapshot
// so offline sessions never need the network for it.
func (s *PQIService) Employee(ctx context.Context) (*EmployeeDetails, error) {
	tour, err := s.store.ActiveTour()
	if err != nil {
		return nil, fmt.Errorf("loading active tour: %w", err)
	}
	if tour != nil {
		snapshot, err := s.store.LoadSnapshot(tour.ID)
		if err != nil {
			return nil, fmt.Errorf("loading snapshot: %w", err)
		}
		if snapshot != nil && snapshot.Employee.ID != "" {
			employee := snapshot.Employee
			return &employee, nil
		}
	}
	if s.mode.OfflineActive() {
		return nil, fmt.Errorf("no cached employee details for offline session")
	}
	return s.gateway.GetEmployee(ctx, s.userID)
}

// Criteria fetches the checklist reference list for the inspector's plant
// and department from the remote system.
func (s *PQIService) Criteria(ctx context.Context) ([]Criterion, error) {
	if s.mode.OfflineActive() {
		return nil, ErrNotConnected
	}
	employee, err := s.Employee(ctx)
	if err != nil {
		return nil, err
	}
	return s.gateway.ListCriteria(ctx, employee.Plant, employee.Department)
}

// Now exposes the service clock for callers that timestamp derived data.
func (s *PQIService) Now() time.Time {
	return s.clock.Now()
}

// GetPendingCount returns the number of queued records across all tours.
func (s *PQIService) GetPendingCount() (int, error) {
	return s.store.PendingCount()
}

// IsOfflineActive reports whether an offline session is in progress.
func (s *PQIService) IsOfflineActive() bool {
	return s.mode.OfflineActive()
}

// Mode returns the current capture mode.
func (s *PQIService) Mode() Mode {
	return s.mode.Mode()
}

// FinishTour marks the active tour completed on the remote system with its
// derived score. The tour must have no queued records; sync first.
func (s *PQIService) FinishTour(ctx context.Context) error {
	tour, err := s.store.ActiveTour()
	if err != nil {
		return fmt.Errorf("loading active tour: %w", err)
	}
	if tour == nil {
		return ErrNoActiveTour
	}

	tours, err := s.store.ListPendingForSync()
	if err != nil {
		return fmt.Errorf("checking pending records: %w", err)
	}
	for _, tp := range tours {
		if tp.TourID == tour.ID && len(tp.Records) > 0 {
			return fmt.Errorf("tour %s has %d pending records, sync before finishing", tour.ID, len(tp.Records))
		}
	}

	observations, err := s.gateway.ListObservations(ctx, tour.ID)
	if err != nil {
		return fmt.Errorf("fetching observations for score: %w", err)
	}
	statuses := make([]string, len(observations))
	for i, o := range observations {
		statuses[i] = o.Status
	}
	score := TourScore(statuses)

	if err := s.gateway.FinishTour(ctx, tour.ID, score); err != nil {
		return fmt.Errorf("finishing tour: %w", err)
	}

	now := s.clock.Now()
	tour.Status = TourCompleted
	tour.CompletedAt = &now
	tour.Score = score
	if err := s.store.SaveTour(tour); err != nil {
		return fmt.Errorf("saving completed tour: %w", err)
	}
	if err := s.store.MarkTourCompleted(tour.ID); err != nil {
		return fmt.Errorf("marking tour completed: %w", err)
	}

	s.logger.Info("tour finished", "tour_id", tour.ID, "score", score)
	return nil
}
