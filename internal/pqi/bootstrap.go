package pqi

import (
	"context"
	"fmt"
)

// StartOfflineSession arms offline mode and fetches everything an offline
// session needs: token, employee identity, a created-or-resumed tour, the
// full criteria list, and the tour's prior observations, persisted as one
// snapshot.
//
// Token, employee, and tour failures abort the whole bootstrap — the user is
// never left partially armed. Criteria and observation failures degrade to
// empty lists; not every category needs them.
//
// Starting again mid offline session refreshes the snapshot if it has gone
// stale; with a fresh snapshot it is an error.
func (s *PQIService) StartOfflineSession(ctx context.Context) error {
	if s.mode.OfflineActive() {
		return s.refreshSnapshot(ctx)
	}

	if !s.connectivity.Online(ctx) {
		s.mode.SetConnected(false)
		return ErrNotConnected
	}
	s.mode.SetConnected(true)

	if err := s.mode.Arm(); err != nil {
		return err
	}
	s.logger.Info("offline bootstrap started", "user_id", s.userID)

	snapshot, err := s.bootstrapSnapshot(ctx)
	if err != nil {
		if derr := s.mode.Disarm(); derr != nil {
			s.logger.Error("disarm after failed bootstrap", "error", derr)
		}
		return err
	}

	if err := s.store.SaveSnapshot(snapshot); err != nil {
		if derr := s.mode.Disarm(); derr != nil {
			s.logger.Error("disarm after failed bootstrap", "error", derr)
		}
		return fmt.Errorf("persisting snapshot: %w", err)
	}

	if err := s.mode.Activate(); err != nil {
		return err
	}
	s.logger.Info("offline bootstrap complete",
		"tour_id", snapshot.TourID,
		"criteria", len(snapshot.Criteria),
		"observations", len(snapshot.Observations))
	return nil
}

// refreshSnapshot re-fetches the working snapshot without leaving offline
// mode. The session stays active throughout; a failed refresh leaves the old
// snapshot in place, so the user keeps working against stale data rather
// than none.
func (s *PQIService) refreshSnapshot(ctx context.Context) error {
	tour, err := s.store.ActiveTour()
	if err != nil {
		return fmt.Errorf("loading active tour: %w", err)
	}
	if tour == nil {
		return ErrNoActiveTour
	}
	snapshot, err := s.store.LoadSnapshot(tour.ID)
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	if snapshot != nil && !snapshot.Stale(s.clock.Now()) {
		return fmt.Errorf("offline session already active")
	}

	if !s.connectivity.Online(ctx) {
		s.mode.SetConnected(false)
		return ErrNotConnected
	}
	s.mode.SetConnected(true)

	s.logger.Info("refreshing stale snapshot", "tour_id", tour.ID)
	fresh, err := s.bootstrapSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("refreshing snapshot: %w", err)
	}
	if err := s.store.SaveSnapshot(fresh); err != nil {
		return fmt.Errorf("persisting refreshed snapshot: %w", err)
	}
	s.logger.Info("snapshot refreshed",
		"tour_id", fresh.TourID,
		"criteria", len(fresh.Criteria),
		"observations", len(fresh.Observations))
	return nil
}

func (s *PQIService) bootstrapSnapshot(ctx context.Context) (*Snapshot, error) {
	if _, err := s.tokens.Token(ctx); err != nil {
		return nil, fmt.Errorf("resolving token: %w", err)
	}

	employee, err := s.gateway.GetEmployee(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("resolving employee: %w", err)
	}

	tour, err := s.gateway.OpenTour(ctx, employee.Plant, employee.Department, employee.ID)
	if err != nil {
		return nil, fmt.Errorf("opening tour: %w", err)
	}
	if err := s.store.SaveTour(tour); err != nil {
		return nil, fmt.Errorf("saving tour: %w", err)
	}

	// All areas are fetched so offline navigation across sections works;
	// the filter is plant/department only.
	criteria, err := s.gateway.ListCriteria(ctx, employee.Plant, employee.Department)
	if err != nil {
		s.logger.Warn("criteria fetch failed, continuing with empty list", "error", err)
		criteria = nil
	}

	observations, err := s.gateway.ListObservations(ctx, tour.ID)
	if err != nil {
		s.logger.Warn("observation fetch failed, continuing with empty list", "error", err)
		observations = nil
	}

	return &Snapshot{
		TourID:       tour.ID,
		Criteria:     criteria,
		Employee:     *employee,
		Observations: observations,
		FetchedAt:    s.clock.Now(),
	}, nil
}
