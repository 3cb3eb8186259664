package pqi

import "time"

// CategoryCount is the pending-record count for one category of a tour.
type CategoryCount struct {
	Category Category
	Count    int
}

// TourStatus summarizes one tour's queue for display.
type TourStatus struct {
	TourID  string
	Pending []CategoryCount
}

// StatusReport is what the status command renders: mode, connectivity hint,
// degraded categories, per-tour pending counts, and snapshot provenance.
type StatusReport struct {
	Mode              Mode
	Connected         bool
	Degraded          []Category
	PendingTotal      int
	Tours             []TourStatus
	ActiveTourID      string
	SnapshotFetchedAt time.Time
	SnapshotStale     bool
	SnapshotCriteria  int
}

// Status assembles the report from local state only; it never touches the
// network.
func (s *PQIService) Status() (*StatusReport, error) {
	report := &StatusReport{
		Mode:      s.mode.Mode(),
		Connected: s.mode.Connected(),
		Degraded:  s.mode.Degraded(),
	}

	tours, err := s.store.ListPendingForSync()
	if err != nil {
		return nil, err
	}
	for _, tp := range tours {
		counts := make(map[Category]int)
		for _, rec := range tp.Records {
			counts[rec.Category]++
		}
		ts := TourStatus{TourID: tp.TourID}
		for _, c := range Categories {
			if counts[c] > 0 {
				ts.Pending = append(ts.Pending, CategoryCount{Category: c, Count: counts[c]})
			}
		}
		report.Tours = append(report.Tours, ts)
		report.PendingTotal += len(tp.Records)
	}

	tour, err := s.store.ActiveTour()
	if err != nil {
		return nil, err
	}
	if tour == nil {
		return report, nil
	}
	report.ActiveTourID = tour.ID

	snapshot, err := s.store.LoadSnapshot(tour.ID)
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		report.SnapshotFetchedAt = snapshot.FetchedAt
		report.SnapshotStale = snapshot.Stale(s.clock.Now())
		report.SnapshotCriteria = len(snapshot.Criteria)
	}
	return report, nil
}
