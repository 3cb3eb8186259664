package testutil

import (
	"context"
	"fmt"
	"sync"

	"pqi-go/internal/pqi"
)

// FakeGateway is an in-memory stand-in for the remote inspection system.
// Sent records are kept per (category, natural key) so tests can assert
// idempotent replays update rather than duplicate.
type FakeGateway struct {
	mu sync.Mutex

	Employee     pqi.EmployeeDetails
	Criteria     []pqi.Criterion
	Observations []pqi.RemoteObservation

	// SendErr, when set, is returned by Send for matching natural keys (or
	// all keys when FailKeys is empty) until cleared.
	SendErr  error
	FailKeys map[string]bool

	// Errors returned by the other calls, for bootstrap failure tests.
	OpenTourErr    error
	EmployeeErr    error
	CriteriaErr    error
	ObservationErr error

	rows       map[string]*sentRow // keyed by category + "/" + natural key
	nextID     int
	openTours  map[string]*pqi.Tour // keyed by plant + "/" + department
	SendCalls  int
	finishedID string
}

type sentRow struct {
	RemoteID string
	Payload  []byte
	Writes   int
}

// NewFakeGateway creates a gateway seeded with a plausible employee.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		Employee: pqi.EmployeeDetails{
			ID:         "emp-1",
			Name:       "Test Inspector",
			Role:       "QA",
			Plant:      "plant-a",
			Department: "bakery",
		},
		rows:      make(map[string]*sentRow),
		openTours: make(map[string]*pqi.Tour),
		FailKeys:  make(map[string]bool),
	}
}

func (g *FakeGateway) OpenTour(_ context.Context, plant, department, employeeID string) (*pqi.Tour, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.OpenTourErr != nil {
		return nil, g.OpenTourErr
	}
	key := plant + "/" + department
	if t, ok := g.openTours[key]; ok {
		copied := *t
		return &copied, nil
	}
	g.nextID++
	t := &pqi.Tour{
		ID:         fmt.Sprintf("tour-%d", g.nextID),
		Plant:      plant,
		Department: department,
		Status:     pqi.TourInProgress,
	}
	g.openTours[key] = t
	copied := *t
	return &copied, nil
}

func (g *FakeGateway) FinishTour(_ context.Context, tourID string, score float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finishedID = tourID
	for key, t := range g.openTours {
		if t.ID == tourID {
			delete(g.openTours, key)
		}
	}
	return nil
}

func (g *FakeGateway) Send(_ context.Context, rec *pqi.PendingRecord) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.SendCalls++

	if g.SendErr != nil {
		if len(g.FailKeys) == 0 || g.FailKeys[rec.NaturalKey] {
			return "", g.SendErr
		}
	}

	key := string(rec.Category) + "/" + rec.NaturalKey
	if row, ok := g.rows[key]; ok {
		row.Payload = append([]byte(nil), rec.Payload...)
		row.Writes++
		return row.RemoteID, nil
	}
	g.nextID++
	row := &sentRow{
		RemoteID: fmt.Sprintf("remote-%d", g.nextID),
		Payload:  append([]byte(nil), rec.Payload...),
		Writes:   1,
	}
	g.rows[key] = row
	return row.RemoteID, nil
}

func (g *FakeGateway) GetEmployee(_ context.Context, userID string) (*pqi.EmployeeDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.EmployeeErr != nil {
		return nil, g.EmployeeErr
	}
	e := g.Employee
	return &e, nil
}

func (g *FakeGateway) ListCriteria(_ context.Context, plant, department string) ([]pqi.Criterion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CriteriaErr != nil {
		return nil, g.CriteriaErr
	}
	return append([]pqi.Criterion(nil), g.Criteria...), nil
}

func (g *FakeGateway) ListObservations(_ context.Context, tourID string) ([]pqi.RemoteObservation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ObservationErr != nil {
		return nil, g.ObservationErr
	}
	return append([]pqi.RemoteObservation(nil), g.Observations...), nil
}

// RowCount returns how many distinct remote rows exist. Replays of the same
// natural key must not grow this.
func (g *FakeGateway) RowCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rows)
}

// Writes returns how many times the row for (category, naturalKey) was
// written, zero if it never was.
func (g *FakeGateway) Writes(category pqi.Category, naturalKey string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if row, ok := g.rows[string(category)+"/"+naturalKey]; ok {
		return row.Writes
	}
	return 0
}

// LastPayload returns the current remote payload for (category, naturalKey).
func (g *FakeGateway) LastPayload(category pqi.Category, naturalKey string) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	if row, ok := g.rows[string(category)+"/"+naturalKey]; ok {
		return append([]byte(nil), row.Payload...)
	}
	return nil
}

// FinishedTourID returns the tour id passed to FinishTour, empty if none.
func (g *FakeGateway) FinishedTourID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finishedID
}

var _ pqi.Gateway = (*FakeGateway)(nil)
