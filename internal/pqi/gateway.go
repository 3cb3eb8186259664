package pqi

import "context"

// Gateway performs the actual network transmission against the remote
// inspection system. One adapter exists per record category; Send dispatches
// to the right one based on the record's category.
//
// Error contract: transport failures surface as *NetworkError, non-2xx
// responses as *RemoteError, and token problems as *AuthError. A 401/403
// triggers one token refresh and a single retry inside the gateway; all
// other failures propagate without retry — retrying is the synchronizer's
// job at a higher granularity.
type Gateway interface {
	// OpenTour creates a tour for the plant/department, or resumes the
	// existing in-progress one if the remote system has it.
	OpenTour(ctx context.Context, plant, department, employeeID string) (*Tour, error)

	// FinishTour marks the tour completed with its derived score.
	FinishTour(ctx context.Context, tourID string, score float64) error

	// Send transmits one record and returns the remote id it landed under.
	// Adapters look up an existing remote row by the record's natural key
	// first and update it when found, so replaying the same logical
	// observation twice never creates a duplicate remote row.
	Send(ctx context.Context, rec *PendingRecord) (string, error)

	// GetEmployee resolves the inspector identity for a user.
	GetEmployee(ctx context.Context, userID string) (*EmployeeDetails, error)

	// ListCriteria fetches the reference criteria for a plant/department.
	// All areas are returned; offline navigation needs every section.
	ListCriteria(ctx context.Context, plant, department string) ([]Criterion, error)

	// ListObservations fetches the tour's previously recorded observations.
	ListObservations(ctx context.Context, tourID string) ([]RemoteObservation, error)
}

// Connectivity reports whether the remote system looks reachable. It is a
// hint only; gateway calls still fail independently.
type Connectivity interface {
	Online(ctx context.Context) bool
}
