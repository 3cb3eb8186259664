package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"pqi-go/internal/archive"
	"pqi-go/internal/auth"
	"pqi-go/internal/config"
	"pqi-go/internal/gateway"
	"pqi-go/internal/pqi"
	"pqi-go/internal/store"

	"github.com/google/uuid"
)

// App wires configuration into a ready-to-use service for one CLI
// invocation. Each invocation gets its own operation id so log lines from
// concurrent runs can be told apart.
type App struct {
	Config  *config.Config
	Service *pqi.PQIService
	Store   pqi.Store
	Archive pqi.Archive
	Logger  pqi.Logger

	logFile *os.File
}

// NewApp builds the dependency graph from config: clock, logger, token
// source, store, gateway, connectivity probe, optional archive, and the
// mode controller seeded from the persisted mode.
func NewApp(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	clock := &pqi.RealClock{}
	opID := uuid.New().String()[:8]

	slogger, logFile, err := newLogger(cfg.LogDir, fmt.Sprintf("%s-%s", operation, opID))
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	tokens, err := auth.NewTokenSourceFromConfig(cfg.Auth, clock, logger)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("setting up auth: %w", err)
	}

	st, err := store.NewStoreFromConfig(cfg.Store, clock)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("setting up store: %w", err)
	}

	if err := st.CheckSchema(); err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("store schema out of date: %w", err)
	}

	gw, err := gateway.NewGatewayFromConfig(cfg.API, tokens, logger)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("setting up gateway: %w", err)
	}

	connectivity := gateway.NewHTTPConnectivity(cfg.API.BaseURL)

	var arch pqi.Archive
	if len(cfg.Archives) > 0 {
		arch, err = archive.NewArchiveFromConfig(ctx, cfg.Archives[0])
		if err != nil {
			st.Close()
			logFile.Close()
			return nil, fmt.Errorf("setting up archive: %w", err)
		}
	}

	initialMode, err := st.LoadMode()
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("loading persisted mode: %w", err)
	}
	mode := pqi.NewModeController(initialMode, logger, st.SaveMode)

	idgen := pqi.NewTimestampIDGenerator(clock)
	svc := pqi.NewPQIService(st, gw, tokens, connectivity, arch, mode, logger, clock, idgen, cfg.UserID)

	return &App{
		Config:  cfg,
		Service: svc,
		Store:   st,
		Archive: arch,
		Logger:  logger,
		logFile: logFile,
	}, nil
}

// Close releases the store and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.Store.Close(); err != nil {
		firstErr = err
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// recordContext assembles the tour/employee context payload builders need.
func (a *App) recordContext(ctx context.Context) (pqi.RecordContext, error) {
	tour, err := a.Service.EnsureTour(ctx)
	if err != nil {
		return pqi.RecordContext{}, err
	}
	employee, err := a.Service.Employee(ctx)
	if err != nil {
		return pqi.RecordContext{}, err
	}
	return pqi.RecordContext{
		Tour:     tour,
		Employee: *employee,
		Now:      a.Service.Now(),
	}, nil
}

// lookupCriterion resolves a criterion id against the cached snapshot
// first, then the remote reference list.
func (a *App) lookupCriterion(ctx context.Context, rc pqi.RecordContext, criterionID string) (pqi.Criterion, error) {
	snapshot, err := a.Store.LoadSnapshot(rc.Tour.ID)
	if err != nil {
		return pqi.Criterion{}, fmt.Errorf("loading snapshot: %w", err)
	}
	if snapshot != nil {
		for _, c := range snapshot.Criteria {
			if c.ID == criterionID {
				return c, nil
			}
		}
	}
	if a.Service.IsOfflineActive() {
		return pqi.Criterion{}, fmt.Errorf("criterion %q not in cached checklist", criterionID)
	}

	criteria, err := a.Service.Criteria(ctx)
	if err != nil {
		return pqi.Criterion{}, err
	}
	for _, c := range criteria {
		if c.ID == criterionID {
			return c, nil
		}
	}
	return pqi.Criterion{}, fmt.Errorf("unknown criterion: %q", criterionID)
}

// RecordChecklist captures one checklist answer. Returns true when the
// record reached the remote system immediately.
func (a *App) RecordChecklist(ctx context.Context, criterionID string, response pqi.Response, nearMiss bool, comment string) (bool, error) {
	rc, err := a.recordContext(ctx)
	if err != nil {
		return false, err
	}
	criterion, err := a.lookupCriterion(ctx, rc, criterionID)
	if err != nil {
		return false, err
	}

	payload, err := pqi.BuildObservation(rc, criterion, response, nearMiss, map[string]any{"comment": comment})
	if err != nil {
		return false, err
	}
	category := pqi.CategoryChecklist
	if response == pqi.ResponseNotApplicable {
		category = pqi.CategoryNotApplicable
	}
	return a.Service.RecordObservation(ctx, category, pqi.ObservationNaturalKey(criterion), payload)
}

// RecordCreamCycle captures one cream-percentage weighing cycle.
func (a *App) RecordCreamCycle(ctx context.Context, cycle int, samples []pqi.WeightSample) (bool, error) {
	rc, err := a.recordContext(ctx)
	if err != nil {
		return false, err
	}
	payload, err := pqi.BuildCreamCycle(rc, cycle, samples)
	if err != nil {
		return false, err
	}
	key := pqi.CycleNaturalKey(pqi.CategoryCreamPercentage, cycle)
	return a.Service.RecordObservation(ctx, pqi.CategoryCreamPercentage, key, payload)
}

// RecordCycle captures a sieve/magnet or product-monitoring cycle.
func (a *App) RecordCycle(ctx context.Context, category pqi.Category, cycle int, fields map[string]any) (bool, error) {
	rc, err := a.recordContext(ctx)
	if err != nil {
		return false, err
	}
	payload, err := pqi.BuildCycleRecord(rc, category, cycle, fields)
	if err != nil {
		return false, err
	}
	return a.Service.RecordObservation(ctx, category, pqi.CycleNaturalKey(category, cycle), payload)
}

// StartOffline arms and activates an offline session.
func (a *App) StartOffline(ctx context.Context) error {
	return a.Service.StartOfflineSession(ctx)
}

// SyncAll drains the local queue.
func (a *App) SyncAll(ctx context.Context) ([]pqi.SyncSummary, error) {
	return a.Service.SyncAll(ctx)
}

// Status reports the local view of mode, queue, and snapshot state.
func (a *App) Status() (*pqi.StatusReport, error) {
	return a.Service.Status()
}

// FinishTour completes the active tour remotely.
func (a *App) FinishTour(ctx context.Context) error {
	return a.Service.FinishTour(ctx)
}

// PendingCount returns the number of queued records.
func (a *App) PendingCount() (int, error) {
	return a.Service.GetPendingCount()
}

// FetchExport writes a tour's archived export bundle to w.
func (a *App) FetchExport(ctx context.Context, tourID string, w io.Writer) error {
	if a.Archive == nil {
		return fmt.Errorf("no archive configured")
	}
	return a.Archive.GetExport(ctx, tourID, w)
}
