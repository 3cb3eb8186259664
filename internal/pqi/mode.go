package pqi

import (
	"fmt"
	"sync"
)

// Mode is the capture mode of the core.
type Mode string

const (
	// ModeOnline: records go straight to the remote system.
	ModeOnline Mode = "online"
	// ModeOfflineArmed: the user started offline mode; the snapshot is
	// being fetched. No captures happen in this transient state.
	ModeOfflineArmed Mode = "offline-armed"
	// ModeOfflineActive: the user works against cached data only; every
	// record is queued locally.
	ModeOfflineActive Mode = "offline-active"
)

// ModeController tracks the capture mode and, independently, which
// categories have silently degraded to offline after a failed live write.
// The connectivity hint is tracked separately again and never drives a mode
// transition on its own.
//
// Guarded by a mutex: the CLI has no single-threaded event loop, so the
// mutex provides the single-writer property the design assumes.
type ModeController struct {
	mu        sync.Mutex
	mode      Mode
	degraded  map[Category]bool
	connected bool
	logger    Logger
	persist   func(Mode) error
}

// NewModeController creates a controller starting in the given mode.
// persist, if non-nil, is called after every mode transition so the mode
// survives process restarts. A persist failure is reported by the
// transition that triggered it.
func NewModeController(initial Mode, logger Logger, persist func(Mode) error) *ModeController {
	if initial == "" {
		initial = ModeOnline
	}
	return &ModeController{
		mode:      initial,
		degraded:  make(map[Category]bool),
		connected: true,
		logger:    logger,
		persist:   persist,
	}
}

// Mode returns the current capture mode.
func (m *ModeController) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Arm transitions Online → OfflineArmed.
func (m *ModeController) Arm() error {
	return m.transition(ModeOnline, ModeOfflineArmed)
}

// Activate transitions OfflineArmed → OfflineActive once the snapshot is in.
func (m *ModeController) Activate() error {
	return m.transition(ModeOfflineArmed, ModeOfflineActive)
}

// Disarm transitions OfflineArmed → Online after a failed bootstrap, so the
// user is never left partially armed.
func (m *ModeController) Disarm() error {
	return m.transition(ModeOfflineArmed, ModeOnline)
}

// Deactivate transitions OfflineActive → Online after a fully clean sync,
// clearing the degraded set.
func (m *ModeController) Deactivate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != ModeOfflineActive {
		return fmt.Errorf("invalid mode transition: %s -> %s", m.mode, ModeOnline)
	}
	m.degraded = make(map[Category]bool)
	return m.setLocked(ModeOnline)
}

func (m *ModeController) transition(from, to Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != from {
		return fmt.Errorf("invalid mode transition: %s -> %s", m.mode, to)
	}
	return m.setLocked(to)
}

func (m *ModeController) setLocked(to Mode) error {
	prev := m.mode
	m.mode = to
	m.logger.Info("mode transition", "from", prev, "to", to)
	if m.persist != nil {
		if err := m.persist(to); err != nil {
			return fmt.Errorf("persisting mode: %w", err)
		}
	}
	return nil
}

// OfflineActive reports whether the user is mid offline session.
func (m *ModeController) OfflineActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode == ModeOfflineActive
}

// MarkDegraded records that live writes for the category are failing and
// subsequent writes should queue without the user pre-arming offline mode.
func (m *ModeController) MarkDegraded(c Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.degraded[c] {
		m.degraded[c] = true
		m.logger.Warn("category degraded to offline", "category", c)
	}
}

// ClearDegraded removes the category from the degraded set after its queue
// drained without failures.
func (m *ModeController) ClearDegraded(c Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.degraded[c] {
		delete(m.degraded, c)
		m.logger.Info("category back online", "category", c)
	}
}

// Degraded returns the categories currently degraded to offline, in the
// stable category order.
func (m *ModeController) Degraded() []Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Category
	for _, c := range Categories {
		if m.degraded[c] {
			out = append(out, c)
		}
	}
	return out
}

// CaptureOffline reports whether a record for the category should be queued
// locally instead of sent live.
func (m *ModeController) CaptureOffline(c Category) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode == ModeOfflineActive || m.degraded[c]
}

// SetConnected updates the connectivity hint.
func (m *ModeController) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected != connected {
		m.connected = connected
		m.logger.Debug("connectivity hint changed", "connected", connected)
	}
}

// Connected returns the last known connectivity hint.
func (m *ModeController) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}
