package pqi_test

import (
	"fmt"
	"testing"

	"pqi-go/internal/pqi"
)

func TestModeController_Transitions(t *testing.T) {
	t.Parallel()

	t.Run("arm activate deactivate cycle", func(t *testing.T) {
		m := pqi.NewModeController(pqi.ModeOnline, pqi.NewNopLogger(), nil)

		if err := m.Arm(); err != nil {
			t.Fatalf("Arm() error = %v", err)
		}
		if got := m.Mode(); got != pqi.ModeOfflineArmed {
			t.Errorf("Mode() = %s, want %s", got, pqi.ModeOfflineArmed)
		}

		if err := m.Activate(); err != nil {
			t.Fatalf("Activate() error = %v", err)
		}
		if !m.OfflineActive() {
			t.Error("OfflineActive() = false, want true")
		}

		if err := m.Deactivate(); err != nil {
			t.Fatalf("Deactivate() error = %v", err)
		}
		if got := m.Mode(); got != pqi.ModeOnline {
			t.Errorf("Mode() = %s, want %s", got, pqi.ModeOnline)
		}
	})

	t.Run("disarm returns to online after failed bootstrap", func(t *testing.T) {
		m := pqi.NewModeController(pqi.ModeOnline, pqi.NewNopLogger(), nil)
		if err := m.Arm(); err != nil {
			t.Fatalf("Arm() error = %v", err)
		}
		if err := m.Disarm(); err != nil {
			t.Fatalf("Disarm() error = %v", err)
		}
		if got := m.Mode(); got != pqi.ModeOnline {
			t.Errorf("Mode() = %s, want %s", got, pqi.ModeOnline)
		}
	})

	t.Run("invalid transitions rejected", func(t *testing.T) {
		m := pqi.NewModeController(pqi.ModeOnline, pqi.NewNopLogger(), nil)
		if err := m.Activate(); err == nil {
			t.Error("Activate() from online should fail")
		}
		if err := m.Deactivate(); err == nil {
			t.Error("Deactivate() from online should fail")
		}
		if err := m.Disarm(); err == nil {
			t.Error("Disarm() from online should fail")
		}
	})

	t.Run("empty initial mode defaults to online", func(t *testing.T) {
		m := pqi.NewModeController("", pqi.NewNopLogger(), nil)
		if got := m.Mode(); got != pqi.ModeOnline {
			t.Errorf("Mode() = %s, want %s", got, pqi.ModeOnline)
		}
	})
}

func TestModeController_Persist(t *testing.T) {
	t.Parallel()

	t.Run("transitions call persist", func(t *testing.T) {
		var persisted []pqi.Mode
		m := pqi.NewModeController(pqi.ModeOnline, pqi.NewNopLogger(), func(mode pqi.Mode) error {
			persisted = append(persisted, mode)
			return nil
		})

		if err := m.Arm(); err != nil {
			t.Fatalf("Arm() error = %v", err)
		}
		if err := m.Activate(); err != nil {
			t.Fatalf("Activate() error = %v", err)
		}

		want := []pqi.Mode{pqi.ModeOfflineArmed, pqi.ModeOfflineActive}
		if len(persisted) != len(want) {
			t.Fatalf("persisted %d modes, want %d", len(persisted), len(want))
		}
		for i := range want {
			if persisted[i] != want[i] {
				t.Errorf("persisted[%d] = %s, want %s", i, persisted[i], want[i])
			}
		}
	})

	t.Run("persist failure surfaces on the transition", func(t *testing.T) {
		m := pqi.NewModeController(pqi.ModeOnline, pqi.NewNopLogger(), func(pqi.Mode) error {
			return fmt.Errorf("disk gone")
		})
		if err := m.Arm(); err == nil {
			t.Error("Arm() should surface persist failure")
		}
	})
}

func TestModeController_Degraded(t *testing.T) {
	t.Parallel()

	m := pqi.NewModeController(pqi.ModeOnline, pqi.NewNopLogger(), nil)

	if m.CaptureOffline(pqi.CategoryChecklist) {
		t.Error("CaptureOffline() = true while online and not degraded")
	}

	m.MarkDegraded(pqi.CategorySieveMagnet)
	m.MarkDegraded(pqi.CategoryChecklist)

	if !m.CaptureOffline(pqi.CategorySieveMagnet) {
		t.Error("CaptureOffline() = false for degraded category")
	}
	if m.CaptureOffline(pqi.CategoryCreamPercentage) {
		t.Error("CaptureOffline() = true for untouched category")
	}

	// Stable category order, not insertion order.
	degraded := m.Degraded()
	if len(degraded) != 2 || degraded[0] != pqi.CategoryChecklist || degraded[1] != pqi.CategorySieveMagnet {
		t.Errorf("Degraded() = %v", degraded)
	}

	m.ClearDegraded(pqi.CategoryChecklist)
	if m.CaptureOffline(pqi.CategoryChecklist) {
		t.Error("CaptureOffline() = true after ClearDegraded")
	}

	// Deactivate clears the whole degraded set.
	if err := m.Arm(); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	if err := m.Activate(); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if err := m.Deactivate(); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if got := m.Degraded(); len(got) != 0 {
		t.Errorf("Degraded() after Deactivate = %v, want empty", got)
	}
}

func TestModeController_OfflineActiveCapturesEverything(t *testing.T) {
	t.Parallel()

	m := pqi.NewModeController(pqi.ModeOfflineActive, pqi.NewNopLogger(), nil)
	for _, c := range pqi.Categories {
		if !m.CaptureOffline(c) {
			t.Errorf("CaptureOffline(%s) = false during active offline session", c)
		}
	}
}
