package pqi_test

import (
	"testing"
	"time"

	"pqi-go/internal/pqi"
)

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		category pqi.Category
		response pqi.Response
		want     string
	}{
		{"checklist approval", pqi.CategoryChecklist, pqi.ResponseApproved, pqi.StatusApproved},
		{"checklist rejection goes to pending review", pqi.CategoryChecklist, pqi.ResponseRejected, pqi.StatusPending},
		{"na rejection goes to pending review", pqi.CategoryNotApplicable, pqi.ResponseRejected, pqi.StatusPending},
		{"not applicable answer", pqi.CategoryNotApplicable, pqi.ResponseNotApplicable, pqi.StatusNA},
		{"cycle rejection is rejected outright", pqi.CategorySieveMagnet, pqi.ResponseRejected, pqi.StatusRejected},
		{"product cycle approval", pqi.CategoryProductMonitoring, pqi.ResponseApproved, pqi.StatusApproved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pqi.StatusFor(tt.category, tt.response)
			if err != nil {
				t.Fatalf("StatusFor() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("StatusFor(%s, %s) = %s, want %s", tt.category, tt.response, got, tt.want)
			}
		})
	}

	t.Run("unknown response is an error", func(t *testing.T) {
		if _, err := pqi.StatusFor(pqi.CategoryChecklist, "Maybe"); err == nil {
			t.Error("StatusFor() expected error for unknown response")
		}
	})
}

func TestSeverityFor(t *testing.T) {
	t.Parallel()

	if got := pqi.SeverityFor(pqi.ResponseApproved, false); got != pqi.SeverityBaseline {
		t.Errorf("approval severity = %s, want %s", got, pqi.SeverityBaseline)
	}
	if got := pqi.SeverityFor(pqi.ResponseApproved, true); got != pqi.SeverityBaseline {
		t.Errorf("approval with near-miss flag = %s, want %s", got, pqi.SeverityBaseline)
	}
	if got := pqi.SeverityFor(pqi.ResponseRejected, false); got != pqi.SeverityRejection {
		t.Errorf("rejection severity = %s, want %s", got, pqi.SeverityRejection)
	}
	if got := pqi.SeverityFor(pqi.ResponseRejected, true); got != pqi.SeverityNearMiss {
		t.Errorf("near-miss rejection severity = %s, want %s", got, pqi.SeverityNearMiss)
	}
}

func TestCreamPercentage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sandwich string
		shell    string
		want     string // empty means nil expected
	}{
		{"plain computation", "100", "40", "60.00"},
		{"rounds to two decimals", "30", "20", "33.33"},
		{"whitespace tolerated", " 100 ", " 40 ", "60.00"},
		{"zero sandwich weight", "0", "5", ""},
		{"shell heavier than sandwich", "50", "60", ""},
		{"non-numeric sandwich", "abc", "40", ""},
		{"non-numeric shell", "100", "", ""},
		{"equal weights give zero cream", "50", "50", "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pqi.CreamPercentage(tt.sandwich, tt.shell)
			if tt.want == "" {
				if got != nil {
					t.Errorf("CreamPercentage(%q, %q) = %q, want nil", tt.sandwich, tt.shell, *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("CreamPercentage(%q, %q) = nil, want %q", tt.sandwich, tt.shell, tt.want)
			}
			if *got != tt.want {
				t.Errorf("CreamPercentage(%q, %q) = %q, want %q", tt.sandwich, tt.shell, *got, tt.want)
			}
		})
	}
}

func TestAverageOf(t *testing.T) {
	t.Parallel()

	f := func(v float64) *float64 { return &v }

	t.Run("ignores nil entries", func(t *testing.T) {
		got := pqi.AverageOf([]*float64{f(10), nil, f(20)})
		if got == nil || *got != 15 {
			t.Errorf("AverageOf() = %v, want 15", got)
		}
	})

	t.Run("all nil yields nil not zero", func(t *testing.T) {
		if got := pqi.AverageOf([]*float64{nil, nil}); got != nil {
			t.Errorf("AverageOf() = %v, want nil", *got)
		}
	})

	t.Run("empty yields nil", func(t *testing.T) {
		if got := pqi.AverageOf(nil); got != nil {
			t.Errorf("AverageOf() = %v, want nil", *got)
		}
	})
}

func TestTourScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		statuses []string
		want     float64
	}{
		{"all approved", []string{pqi.StatusApproved, pqi.StatusApproved}, 100},
		{"na excluded from denominator", []string{pqi.StatusApproved, pqi.StatusNA, pqi.StatusNA}, 100},
		{"mixed outcomes", []string{pqi.StatusApproved, pqi.StatusPending, pqi.StatusRejected}, 33.33},
		{"no answered items", []string{pqi.StatusNA}, 0},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pqi.TourScore(tt.statuses); got != tt.want {
				t.Errorf("TourScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMapFields(t *testing.T) {
	t.Parallel()

	mappings := []pqi.FieldMapping{
		{Canonical: "comment", Sources: []string{"comment", "remarks"}},
		{Canonical: "section", Sources: []string{"section", "area"}},
	}

	t.Run("first non-empty source wins", func(t *testing.T) {
		out := pqi.MapFields(map[string]any{"comment": "", "remarks": "from remarks", "area": "mixing"}, mappings)
		if out["comment"] != "from remarks" {
			t.Errorf("comment = %v, want %q", out["comment"], "from remarks")
		}
		if out["section"] != "mixing" {
			t.Errorf("section = %v, want %q", out["section"], "mixing")
		}
	})

	t.Run("missing sources map to empty string", func(t *testing.T) {
		out := pqi.MapFields(map[string]any{}, mappings)
		if out["comment"] != "" {
			t.Errorf("comment = %v, want empty string", out["comment"])
		}
		if _, ok := out["section"]; !ok {
			t.Error("section key missing, want present with empty value")
		}
	})
}

func testRecordContext() pqi.RecordContext {
	return pqi.RecordContext{
		Tour: &pqi.Tour{ID: "tour-1", Plant: "plant-a", Department: "bakery"},
		Employee: pqi.EmployeeDetails{
			ID: "emp-1", Plant: "plant-a", Department: "bakery",
		},
		Now: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestBuildObservation(t *testing.T) {
	t.Parallel()

	criterion := pqi.Criterion{ID: "crit-9", Area: "mixing", Criteria: "Bowls clean"}

	t.Run("fills identity and derived fields", func(t *testing.T) {
		payload, err := pqi.BuildObservation(testRecordContext(), criterion, pqi.ResponseRejected, true, map[string]any{"comment": "residue on rim"})
		if err != nil {
			t.Fatalf("BuildObservation() error = %v", err)
		}
		if payload["tourId"] != "tour-1" {
			t.Errorf("tourId = %v", payload["tourId"])
		}
		if payload["criterionId"] != "crit-9" {
			t.Errorf("criterionId = %v", payload["criterionId"])
		}
		if payload["status"] != pqi.StatusPending {
			t.Errorf("status = %v, want %s", payload["status"], pqi.StatusPending)
		}
		if payload["severity"] != pqi.SeverityNearMiss {
			t.Errorf("severity = %v, want %s", payload["severity"], pqi.SeverityNearMiss)
		}
		if payload["comment"] != "residue on rim" {
			t.Errorf("comment = %v", payload["comment"])
		}
		if payload["recordedAt"] != "2024-01-15T10:30:00Z" {
			t.Errorf("recordedAt = %v", payload["recordedAt"])
		}
	})

	t.Run("na response carries NA status", func(t *testing.T) {
		payload, err := pqi.BuildObservation(testRecordContext(), criterion, pqi.ResponseNotApplicable, false, nil)
		if err != nil {
			t.Fatalf("BuildObservation() error = %v", err)
		}
		if payload["status"] != pqi.StatusNA {
			t.Errorf("status = %v, want %s", payload["status"], pqi.StatusNA)
		}
	})

	t.Run("requires an active tour", func(t *testing.T) {
		ctx := testRecordContext()
		ctx.Tour = nil
		if _, err := pqi.BuildObservation(ctx, criterion, pqi.ResponseApproved, false, nil); err != pqi.ErrNoActiveTour {
			t.Errorf("error = %v, want ErrNoActiveTour", err)
		}
	})
}

func TestBuildCreamCycle(t *testing.T) {
	t.Parallel()

	t.Run("per-sample percentages and average", func(t *testing.T) {
		payload, err := pqi.BuildCreamCycle(testRecordContext(), 2, []pqi.WeightSample{
			{SandwichWeight: "100", ShellWeight: "40"},
			{SandwichWeight: "abc", ShellWeight: "40"},
			{SandwichWeight: "100", ShellWeight: "60"},
		})
		if err != nil {
			t.Fatalf("BuildCreamCycle() error = %v", err)
		}

		percentages, ok := payload["percentages"].([]any)
		if !ok || len(percentages) != 3 {
			t.Fatalf("percentages = %v", payload["percentages"])
		}
		if percentages[0] != "60.00" {
			t.Errorf("percentages[0] = %v, want 60.00", percentages[0])
		}
		if percentages[1] != nil {
			t.Errorf("percentages[1] = %v, want nil", percentages[1])
		}
		if payload["average"] != "50.00" {
			t.Errorf("average = %v, want 50.00", payload["average"])
		}
		if payload["cycle"] != 2 {
			t.Errorf("cycle = %v, want 2", payload["cycle"])
		}
	})

	t.Run("all undefined samples give nil average", func(t *testing.T) {
		payload, err := pqi.BuildCreamCycle(testRecordContext(), 1, []pqi.WeightSample{
			{SandwichWeight: "0", ShellWeight: "5"},
		})
		if err != nil {
			t.Fatalf("BuildCreamCycle() error = %v", err)
		}
		if payload["average"] != nil {
			t.Errorf("average = %v, want nil", payload["average"])
		}
	})
}

func TestBuildCycleRecord(t *testing.T) {
	t.Parallel()

	t.Run("maps canonical fields", func(t *testing.T) {
		payload, err := pqi.BuildCycleRecord(testRecordContext(), pqi.CategorySieveMagnet, 3, map[string]any{
			"result":  "OK",
			"machine": "line-2",
		})
		if err != nil {
			t.Fatalf("BuildCycleRecord() error = %v", err)
		}
		if payload["result"] != "OK" {
			t.Errorf("result = %v", payload["result"])
		}
		if payload["equipment"] != "line-2" {
			t.Errorf("equipment = %v, want line-2", payload["equipment"])
		}
		if payload["cycle"] != 3 {
			t.Errorf("cycle = %v", payload["cycle"])
		}
	})

	t.Run("rejects non-cycle categories", func(t *testing.T) {
		if _, err := pqi.BuildCycleRecord(testRecordContext(), pqi.CategoryChecklist, 1, nil); err == nil {
			t.Error("expected error for checklist category")
		}
	})
}

func TestNaturalKeys(t *testing.T) {
	t.Parallel()

	t.Run("criterion id preferred", func(t *testing.T) {
		got := pqi.ObservationNaturalKey(pqi.Criterion{ID: "crit-1", Area: "mixing", What: "Bowls"})
		if got != "criterion:crit-1" {
			t.Errorf("ObservationNaturalKey() = %q", got)
		}
	})

	t.Run("area fallback without id", func(t *testing.T) {
		got := pqi.ObservationNaturalKey(pqi.Criterion{Area: "mixing", What: "Bowls"})
		if got != "area:mixing:Bowls" {
			t.Errorf("ObservationNaturalKey() = %q", got)
		}
	})

	t.Run("cycle key includes category and number", func(t *testing.T) {
		got := pqi.CycleNaturalKey(pqi.CategoryCreamPercentage, 4)
		if got != "cream-percentage-cycle:cycle:4" {
			t.Errorf("CycleNaturalKey() = %q", got)
		}
	})
}
