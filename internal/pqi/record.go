package pqi

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record building is pure: given identical inputs the payload content is
// identical except for wall-clock timestamp fields, which come from the
// RecordContext so tests can pin them.

// Response is the user-facing answer to a checklist item.
type Response string

const (
	ResponseApproved      Response = "Approved"
	ResponseRejected      Response = "Rejected"
	ResponseNotApplicable Response = "Not Applicable"
)

// Domain status codes the remote system stores.
const (
	StatusApproved = "Approved"
	StatusPending  = "Pending" // rejected, awaiting review
	StatusRejected = "Rejected"
	StatusNA       = "NA"
)

// Severity codes. Approvals and NA always carry the baseline.
const (
	SeverityBaseline  = "S3"
	SeverityRejection = "S1"
	SeverityNearMiss  = "S2"
)

// StatusFor maps a user response to the domain status code for a category.
// Checklist rejections go to Pending (awaiting review); cycle rejections are
// recorded as Rejected outright.
func StatusFor(category Category, response Response) (string, error) {
	switch response {
	case ResponseApproved:
		return StatusApproved, nil
	case ResponseNotApplicable:
		return StatusNA, nil
	case ResponseRejected:
		if category == CategoryChecklist || category == CategoryNotApplicable {
			return StatusPending, nil
		}
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("unknown response: %q", response)
	}
}

// SeverityFor derives the severity code for a response. Only rejections
// carry an elevated severity; a near-miss rejection is distinguished from a
// plain one.
func SeverityFor(response Response, nearMiss bool) string {
	if response != ResponseRejected {
		return SeverityBaseline
	}
	if nearMiss {
		return SeverityNearMiss
	}
	return SeverityRejection
}

// CreamPercentage computes (sandwich-shell)/sandwich*100 from raw weight
// inputs, rounded to two decimals and formatted as a string (e.g. "60.00").
// Non-numeric input, a zero sandwich weight, or a shell heavier than the
// sandwich all yield nil, never an error and never NaN.
func CreamPercentage(sandwichWeight, shellWeight string) *string {
	sandwich, err := strconv.ParseFloat(strings.TrimSpace(sandwichWeight), 64)
	if err != nil {
		return nil
	}
	shell, err := strconv.ParseFloat(strings.TrimSpace(shellWeight), 64)
	if err != nil {
		return nil
	}
	if sandwich == 0 {
		return nil
	}
	pct := (sandwich - shell) / sandwich * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) || pct < 0 {
		return nil
	}
	out := fmt.Sprintf("%.2f", pct)
	return &out
}

// AverageOf averages the non-nil entries. All-nil (or empty) input yields
// nil, not zero.
func AverageOf(values []*float64) *float64 {
	var sum float64
	var n int
	for _, v := range values {
		if v == nil {
			continue
		}
		sum += *v
		n++
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

// TourScore derives the tour score percentage from domain status codes:
// approved over everything answered, NA excluded. No answered items yields
// zero.
func TourScore(statuses []string) float64 {
	var approved, answered int
	for _, s := range statuses {
		if s == StatusNA {
			continue
		}
		answered++
		if s == StatusApproved {
			approved++
		}
	}
	if answered == 0 {
		return 0
	}
	return math.Round(float64(approved)/float64(answered)*10000) / 100
}

// FieldMapping declares how one canonical payload field is filled from raw
// UI input: the first source key with a non-empty value wins.
type FieldMapping struct {
	Canonical string
	Sources   []string
}

// MapFields applies a mapping table to raw input. Missing sources map to an
// empty string so downstream consumers never see absent keys.
func MapFields(input map[string]any, mappings []FieldMapping) map[string]any {
	out := make(map[string]any, len(mappings))
	for _, m := range mappings {
		var val any = ""
		for _, src := range m.Sources {
			if v, ok := input[src]; ok && v != nil && v != "" {
				val = v
				break
			}
		}
		out[m.Canonical] = val
	}
	return out
}

// observationFields is the declarative mapping for checklist observations,
// replacing the original's scattered try-A-else-B lookups.
var observationFields = []FieldMapping{
	{Canonical: "comment", Sources: []string{"comment", "remarks", "observation"}},
	{Canonical: "section", Sources: []string{"section", "sectionName", "area"}},
	{Canonical: "question", Sources: []string{"question", "whatText", "what"}},
}

// RecordContext carries the session context a record is built against.
type RecordContext struct {
	Tour     *Tour
	Employee EmployeeDetails
	Now      time.Time
}

// BuildObservation constructs the canonical checklist-observation payload.
func BuildObservation(ctx RecordContext, criterion Criterion, response Response, nearMiss bool, extra map[string]any) (map[string]any, error) {
	if ctx.Tour == nil || ctx.Tour.ID == "" {
		return nil, ErrNoActiveTour
	}
	category := CategoryChecklist
	if response == ResponseNotApplicable {
		category = CategoryNotApplicable
	}
	status, err := StatusFor(category, response)
	if err != nil {
		return nil, err
	}

	payload := MapFields(extra, observationFields)
	payload["tourId"] = ctx.Tour.ID
	payload["criterionId"] = criterion.ID
	payload["area"] = criterion.Area
	payload["criteria"] = criterion.Criteria
	payload["status"] = status
	payload["severity"] = SeverityFor(response, nearMiss)
	payload["employeeId"] = ctx.Employee.ID
	payload["plant"] = ctx.Employee.Plant
	payload["department"] = ctx.Employee.Department
	payload["recordedAt"] = ctx.Now.UTC().Format(time.RFC3339)
	return payload, nil
}

// WeightSample is one sandwich/shell weighing within a cream cycle.
type WeightSample struct {
	SandwichWeight string
	ShellWeight    string
}

// BuildCreamCycle constructs the cream-percentage-cycle payload. Each sample
// yields its own percentage; the cycle average ignores undefined samples and
// is itself nil when every sample is undefined.
func BuildCreamCycle(ctx RecordContext, cycle int, samples []WeightSample) (map[string]any, error) {
	if ctx.Tour == nil || ctx.Tour.ID == "" {
		return nil, ErrNoActiveTour
	}

	percentages := make([]any, len(samples))
	numeric := make([]*float64, len(samples))
	for i, s := range samples {
		pct := CreamPercentage(s.SandwichWeight, s.ShellWeight)
		if pct == nil {
			percentages[i] = nil
			continue
		}
		percentages[i] = *pct
		f, err := strconv.ParseFloat(*pct, 64)
		if err == nil {
			numeric[i] = &f
		}
	}

	payload := map[string]any{
		"tourId":      ctx.Tour.ID,
		"cycle":       cycle,
		"percentages": percentages,
		"employeeId":  ctx.Employee.ID,
		"recordedAt":  ctx.Now.UTC().Format(time.RFC3339),
	}
	if avg := AverageOf(numeric); avg != nil {
		payload["average"] = fmt.Sprintf("%.2f", *avg)
	} else {
		payload["average"] = nil
	}
	return payload, nil
}

// cycleFields is the shared mapping for sieve/magnet and product-monitoring
// cycle records.
var cycleFields = []FieldMapping{
	{Canonical: "result", Sources: []string{"result", "status", "outcome"}},
	{Canonical: "remarks", Sources: []string{"remarks", "comment", "observation"}},
	{Canonical: "equipment", Sources: []string{"equipment", "machine", "line"}},
}

// BuildCycleRecord constructs a generic cycle payload for the sieve/magnet
// and product-monitoring categories.
func BuildCycleRecord(ctx RecordContext, category Category, cycle int, raw map[string]any) (map[string]any, error) {
	if ctx.Tour == nil || ctx.Tour.ID == "" {
		return nil, ErrNoActiveTour
	}
	if category != CategorySieveMagnet && category != CategoryProductMonitoring {
		return nil, fmt.Errorf("category %q is not a generic cycle category", category)
	}

	payload := MapFields(raw, cycleFields)
	payload["tourId"] = ctx.Tour.ID
	payload["cycle"] = cycle
	payload["employeeId"] = ctx.Employee.ID
	payload["recordedAt"] = ctx.Now.UTC().Format(time.RFC3339)
	return payload, nil
}

// ObservationNaturalKey builds the dedupe key for an observation. The
// durable criterion id is preferred; the free-text area name is only a
// fallback for reference lists that carry no id.
func ObservationNaturalKey(criterion Criterion) string {
	if criterion.ID != "" {
		return "criterion:" + criterion.ID
	}
	return "area:" + criterion.Area + ":" + criterion.What
}

// CycleNaturalKey builds the dedupe key for a numbered cycle record.
func CycleNaturalKey(category Category, cycle int) string {
	return fmt.Sprintf("%s:cycle:%d", category, cycle)
}
