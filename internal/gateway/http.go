package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pqi-go/internal/pqi"
)

// HTTPGateway implements pqi.Gateway against the remote inspection API.
// One adapter exists per category; each knows its endpoint, how to turn a
// record's natural key into the existence query, and how to decode the
// response id.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	tokens  pqi.TokenSource
	logger  pqi.Logger
}

var _ pqi.Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates a gateway for the API at baseURL. timeout applies
// to every request; a timeout surfaces as a NetworkError like any other
// transport failure.
func NewHTTPGateway(baseURL string, timeout time.Duration, tokens pqi.TokenSource, logger pqi.Logger) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
		logger:  logger,
	}
}

// categoryAdapter binds one record category to its remote endpoint.
type categoryAdapter struct {
	// path is the collection endpoint, e.g. "/checklist/observations".
	path string
	// query builds the natural-key existence query for a record.
	query func(rec *pqi.PendingRecord) url.Values
	// decodeID extracts the remote id from a create/query response body.
	// It fails loudly when none of the expected fields are present.
	decodeID func(body []byte) (string, error)
}

var adapters = map[pqi.Category]categoryAdapter{
	pqi.CategoryChecklist: {
		path:     "/checklist/observations",
		query:    observationQuery,
		decodeID: decodeIDFields("observationId", "id"),
	},
	pqi.CategoryNotApplicable: {
		path:     "/checklist/observations",
		query:    observationQuery,
		decodeID: decodeIDFields("observationId", "id"),
	},
	pqi.CategoryCreamPercentage: {
		path:     "/cycles/cream-percentage",
		query:    cycleQuery,
		decodeID: decodeIDFields("cycleId", "id"),
	},
	pqi.CategorySieveMagnet: {
		path:     "/cycles/sieve-and-magnet",
		query:    cycleQuery,
		decodeID: decodeIDFields("cycleId", "id"),
	},
	pqi.CategoryProductMonitoring: {
		path:     "/cycles/product-monitoring",
		query:    cycleQuery,
		decodeID: decodeIDFields("cycleId", "id"),
	},
}

// observationQuery queries by tour and criterion. The natural key prefers
// the durable criterion id; free-text area keys fall back to a key filter.
func observationQuery(rec *pqi.PendingRecord) url.Values {
	v := url.Values{}
	v.Set("tourId", rec.TourID)
	if id, ok := strings.CutPrefix(rec.NaturalKey, "criterion:"); ok {
		v.Set("criterionId", id)
	} else {
		v.Set("naturalKey", rec.NaturalKey)
	}
	return v
}

// cycleQuery queries by tour and cycle number embedded in the natural key
// ("<category>:cycle:<n>").
func cycleQuery(rec *pqi.PendingRecord) url.Values {
	v := url.Values{}
	v.Set("tourId", rec.TourID)
	if i := strings.LastIndex(rec.NaturalKey, ":cycle:"); i >= 0 {
		v.Set("cycle", rec.NaturalKey[i+len(":cycle:"):])
	} else {
		v.Set("naturalKey", rec.NaturalKey)
	}
	return v
}

// decodeIDFields builds a decoder that tries the given fields in order and
// fails loudly when none are present, rather than silently returning "".
func decodeIDFields(fields ...string) func(body []byte) (string, error) {
	return func(body []byte) (string, error) {
		var m map[string]any
		if err := json.Unmarshal(body, &m); err != nil {
			return "", fmt.Errorf("decoding response: %w", err)
		}
		for _, f := range fields {
			if s, ok := m[f].(string); ok && s != "" {
				return s, nil
			}
		}
		return "", fmt.Errorf("decoding response: none of the expected id fields %v present", fields)
	}
}

// Send transmits one record: it looks up an existing remote row by natural
// key first and updates it when found, so the same logical observation never
// lands twice.
func (g *HTTPGateway) Send(ctx context.Context, rec *pqi.PendingRecord) (string, error) {
	adapter, ok := adapters[rec.Category]
	if !ok {
		return "", fmt.Errorf("no adapter for category %q", rec.Category)
	}

	existingID, err := g.queryExisting(ctx, adapter, rec)
	if err != nil {
		return "", err
	}

	if existingID != "" {
		if _, err := g.do(ctx, http.MethodPut, adapter.path+"/"+existingID, rec.Payload); err != nil {
			return "", err
		}
		return existingID, nil
	}

	body, err := g.do(ctx, http.MethodPost, adapter.path, rec.Payload)
	if err != nil {
		return "", err
	}
	return adapter.decodeID(body)
}

// queryExisting returns the remote id for the record's natural key, or ""
// when the remote system has no row for it yet.
func (g *HTTPGateway) queryExisting(ctx context.Context, adapter categoryAdapter, rec *pqi.PendingRecord) (string, error) {
	body, err := g.do(ctx, http.MethodGet, adapter.path+"?"+adapter.query(rec).Encode(), nil)
	if err != nil {
		var remote *pqi.RemoteError
		if errors.As(err, &remote) && remote.Status == http.StatusNotFound {
			return "", nil
		}
		return "", err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return "", fmt.Errorf("decoding existence query: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return adapter.decodeID(rows[0])
}

// OpenTour creates a tour or resumes the in-progress one for the department.
func (g *HTTPGateway) OpenTour(ctx context.Context, plant, department, employeeID string) (*pqi.Tour, error) {
	payload, err := json.Marshal(map[string]string{
		"plant":      plant,
		"department": department,
		"employeeId": employeeID,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding tour request: %w", err)
	}

	body, err := g.do(ctx, http.MethodPost, "/tours/open", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		TourID    string    `json:"tourId"`
		ID        string    `json:"id"`
		StartedAt time.Time `json:"startedAt"`
		Status    string    `json:"status"`
		Score     float64   `json:"score"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding tour response: %w", err)
	}
	id := resp.TourID
	if id == "" {
		id = resp.ID
	}
	if id == "" {
		return nil, fmt.Errorf("decoding tour response: none of the expected id fields present")
	}
	status := resp.Status
	if status == "" {
		status = pqi.TourInProgress
	}
	return &pqi.Tour{
		ID:         id,
		Plant:      plant,
		Department: department,
		StartedAt:  resp.StartedAt,
		Status:     status,
		Score:      resp.Score,
	}, nil
}

// FinishTour marks the tour completed with its derived score.
func (g *HTTPGateway) FinishTour(ctx context.Context, tourID string, score float64) error {
	payload, err := json.Marshal(map[string]float64{"score": score})
	if err != nil {
		return fmt.Errorf("encoding finish request: %w", err)
	}
	_, err = g.do(ctx, http.MethodPost, "/tours/"+tourID+"/finish", payload)
	return err
}

// GetEmployee resolves the inspector identity for a user.
func (g *HTTPGateway) GetEmployee(ctx context.Context, userID string) (*pqi.EmployeeDetails, error) {
	body, err := g.do(ctx, http.MethodGet, "/employees/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		ID         string `json:"id"`
		EmployeeID string `json:"employeeId"`
		Name       string `json:"name"`
		Role       string `json:"role"`
		Plant      string `json:"plant"`
		Department string `json:"department"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding employee response: %w", err)
	}
	id := resp.ID
	if id == "" {
		id = resp.EmployeeID
	}
	if id == "" {
		return nil, fmt.Errorf("decoding employee response: none of the expected id fields present")
	}
	return &pqi.EmployeeDetails{
		ID:         id,
		Name:       resp.Name,
		Role:       resp.Role,
		Plant:      resp.Plant,
		Department: resp.Department,
	}, nil
}

// ListCriteria fetches the reference criteria, filtered by plant/department
// only — every area comes back so offline navigation works everywhere.
func (g *HTTPGateway) ListCriteria(ctx context.Context, plant, department string) ([]pqi.Criterion, error) {
	v := url.Values{}
	v.Set("plant", plant)
	v.Set("department", department)

	body, err := g.do(ctx, http.MethodGet, "/criteria?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ID           string `json:"id"`
		Area         string `json:"area"`
		Category     string `json:"category"`
		WhatText     string `json:"whatText"`
		CriteriaText string `json:"criteriaText"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decoding criteria response: %w", err)
	}

	out := make([]pqi.Criterion, len(rows))
	for i, r := range rows {
		out[i] = pqi.Criterion{
			ID:       r.ID,
			Area:     r.Area,
			Category: r.Category,
			What:     r.WhatText,
			Criteria: r.CriteriaText,
		}
	}
	return out, nil
}

// ListObservations fetches the tour's previously recorded observations.
func (g *HTTPGateway) ListObservations(ctx context.Context, tourID string) ([]pqi.RemoteObservation, error) {
	body, err := g.do(ctx, http.MethodGet, "/tours/"+url.PathEscape(tourID)+"/observations", nil)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ObservationID string    `json:"observationId"`
		ID            string    `json:"id"`
		CriterionID   string    `json:"criterionId"`
		Status        string    `json:"status"`
		Severity      string    `json:"severity"`
		RecordedAt    time.Time `json:"recordedAt"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decoding observations response: %w", err)
	}

	out := make([]pqi.RemoteObservation, len(rows))
	for i, r := range rows {
		id := r.ObservationID
		if id == "" {
			id = r.ID
		}
		out[i] = pqi.RemoteObservation{
			RemoteID:    id,
			CriterionID: r.CriterionID,
			Status:      r.Status,
			Severity:    r.Severity,
			RecordedAt:  r.RecordedAt,
		}
	}
	return out, nil
}

// do performs one authenticated request. A 401/403 invalidates the cached
// token and retries exactly once with a fresh one; every other failure
// propagates without retry — retrying is the synchronizer's job.
func (g *HTTPGateway) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	respBody, status, err := g.roundTrip(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		g.tokens.Invalidate()
		g.logger.Debug("token rejected, refreshing", "status", status, "path", path)
		respBody, status, err = g.roundTrip(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return nil, &pqi.AuthError{Reason: "token rejected after refresh"}
		}
	}
	if status < 200 || status > 299 {
		return nil, &pqi.RemoteError{Status: status, Message: remoteMessage(respBody)}
	}
	return respBody, nil
}

func (g *HTTPGateway) roundTrip(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, 0, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, &pqi.NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &pqi.NetworkError{Op: method + " " + path, Err: err}
	}
	return respBody, resp.StatusCode, nil
}

// remoteMessage extracts the server-provided error message from a JSON or
// text error body, if any.
func remoteMessage(body []byte) string {
	var m struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &m); err == nil {
		if m.Message != "" {
			return m.Message
		}
		if m.Error != "" {
			return m.Error
		}
	}
	return strings.TrimSpace(string(body))
}
