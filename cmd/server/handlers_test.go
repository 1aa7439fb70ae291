package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/daryls-hrplus/intellihrm-sub073/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(config.Default(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func rulePayloadBody(code, guard string) map[string]any {
	return map[string]any{
		"code":             code,
		"name":             "Low overall notification",
		"conditionType":    "score_below",
		"conditionSection": "overall",
		"triggerValues":    map[string]any{"threshold": 60},
		"actionType":       "notify_hr",
		"priority":         2,
		"guard":            guard,
		"active":           true,
	}
}

func TestCreateRuleRejectsBadGuard(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/v1/companies/acme/rules",
		rulePayloadBody("bad-guard", `event.scores[`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCreateRuleRejectsInvalidRule(t *testing.T) {
	srv := newTestServer(t)

	body := rulePayloadBody("out-of-range", `event.scores["overall"] < 60.0`)
	body["priority"] = 9
	rr := doJSON(t, srv, http.MethodPost, "/api/v1/companies/acme/rules", body)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

// A rejected update must not leave its guard program behind: evaluation has
// to follow the guard that is actually stored, not the one from the failed
// request.
func TestFailedUpdateKeepsStoredGuard(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/v1/companies/acme/rules",
		rulePayloadBody("low-overall", `event.scores["overall"] < 60.0`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	// The code is immutable, so this update fails after its guard has
	// already been compiled.
	rr = doJSON(t, srv, http.MethodPut, "/api/v1/companies/acme/rules/"+created.ID,
		rulePayloadBody("renamed-code", `event.scores["overall"] > 90.0`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("update status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	// The stored guard passes for this event; the discarded one would not.
	rr = doJSON(t, srv, http.MethodPost, "/api/v1/events", map[string]any{
		"eventType":     "appraisal_finalized",
		"subjectId":     "emp-1",
		"companyId":     "acme",
		"sectionScores": map[string]any{"overall": 55},
		"occurredAt":    "2026-03-01T09:00:00Z",
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("event status = %d, body %s", rr.Code, rr.Body.String())
	}
	var submitted struct {
		Executions []json.RawMessage `json:"executions"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&submitted); err != nil {
		t.Fatalf("decode event response: %v", err)
	}
	if len(submitted.Executions) != 1 {
		t.Errorf("got %d executions, want 1 (the stored guard admits the event)", len(submitted.Executions))
	}
}
