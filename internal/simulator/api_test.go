package simulator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

func setupTestAPI(t *testing.T, analyticsDelay time.Duration) (*API, *mux.Router) {
	t.Helper()
	api, err := NewAPI(&Config{
		APIKey:         "test-key",
		TokenSecret:    "secret",
		TokenTTL:       time.Minute,
		AnalyticsDelay: analyticsDelay,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewAPI failed: %v", err)
	}
	router := mux.NewRouter()
	api.SetupRoutes(router)
	return api, router
}

func doRequest(router *mux.Router, method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	_, router := setupTestAPI(t, 0)

	w := doRequest(router, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "healthy" {
		t.Fatalf("expected status healthy, got %s", body["status"])
	}
}

func TestCreateWebCallRequiresKey(t *testing.T) {
	_, router := setupTestAPI(t, 0)

	w := doRequest(router, http.MethodPost, "/v2/create-web-call", "", `{"agent_id":"a1"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}

	w = doRequest(router, http.MethodPost, "/v2/create-web-call", "wrong", `{"agent_id":"a1"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", w.Code)
	}
}

func TestCreateWebCall(t *testing.T) {
	api, router := setupTestAPI(t, 0)

	w := doRequest(router, http.MethodPost, "/v2/create-web-call", "test-key", `{"agent_id":"a1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["call_id"] == "" || body["access_token"] == "" {
		t.Fatalf("expected call_id and access_token, got %v", body)
	}

	claims, err := api.tokens.Verify(body["access_token"])
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.CallID != body["call_id"] || claims.AgentID != "a1" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestCreateWebCallRequiresAgent(t *testing.T) {
	_, router := setupTestAPI(t, 0)

	w := doRequest(router, http.MethodPost, "/v2/create-web-call", "test-key", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetCallLifecycle(t *testing.T) {
	api, router := setupTestAPI(t, time.Hour)
	now := time.Now()
	api.calls.now = func() time.Time { return now }

	call := api.calls.Create("a1")

	w := doRequest(router, http.MethodGet, "/v2/get-call/unknown", "test-key", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d", w.Code)
	}

	// Pending while the call runs
	api.calls.MarkStarted(call.ID)
	w = doRequest(router, http.MethodGet, "/v2/get-call/"+call.ID, "test-key", "")
	if w.Code != http.StatusOK || w.Body.String() != "{}\n" {
		t.Fatalf("expected empty object, got %d %q", w.Code, w.Body.String())
	}

	// Still pending right after the end
	now = now.Add(30 * time.Second)
	api.calls.MarkEnded(call.ID, reasonUserHangup)
	w = doRequest(router, http.MethodGet, "/v2/get-call/"+call.ID, "test-key", "")
	if w.Body.String() != "{}\n" {
		t.Fatalf("expected empty object before the analytics delay, got %q", w.Body.String())
	}

	now = now.Add(time.Hour)
	w = doRequest(router, http.MethodGet, "/v2/get-call/"+call.ID, "test-key", "")
	var record map[string]any
	json.NewDecoder(w.Body).Decode(&record)
	if record["call_id"] != call.ID {
		t.Errorf("expected call_id %s, got %v", call.ID, record["call_id"])
	}
	if record["disconnection_reason"] != reasonUserHangup {
		t.Errorf("expected reason %s, got %v", reasonUserHangup, record["disconnection_reason"])
	}
	if record["duration_ms"] != float64(30000) {
		t.Errorf("expected duration 30000, got %v", record["duration_ms"])
	}
}

func TestStatsHandler(t *testing.T) {
	api, router := setupTestAPI(t, 0)
	c := api.calls.Create("a1")
	api.calls.Create("a1")
	api.calls.MarkStarted(c.ID)

	w := doRequest(router, http.MethodGet, "/stats", "", "")
	var stats Stats
	json.NewDecoder(w.Body).Decode(&stats)
	if stats.Total != 2 {
		t.Errorf("expected 2 calls, got %d", stats.Total)
	}
	if stats.ByState[string(CallOngoing)] != 1 || stats.ByState[string(CallRegistered)] != 1 {
		t.Errorf("unexpected state breakdown %v", stats.ByState)
	}
}

func TestTokensRejectExpiredAndForeign(t *testing.T) {
	tokens, _ := NewTokens("secret", time.Minute)
	now := time.Now()
	tokens.now = func() time.Time { return now }

	tok, err := tokens.Issue("c1", "a1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := tokens.Verify(tok); err == nil {
		t.Error("expected expired token to be rejected")
	}

	other, _ := NewTokens("other-secret", time.Minute)
	foreign, _ := other.Issue("c1", "a1")
	now = time.Now()
	if _, err := tokens.Verify(foreign); err == nil {
		t.Error("expected token signed with another secret to be rejected")
	}
}
