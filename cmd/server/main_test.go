package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dennisdiepolder/hostline/internal/api"
	"github.com/dennisdiepolder/hostline/internal/config"
	"github.com/dennisdiepolder/hostline/internal/metrics"
	"github.com/dennisdiepolder/hostline/internal/reconcile"
	"github.com/dennisdiepolder/hostline/internal/storage"
	"github.com/dennisdiepolder/hostline/internal/types"
	"github.com/rs/zerolog"
)

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	healthHandler(rec, req)

	// Check status code
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	// Check content type
	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}

	// Parse response body
	var response map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	// Check response fields
	if response["status"] != "ok" {
		t.Errorf("expected status ok, got %s", response["status"])
	}
	if response["service"] != "hostline" {
		t.Errorf("expected service hostline, got %s", response["service"])
	}
}

type noFetch struct{}

func (noFetch) GetCall(context.Context, string) (types.AnalyticsRecord, error) {
	return types.AnalyticsRecord{}, nil
}

func TestRouter(t *testing.T) {
	store := storage.NewMemoryStore()
	rec := reconcile.New(noFetch{}, store, reconcile.Options{MaxAttempts: 1, Logger: zerolog.Nop()})
	m := metrics.New()
	cfg := &config.Config{AllowedOrigins: []string{"http://localhost:5173"}}

	pages := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r := newRouter(cfg, m, pages,
		api.NewUserHandler(store, zerolog.Nop()),
		api.NewAdminHandler(context.Background(), store, rec, "", zerolog.Nop()),
	)

	tests := []struct {
		method         string
		path           string
		expectedStatus int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/ws/pages/u1", http.StatusTeapot},
		{http.MethodGet, "/api/users/u1/assistant", http.StatusNotFound},
		{http.MethodDelete, "/internal/storage", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
		})
	}

	// Requests are counted
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if !strings.Contains(rr.Body.String(), "hostline_http_requests_total") {
		t.Error("expected http request metrics to be exported")
	}
}
