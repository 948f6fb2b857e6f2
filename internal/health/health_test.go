package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewManager(t *testing.T) {
	cfg := DefaultManagerConfig()
	mgr := NewManager(cfg, nil)

	if mgr == nil {
		t.Fatal("expected manager to be created")
	}
	if mgr.timeout != cfg.Timeout {
		t.Errorf("expected timeout %v, got %v", cfg.Timeout, mgr.timeout)
	}
}

func TestManager_CheckAll(t *testing.T) {
	mgr := NewManager(DefaultManagerConfig(), nil)

	mgr.Register(NewPingChecker("source", func(ctx context.Context) error {
		return nil
	}))
	mgr.Register(NewPingChecker("position-store", func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	results := mgr.CheckAll(context.Background())

	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}

	sourceResult, ok := results["source"]
	if !ok {
		t.Fatal("expected source result")
	}
	if sourceResult.Status != StatusHealthy {
		t.Errorf("expected healthy status, got %v", sourceResult.Status)
	}

	storeResult, ok := results["position-store"]
	if !ok {
		t.Fatal("expected position-store result")
	}
	if storeResult.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy status, got %v", storeResult.Status)
	}
	if storeResult.Error != "connection refused" {
		t.Errorf("expected error message, got %q", storeResult.Error)
	}
}

func TestManager_IsReady(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		ready bool
	}{
		{"ping succeeds", nil, true},
		{"ping fails", errors.New("down"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewManager(DefaultManagerConfig(), nil)
			mgr.Register(NewPingChecker("source", func(ctx context.Context) error {
				return tt.err
			}))

			if got := mgr.IsReady(context.Background()); got != tt.ready {
				t.Errorf("IsReady() = %v, want %v", got, tt.ready)
			}
		})
	}
}

func TestManager_GetOverallStatus(t *testing.T) {
	mgr := NewManager(DefaultManagerConfig(), nil)

	mgr.Register(NewPingChecker("source", func(ctx context.Context) error {
		return nil
	}))

	runChecker := NewRunChecker()
	runChecker.SetResult(errors.New("stream users: unauthorized"))
	mgr.Register(runChecker)

	overall := mgr.GetOverallStatus(context.Background())

	// A failed sync run degrades the service without marking it down.
	if overall.Status != StatusDegraded {
		t.Errorf("expected degraded status, got %v", overall.Status)
	}
	if len(overall.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(overall.Components))
	}
}

func TestRunChecker(t *testing.T) {
	checker := NewRunChecker()

	result := checker.Check(context.Background())
	if result.Status != StatusHealthy {
		t.Errorf("expected healthy before the first run, got %v", result.Status)
	}

	checker.SetResult(errors.New("boom"))
	result = checker.Check(context.Background())
	if result.Status != StatusDegraded {
		t.Errorf("expected degraded after a failed run, got %v", result.Status)
	}
	if result.Error != "boom" {
		t.Errorf("expected error message, got %q", result.Error)
	}

	checker.SetResult(nil)
	result = checker.Check(context.Background())
	if result.Status != StatusHealthy {
		t.Errorf("expected healthy after a successful run, got %v", result.Status)
	}
}

func TestServer_HandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"healthy", nil, http.StatusOK},
		{"unhealthy", errors.New("down"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewManager(DefaultManagerConfig(), nil)
			mgr.Register(NewPingChecker("source", func(ctx context.Context) error {
				return tt.err
			}))
			srv := NewServer(mgr, DefaultServerConfig(), nil)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			srv.handleHealth(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type = %q, want application/json", ct)
			}
		})
	}
}

func TestServer_HandleLiveness(t *testing.T) {
	mgr := NewManager(DefaultManagerConfig(), nil)
	srv := NewServer(mgr, DefaultServerConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	srv.handleLiveness(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "alive") {
		t.Errorf("body = %q, want alive status", rec.Body.String())
	}
}

func TestServer_HandleReadiness(t *testing.T) {
	mgr := NewManager(DefaultManagerConfig(), nil)
	mgr.Register(NewPingChecker("source", func(ctx context.Context) error {
		return errors.New("down")
	}))
	srv := NewServer(mgr, DefaultServerConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	srv.handleReadiness(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(rec.Body.String(), "not_ready") {
		t.Errorf("body = %q, want not_ready status", rec.Body.String())
	}
}
