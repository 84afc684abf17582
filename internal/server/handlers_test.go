package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"slipway/internal/app"
	"slipway/internal/ledger"
	"slipway/internal/pipeline"
)

const testSecret = "0123456789abcdef0123456789abcdef0123456789abcdef"

type deployRecorder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (d *deployRecorder) deploy(ctx context.Context, a *app.App, ref string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, a.Name)
	return d.err
}

func (d *deployRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func newTestServer(t *testing.T) (*Server, *deployRecorder) {
	t.Helper()

	apps := map[string]*app.App{
		"shop": {
			Name:     "shop",
			Path:     t.TempDir(),
			Repo:     "https://github.com/acme/shop.git",
			Branch:   "main",
			Strategy: app.StrategySymlink,
			Secret:   testSecret,
		},
	}

	led, err := ledger.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	recorder := &deployRecorder{}
	s := &Server{
		Registry:    app.NewRegistry(apps),
		Ledger:      led,
		LockManager: pipeline.NewLockManager(),
		Logger:      logger,
		Deploy:      recorder.deploy,
		TestMode:    true,
	}

	return s, recorder
}

func pushPayload(t *testing.T, ref string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"ref":   ref,
		"after": "abc123def456",
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func postWebhook(s *Server, body []byte, configure func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/in/shop", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	if configure != nil {
		configure(req)
	}

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHandleWebhook_TriggersDeploy(t *testing.T) {
	s, recorder := newTestServer(t)
	body := pushPayload(t, "refs/heads/main")

	w := postWebhook(s, body, func(req *http.Request) {
		req.Header.Set("X-Hub-Signature-256", MakeTestSignature(body, testSecret))
	})

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusAccepted, w.Body.String())
	}

	s.WaitForDeployments()
	if recorder.count() != 1 {
		t.Errorf("deploy calls = %d, want 1", recorder.count())
	}
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	s, recorder := newTestServer(t)
	body := pushPayload(t, "refs/heads/main")

	w := postWebhook(s, body, func(req *http.Request) {
		req.Header.Set("X-Hub-Signature-256", MakeTestSignature(body, "wrong-secret"))
	})

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	s.WaitForDeployments()
	if recorder.count() != 0 {
		t.Error("deploy should not run on bad signature")
	}
}

func TestHandleWebhook_MissingSignature(t *testing.T) {
	s, _ := newTestServer(t)
	w := postWebhook(s, pushPayload(t, "refs/heads/main"), nil)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestHandleWebhook_UnknownApp(t *testing.T) {
	s, _ := newTestServer(t)
	body := pushPayload(t, "refs/heads/main")

	req := httptest.NewRequest(http.MethodPost, "/in/unknown", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleWebhook_NonPushEvent(t *testing.T) {
	s, recorder := newTestServer(t)
	body := pushPayload(t, "refs/heads/main")

	w := postWebhook(s, body, func(req *http.Request) {
		req.Header.Set("X-GitHub-Event", "ping")
		req.Header.Set("X-Hub-Signature-256", MakeTestSignature(body, testSecret))
	})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	s.WaitForDeployments()
	if recorder.count() != 0 {
		t.Error("deploy should not run for non-push events")
	}
}

func TestHandleWebhook_WrongContentType(t *testing.T) {
	s, _ := newTestServer(t)
	body := pushPayload(t, "refs/heads/main")

	w := postWebhook(s, body, func(req *http.Request) {
		req.Header.Set("Content-Type", "text/plain")
	})

	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnsupportedMediaType)
	}
}

func TestHandleWebhook_NonTargetBranch(t *testing.T) {
	s, recorder := newTestServer(t)
	body := pushPayload(t, "refs/heads/feature-x")

	w := postWebhook(s, body, func(req *http.Request) {
		req.Header.Set("X-Hub-Signature-256", MakeTestSignature(body, testSecret))
	})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	s.WaitForDeployments()
	if recorder.count() != 0 {
		t.Error("deploy should not run for non-target branches")
	}

	// Skip recorded in the ledger
	latest, err := s.Ledger.Latest(context.Background(), "shop")
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.Status != ledger.StatusSkipped {
		t.Errorf("latest = %+v, want skipped record", latest)
	}
}

func TestHandleWebhook_RejectsConcurrentDeploy(t *testing.T) {
	s, recorder := newTestServer(t)
	body := pushPayload(t, "refs/heads/main")

	if !s.LockManager.TryLock("shop") {
		t.Fatal("failed to take lock for test setup")
	}
	defer s.LockManager.Unlock("shop")

	w := postWebhook(s, body, func(req *http.Request) {
		req.Header.Set("X-Hub-Signature-256", MakeTestSignature(body, testSecret))
	})

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	s.WaitForDeployments()
	if recorder.count() != 0 {
		t.Error("deploy should not run while locked")
	}

	latest, err := s.Ledger.Latest(context.Background(), "shop")
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.Status != ledger.StatusRejected {
		t.Errorf("latest = %+v, want rejected record", latest)
	}
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatal(err)
	}
	if response["status"] != "ok" {
		t.Errorf("status field = %v, want ok", response["status"])
	}
	if response["app_count"].(float64) != 1 {
		t.Errorf("app_count = %v, want 1", response["app_count"])
	}
}

func TestHandleStatus(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	id, err := s.Ledger.Begin(ctx, "shop", "2026-01-02-03-04-05", "symlink", "main", "refs/heads/main")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ledger.Finish(ctx, id, ledger.StatusSuccess, "abc123", ""); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/status/shop", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}

	var status ledger.AppStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.LatestDeployment == nil || status.LatestDeployment.Status != ledger.StatusSuccess {
		t.Errorf("latest = %+v, want success record", status.LatestDeployment)
	}
	if len(status.RecentHistory) != 1 {
		t.Errorf("recent history = %d entries, want 1", len(status.RecentHistory))
	}
}

func TestHandleStatus_UnknownApp(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status/unknown", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
