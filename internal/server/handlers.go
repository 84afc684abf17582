package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"slipway/internal/app"
	"slipway/internal/ledger"
	"slipway/internal/security"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v57/github"
)

const (
	MaxPayloadBytes        = 1_000_000 // 1 MB
	RecentDeploymentsLimit = 10
)

// HandleWebhook handles GitHub push webhook deliveries.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "appName")

	if err := security.ValidateAppName(appName); err != nil {
		s.Logger.Warn("Invalid app name in webhook request", "app", appName, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid app name: %v", err)})
		return
	}

	a, err := s.Registry.Get(appName)
	if err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown app"})
		return
	}

	// ContentLength can be -1 when unset, so only the positive case counts
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	if r.Header.Get("Content-Type") != "application/json" {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}

	if r.Header.Get("X-GitHub-Event") != "push" {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Ignoring non-push event"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes))
	if err != nil {
		s.Logger.Error("Failed to read request body", "error", err, "app", appName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read payload"})
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if !VerifySignature(body, signature, a.Secret) {
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid signature"})
		return
	}

	var event github.PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.Logger.Error("Failed to parse push event", "error", err, "app", appName)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	ref := event.GetRef()
	if ref == "" {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Missing ref, skipping"})
		return
	}

	// Answer non-target branches before taking any lock
	if !a.MatchesRef(ref) {
		s.recordOutcome(r.Context(), a, ref, ledger.StatusSkipped, "")
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Not target branch, skipping"})
		return
	}

	if !s.LockManager.TryLock(appName) {
		s.Logger.Warn("Deployment already in progress, rejecting", "app", appName)
		s.recordOutcome(r.Context(), a, ref, ledger.StatusRejected, "Deployment already in progress")
		s.respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Deployment already in progress"})
		return
	}

	// GitHub webhooks time out after 10 seconds; acknowledge receipt
	// and deploy asynchronously.
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "Deployment accepted",
		"app":     appName,
	})

	s.deployWg.Add(1)
	go func() {
		defer s.deployWg.Done()
		defer s.LockManager.Unlock(appName)
		s.executeDeployment(context.Background(), a)
	}()
}

// executeDeployment runs the pipeline; the pipeline itself records the
// attempt in the ledger.
func (s *Server) executeDeployment(ctx context.Context, a *app.App) {
	if err := s.Deploy(ctx, a, ""); err != nil {
		s.Logger.Error("deployment failed", "app", a.Name, "error", err)
		return
	}
	s.Logger.Info("deployment completed", "app", a.Name, "status", "success")
}

func (s *Server) recordOutcome(ctx context.Context, a *app.App, ref, status, errMsg string) {
	if s.Ledger == nil {
		return
	}
	if err := s.Ledger.RecordOutcome(ctx, a.Name, a.Branch, ref, status, errMsg); err != nil {
		s.Logger.Error("Failed to record webhook outcome", "error", err, "app", a.Name)
	}
}

// HandleHealth handles health check requests.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "ok",
		"apps":      s.Registry.List(),
		"app_count": s.Registry.Count(),
	}

	s.respondJSON(w, http.StatusOK, response)
}

// HandleStatus handles deployment status requests for one app.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "appName")

	if err := security.ValidateAppName(appName); err != nil {
		s.Logger.Warn("Invalid app name in status request", "app", appName, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid app name: %v", err)})
		return
	}

	if _, err := s.Registry.Get(appName); err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown app"})
		return
	}

	if s.Ledger == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Deployment history not available"})
		return
	}

	latest, err := s.Ledger.Latest(r.Context(), appName)
	if err != nil {
		s.Logger.Error("Failed to get latest deployment", "error", err, "app", appName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	recent, err := s.Ledger.History(r.Context(), appName, RecentDeploymentsLimit)
	if err != nil {
		s.Logger.Error("Failed to get deployment history", "error", err, "app", appName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	response := ledger.AppStatus{
		App:              appName,
		LatestDeployment: latest,
		RecentHistory:    recent,
	}

	s.respondJSON(w, http.StatusOK, response)
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}
