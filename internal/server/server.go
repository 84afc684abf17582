package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"slipway/internal/app"
	"slipway/internal/ledger"
	"slipway/internal/pipeline"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware
	RequestTimeout = 60 * time.Second

	// Rate limiting - requests per minute
	GlobalRateLimit  = 12
	WebhookRateLimit = 4
)

// DeployFunc runs a deployment for an app at a given ref. Swappable in
// tests so handler tests never shell out.
type DeployFunc func(ctx context.Context, a *app.App, ref string) error

// Server receives GitHub push webhooks and turns them into deployments.
type Server struct {
	Registry    *app.Registry
	Ledger      *ledger.Ledger
	LockManager *pipeline.LockManager
	Logger      *slog.Logger
	Deploy      DeployFunc
	TestMode    bool
	deployWg    sync.WaitGroup // in-flight async deployments
}

// NewServer creates a server wired to the real deployment pipeline.
func NewServer(registry *app.Registry, led *ledger.Ledger, logger *slog.Logger, testMode bool) *Server {
	s := &Server{
		Registry:    registry,
		Ledger:      led,
		LockManager: pipeline.NewLockManager(),
		Logger:      logger,
		TestMode:    testMode,
	}

	s.Deploy = func(ctx context.Context, a *app.App, ref string) error {
		runner, err := pipeline.NewRunner(a, logger)
		if err != nil {
			return err
		}
		runner.Ledger = led
		if a.Strategy == app.StrategyInplace {
			return runner.DeployInplace(ctx, ref)
		}
		return runner.Deploy(ctx, ref)
	}

	return s
}

// Router creates and configures the HTTP router.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				s.Logger.Info("http_request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration_ms", time.Since(start).Milliseconds())
			}()

			next.ServeHTTP(ww, r)
		})
	})

	if !s.TestMode {
		r.Use(NewRateLimitMiddleware(GlobalRateLimit, s.Logger))
	}

	r.Get("/health", s.HandleHealth)
	r.Get("/status/{appName}", s.HandleStatus)

	// Webhook route with stricter rate limit
	if !s.TestMode {
		r.With(NewWebhookRateLimitMiddleware(WebhookRateLimit, s.Logger)).Post("/in/{appName}", s.HandleWebhook)
	} else {
		r.Post("/in/{appName}", s.HandleWebhook)
	}

	return r
}

// Start starts the HTTP server.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	return server.ListenAndServe()
}

// WaitForDeployments waits for all in-flight async deployments.
// Primarily useful for testing.
func (s *Server) WaitForDeployments() {
	s.deployWg.Wait()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deployWg.Wait()

	if s.Ledger != nil {
		return s.Ledger.Close()
	}
	return nil
}
