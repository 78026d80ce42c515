package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"jardeploy/internal/deployment"
	"jardeploy/internal/history"
	"jardeploy/internal/notify"
	"jardeploy/internal/project"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// HTTP server timeouts. Writes stay open longer than in a pure API
	// server because the jnlp tree serves multi-megabyte jars.
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 5 * time.Minute
	HTTPIdleTimeout  = 60 * time.Second

	// ShutdownTimeout bounds the wait for in-flight requests and runs.
	ShutdownTimeout = 10 * time.Minute

	// Request timeout for the API routes
	RequestTimeout = 60 * time.Second

	// Rate limiting - requests per minute
	GlobalRateLimit  = 120 // Global rate limit per minute
	WebhookRateLimit = 4   // Webhook-specific rate limit per minute

	// JNLPPrefix is the URL prefix the deploy tree is served under.
	JNLPPrefix = "/jnlp"
)

// RunFunc runs the build-and-deploy pipeline for one project.
type RunFunc func(ctx context.Context, proj *project.Project, runID string) *deployment.Summary

// Server serves the webhook trigger, the status API and the deployed jar
// tree.
type Server struct {
	Registry    *project.Registry
	History     *history.History
	LockManager *deployment.LockManager
	Logger      *slog.Logger
	// Run executes webhook-triggered runs. A nil Run refuses webhooks.
	Run RunFunc
	// Secret verifies X-Hub-Signature-256. An empty secret refuses webhooks.
	Secret string
	// Reporter posts commit statuses; nil disables them.
	Reporter *notify.Reporter
	// DeployRoot is served below JNLPPrefix when set.
	DeployRoot string
	TestMode   bool
	deployWg   sync.WaitGroup // Tracks in-flight async runs
}

// NewServer creates a new server instance
func NewServer(registry *project.Registry, hist *history.History, logger *slog.Logger, testMode bool) *Server {
	return &Server{
		Registry:    registry,
		History:     hist,
		LockManager: deployment.NewLockManager(),
		Logger:      logger,
		TestMode:    testMode,
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				s.Logger.Info("http_request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds())
			}()

			next.ServeHTTP(ww, r)
		})
	})

	// The jar tree is not rate limited: a single applet launch fetches
	// dozens of jars.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))
		if !s.TestMode {
			r.Use(NewRateLimitMiddleware(GlobalRateLimit, s.Logger))
		}

		r.Get("/health", s.HandleHealth)
		r.Get("/status", s.HandleStatusAll)
		r.Get("/status/{projectName}", s.HandleStatus)
		r.Get("/runs/{runID}", s.HandleRun)

		// Webhook route with stricter rate limit
		if !s.TestMode {
			r.With(NewWebhookRateLimitMiddleware(WebhookRateLimit, s.Logger)).Post("/in/{projectName}", s.HandleWebhook)
		} else {
			r.Post("/in/{projectName}", s.HandleWebhook)
		}
	})

	if s.DeployRoot != "" {
		jnlp := http.StripPrefix(JNLPPrefix, NewJarFileServer(s.DeployRoot))
		r.Method(http.MethodGet, JNLPPrefix+"/*", jnlp)
		r.Method(http.MethodHead, JNLPPrefix+"/*", jnlp)
	}

	return r
}

// Start serves until ctx is cancelled, then stops accepting requests and
// waits for in-flight runs.
func (s *Server) Start(ctx context.Context, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr, "deploy_root", s.DeployRoot)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.Logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.Logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	return s.Shutdown(shutdownCtx)
}

// WaitForDeployments waits for all in-flight async runs to complete.
// This is primarily useful for testing.
func (s *Server) WaitForDeployments() {
	s.deployWg.Wait()
}

// Shutdown waits for in-flight runs and closes the history database.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.deployWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.Logger.Warn("Shutdown deadline reached with runs in flight")
	}

	if s.History != nil {
		return s.History.Close()
	}
	return nil
}
