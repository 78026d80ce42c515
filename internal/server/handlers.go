package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"jardeploy/internal/deployment"
	"jardeploy/internal/history"
	"jardeploy/internal/notify"
	"jardeploy/internal/project"
	"jardeploy/internal/security"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v57/github"
)

const (
	MaxPayloadBytes        = 1_000_000 // 1 MB
	RecentDeploymentsLimit = 10        // Number of recent deployments to return in status endpoint
)

// HandleWebhook handles GitHub push webhooks: a push to a project's
// branch rebuilds and redeploys that project in the background.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	projectName := chi.URLParam(r, "projectName")

	// Validate project name for security
	if err := security.ValidateProjectName(projectName); err != nil {
		s.Logger.Warn("Invalid project name in webhook request", "project", projectName, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid project name: %v", err)})
		return
	}

	proj, err := s.Registry.Get(projectName)
	if err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown project"})
		return
	}

	if s.Secret == "" || s.Run == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Webhook not configured"})
		return
	}

	// ContentLength can be -1 if not set; MaxBytesReader covers that case.
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType != "application/json" {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxPayloadBytes)
	body, err := github.ValidatePayload(r, []byte(s.Secret))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
			return
		}
		s.Logger.Warn("Webhook signature rejected", "project", projectName, "error", err)
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid signature"})
		return
	}

	eventType := github.WebHookType(r)
	switch eventType {
	case "ping":
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "pong"})
		return
	case "push":
	default:
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Ignoring non-push event"})
		return
	}

	event, err := github.ParseWebHook(eventType, body)
	if err != nil {
		s.Logger.Error("Failed to parse webhook payload", "error", err, "project", projectName)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}
	push, ok := event.(*github.PushEvent)
	if !ok || push.GetRef() == "" {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Missing payload, skipping"})
		return
	}

	if proj.Repo != "" {
		if fullName := push.GetRepo().GetFullName(); fullName != "" && !strings.EqualFold(fullName, proj.Repo) {
			s.Logger.Warn("Webhook repository mismatch", "project", projectName, "repo", fullName, "expected", proj.Repo)
			s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Repository mismatch"})
			return
		}
	}

	if !proj.MatchesRef(push.GetRef()) {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Not target branch, skipping"})
		return
	}
	if push.GetDeleted() {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Branch deleted, skipping"})
		return
	}

	// Every run writes into the shared deploy tree, so one webhook run at
	// a time regardless of project.
	if !s.LockManager.TryLockAll(deployment.TreeLock, projectName) {
		s.Logger.Warn("Deployment already in progress, rejecting", "project", projectName)
		s.recordRejection(r.Context(), projectName)
		s.respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Deployment already in progress"})
		return
	}

	runID := history.NewRunID()

	// GitHub gives up on a webhook after 10 seconds, so acknowledge now
	// and run the build in the background.
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "Deployment accepted",
		"project": projectName,
		"run_id":  runID,
	})

	s.deployWg.Add(1)
	go func() {
		defer s.deployWg.Done()
		defer s.LockManager.UnlockAll(deployment.TreeLock, projectName)
		s.executeRun(context.Background(), proj, runID, push.GetAfter())
	}()
}

// executeRun runs the pipeline for proj and reports the outcome as a
// commit status on sha.
func (s *Server) executeRun(ctx context.Context, proj *project.Project, runID, sha string) {
	log := s.Logger.With("project", proj.Name, "run_id", runID)
	s.report(ctx, proj, sha, notify.StatePending, "Building "+proj.Name)

	summary := s.Run(ctx, proj, runID)

	state, description := runOutcome(summary)
	s.report(ctx, proj, sha, state, description)

	if state == notify.StateSuccess {
		log.Info("Deployment completed", "description", description)
	} else {
		log.Error("Deployment failed", "description", description)
	}
}

func (s *Server) report(ctx context.Context, proj *project.Project, sha, state, description string) {
	if err := s.Reporter.Report(ctx, proj.Repo, sha, state, description); err != nil {
		s.Logger.Warn("Failed to report commit status", "project", proj.Name, "state", state, "error", err)
	}
}

// runOutcome maps a run summary to a commit status.
func runOutcome(summary *deployment.Summary) (string, string) {
	if summary == nil || len(summary.Projects) == 0 {
		return notify.StateError, "Run produced no report"
	}

	p := summary.Projects[0]
	switch p.Status {
	case history.StatusSuccess:
		return notify.StateSuccess, fmt.Sprintf("Deployed %d jar(s) in %s", len(p.Jars), p.Duration.Round(time.Second))
	case history.StatusVerifyFailed:
		return notify.StateSuccess, fmt.Sprintf("Deployed %d jar(s), %d signature verification failure(s)", len(p.Jars), len(summary.VerifyFailures()))
	case history.StatusSkipped:
		return notify.StateSuccess, "Nothing to deploy"
	default:
		msg := "Deployment failed"
		if p.Err != nil {
			msg = p.Err.Error()
		}
		for _, j := range p.Jars {
			if j.Err != nil {
				msg = j.Err.Error()
				break
			}
		}
		return notify.StateFailure, msg
	}
}

func (s *Server) recordRejection(ctx context.Context, projectName string) {
	if s.History == nil {
		return
	}
	msg := "Deployment already in progress"
	if _, err := s.History.RecordDeployment(ctx, &history.DeploymentRecord{
		RunID:        history.NewRunID(),
		Project:      projectName,
		Status:       history.StatusSkipped,
		Trigger:      history.TriggerWebhook,
		ErrorMessage: &msg,
	}); err != nil {
		s.Logger.Error("Failed to record rejection in history", "error", err, "project", projectName)
	}
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":          "ok",
		"projects":        s.Registry.List(),
		"project_count":   s.Registry.Count(),
		"webhook_enabled": s.Secret != "" && s.Run != nil,
	}

	s.respondJSON(w, http.StatusOK, response)
}

// HandleStatus handles deployment status requests
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	projectName := chi.URLParam(r, "projectName")

	// Validate project name for security
	if err := security.ValidateProjectName(projectName); err != nil {
		s.Logger.Warn("Invalid project name in status request", "project", projectName, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid project name: %v", err)})
		return
	}

	if _, err := s.Registry.Get(projectName); err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown project"})
		return
	}

	if !s.historyAvailable(w) {
		return
	}

	latest, err := s.History.GetLatestDeployment(r.Context(), projectName)
	if err != nil {
		s.Logger.Error("Failed to get latest deployment", "error", err, "project", projectName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	recent, err := s.History.GetDeploymentHistory(r.Context(), projectName, RecentDeploymentsLimit)
	if err != nil {
		s.Logger.Error("Failed to get deployment history", "error", err, "project", projectName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	response := map[string]interface{}{
		"project":            projectName,
		"latest_deployment":  latest,
		"recent_deployments": recent,
	}

	s.respondJSON(w, http.StatusOK, response)
}

// HandleStatusAll reports the latest ledger entry of every project.
func (s *Server) HandleStatusAll(w http.ResponseWriter, r *http.Request) {
	if !s.historyAvailable(w) {
		return
	}

	all, err := s.History.GetAllProjectsStatus(r.Context())
	if err != nil {
		s.Logger.Error("Failed to get project statuses", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"projects": all})
}

// HandleRun returns every ledger entry written by one run.
func (s *Server) HandleRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !s.historyAvailable(w) {
		return
	}

	records, err := s.History.GetRun(r.Context(), runID)
	if err != nil {
		s.Logger.Error("Failed to get run", "error", err, "run_id", runID)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch run"})
		return
	}
	if len(records) == 0 {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown run"})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"run_id": runID, "deployments": records})
}

func (s *Server) historyAvailable(w http.ResponseWriter) bool {
	if s.TestMode || s.History == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "History not available in test mode"})
		return false
	}
	return true
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}
