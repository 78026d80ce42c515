package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jardeploy/internal/build"
	"jardeploy/internal/deployment"
	"jardeploy/internal/history"
	"jardeploy/internal/project"
	"jardeploy/internal/version"
)

// A push to a copy_jars project deploys its jars, records them and makes
// them downloadable from the jnlp tree.
func TestWebhookDeploysAndServes(t *testing.T) {
	root := t.TempDir()
	cfg := &project.Config{
		Root:         root,
		PublicRoot:   filepath.Join(root, "public"),
		DeployPrefix: "jnlp",
		JavaProjects: filepath.Join(root, "java"),
	}

	srcDir := cfg.ProjectDir("widget")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "widget.jar"), []byte("widget-bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	hist, err := history.NewHistory(filepath.Join(root, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hist.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	widget := &project.Project{Name: "widget", Path: "org/concord/widget", Method: project.CopyJars{}, Branch: "main"}

	server := NewServer(project.NewRegistry(map[string]*project.Project{"widget": widget}), hist, logger, true)
	server.Secret = testSecret
	server.DeployRoot = cfg.DeployRoot()
	server.Run = func(ctx context.Context, proj *project.Project, runID string) *deployment.Summary {
		p := &deployment.Pipeline{
			Config:    cfg,
			Builder:   build.NewBuilder(cfg.Tools, logger, nil),
			Versioner: version.New(nil, time.Now()),
			Deployer:  &deployment.Deployer{Logger: logger},
			History:   hist,
			Logger:    logger,
			RunID:     runID,
			Trigger:   history.TriggerWebhook,
		}
		return p.Run(ctx, []*project.Project{proj})
	}

	payload := []byte(`{"ref":"refs/heads/main","after":"abc123"}`)
	rr, response := serve(server, webhookRequest("/in/widget", "push", payload, testSecret))
	server.WaitForDeployments()

	if rr.Code != http.StatusAccepted {
		t.Fatalf("webhook = %d %v", rr.Code, response)
	}

	records, err := hist.GetRun(context.Background(), response["run_id"])
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Status != history.StatusSuccess || records[0].Trigger != history.TriggerWebhook {
		t.Fatalf("run records = %+v", records)
	}

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jnlp/org/concord/widget/widget.jar", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "widget-bytes" {
		t.Errorf("GET deployed jar = %d %q", rec.Code, rec.Body.String())
	}
}
