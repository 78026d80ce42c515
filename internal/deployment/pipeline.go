package deployment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"jardeploy/internal/build"
	"jardeploy/internal/history"
	"jardeploy/internal/packer"
	"jardeploy/internal/project"
	"jardeploy/internal/security"
	"jardeploy/internal/version"
)

// ArtifactBuilder builds a project in its checkout directory.
type ArtifactBuilder interface {
	Build(ctx context.Context, p *project.Project, dir string) ([]build.Artifact, error)
}

// JarProcessor post-processes one deployed jar in place.
type JarProcessor interface {
	Process(ctx context.Context, jarPath string, sign bool) (*packer.Result, error)
}

// Recorder stores ledger entries.
type Recorder interface {
	RecordDeployment(ctx context.Context, record *history.DeploymentRecord) (int64, error)
}

// Pipeline builds, versions, copies and packs projects one after the
// other. A failing or panicking project never stops the ones after it.
type Pipeline struct {
	Config    *project.Config
	Builder   ArtifactBuilder
	Versioner *version.Versioner
	Deployer  *Deployer
	// Packer is optional; nil deploys jars without post-processing.
	Packer JarProcessor
	// History is optional.
	History Recorder
	Logger  *slog.Logger
	RunID   string
	Trigger string
}

// Run processes projects in order and reports every outcome.
func (p *Pipeline) Run(ctx context.Context, projects []*project.Project) *Summary {
	summary := &Summary{RunID: p.RunID, StartedAt: time.Now()}
	p.logger().Info("Starting run", "run_id", p.RunID, "projects", len(projects), "timestamp", p.Versioner.Timestamp)

	for _, proj := range projects {
		if err := ctx.Err(); err != nil {
			summary.Projects = append(summary.Projects, ProjectReport{
				Project: proj.Name,
				Status:  history.StatusSkipped,
				Err:     fmt.Errorf("run cancelled: %w", err),
			})
			continue
		}
		summary.Projects = append(summary.Projects, p.runProject(ctx, proj))
	}

	summary.Duration = time.Since(summary.StartedAt)
	p.logger().Info("Run finished", "run_id", p.RunID, "failed", summary.Failed(), "elapsed", summary.Duration.Round(time.Millisecond))
	return summary
}

func (p *Pipeline) runProject(ctx context.Context, proj *project.Project) (report ProjectReport) {
	start := time.Now()
	log := p.logger().With("project", proj.Name)
	report.Project = proj.Name

	defer func() {
		if r := recover(); r != nil {
			log.Error("Project panicked", "panic", r, "stack", string(debug.Stack()))
			report.Err = fmt.Errorf("panic: %v", r)
		}
		report.Duration = time.Since(start)
		report.Status = report.status()
		if report.Err != nil && len(report.Jars) == 0 {
			p.record(ctx, proj.Name, DeployedJar{}, report.Status, start, report.Err)
		}
	}()

	log.Info("Building project", "method", proj.Method.Method())
	artifacts, err := p.Builder.Build(ctx, proj, p.Config.ProjectDir(proj.Name))
	if err != nil {
		log.Error("Build failed", "error", err)
		report.Err = err
		return report
	}
	if len(artifacts) == 0 {
		log.Warn("Build produced no jars")
		return report
	}

	destDir := proj.DeployDir(p.Config.DeployRoot())
	for _, art := range artifacts {
		jar, err := p.deployArtifact(ctx, proj, art, destDir)
		report.Jars = append(report.Jars, jar)
		if err != nil {
			report.Err = err
			return report
		}
	}
	return report
}

// deployArtifact versions, copies and packs one artifact. A non-nil error
// means the project cannot continue; pack failures only fail the jar.
func (p *Pipeline) deployArtifact(ctx context.Context, proj *project.Project, art build.Artifact, destDir string) (JarReport, error) {
	start := time.Now()
	jr := JarReport{Jar: DeployedJar{Project: proj.Name, Source: art.Source, Sign: proj.Sign}}

	name, index, err := p.Versioner.Name(destDir, proj.Name, art.Version, art.Source)
	if err != nil {
		jr.Err = err
		p.record(ctx, proj.Name, jr.Jar, history.StatusFailed, start, err)
		return jr, err
	}
	jr.Jar.Index = index

	dest, err := p.Deployer.Deploy(art.Source, destDir, name)
	if err != nil {
		jr.Err = err
		p.record(ctx, proj.Name, jr.Jar, history.StatusFailed, start, err)
		return jr, err
	}
	jr.Jar.Path = dest

	if p.Packer != nil {
		jr.Pack, jr.Err = p.Packer.Process(ctx, dest, proj.Sign)
	}

	p.record(ctx, proj.Name, jr.Jar, jr.status(), start, jr.Err)
	return jr, nil
}

func (p *Pipeline) record(ctx context.Context, projectName string, jar DeployedJar, status string, start time.Time, err error) {
	if p.History == nil {
		return
	}
	duration := time.Since(start).Seconds()
	rec := &history.DeploymentRecord{
		RunID:           p.RunID,
		Project:         projectName,
		Artifact:        jar.Name(),
		Destination:     jar.Path,
		VersionIndex:    jar.Index,
		Status:          status,
		Trigger:         p.Trigger,
		StartedAt:       start,
		DurationSeconds: &duration,
	}
	if jar.Path == "" {
		rec.Artifact = ""
	}
	if err != nil {
		msg := security.RedactString(err.Error())
		rec.ErrorMessage = &msg
	}
	if _, err := p.History.RecordDeployment(ctx, rec); err != nil {
		p.logger().Warn("Failed to record deployment history", "project", projectName, "error", err)
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p.Logger
}
