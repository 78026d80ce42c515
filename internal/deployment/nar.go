package deployment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"jardeploy/internal/history"
	"jardeploy/internal/project"
	"jardeploy/internal/security"
	"jardeploy/internal/version"
	"jardeploy/pkg/fileutil"
)

// NarDeployer copies the pre-built native-library jars, one per
// platform, into their shared destination and re-signs them. There is no
// build step.
type NarDeployer struct {
	Config     project.NativeArchiveConfig
	DeployRoot string
	Versioner  *version.Versioner
	Deployer   *Deployer
	Packer     JarProcessor
	History    Recorder
	Logger     *slog.Logger
	RunID      string
}

// SourceName is the file name of the pre-built jar for arch.
func (n *NarDeployer) SourceName(arch string) string {
	return fmt.Sprintf("%s-%s-nar.jar", n.Config.Name, arch)
}

// DestDir is the shared destination of every arch.
func (n *NarDeployer) DestDir() string {
	return filepath.Join(n.DeployRoot, filepath.FromSlash(n.Config.Destination))
}

// Run deploys every configured arch. Arches without a source jar are
// skipped. Each arch is reported like a project.
func (n *NarDeployer) Run(ctx context.Context) *Summary {
	summary := &Summary{RunID: n.RunID, StartedAt: time.Now()}
	destDir := n.DestDir()
	n.logger().Info("Deploying native archives", "run_id", n.RunID, "destination", destDir, "arches", len(n.Config.Arches))

	for _, arch := range n.Config.Arches {
		if err := ctx.Err(); err != nil {
			summary.Projects = append(summary.Projects, ProjectReport{
				Project: arch,
				Status:  history.StatusSkipped,
				Err:     fmt.Errorf("run cancelled: %w", err),
			})
			continue
		}
		summary.Projects = append(summary.Projects, n.deployArch(ctx, arch, destDir))
	}

	summary.Duration = time.Since(summary.StartedAt)
	return summary
}

func (n *NarDeployer) deployArch(ctx context.Context, arch, destDir string) ProjectReport {
	start := time.Now()
	base := fmt.Sprintf("%s-%s-nar", n.Config.Name, arch)
	report := ProjectReport{Project: base}
	source := filepath.Join(n.Config.SourceDir, n.SourceName(arch))
	log := n.logger().With("arch", arch)

	if !fileutil.FileExists(source) {
		log.Info("No native archive, skipping", "source", source)
		report.Status = history.StatusSkipped
		return report
	}

	jr := JarReport{Jar: DeployedJar{Project: base, Source: source, Sign: true}}
	finish := func() ProjectReport {
		report.Jars = append(report.Jars, jr)
		report.Err = jr.Err
		report.Duration = time.Since(start)
		report.Status = report.status()
		n.record(ctx, jr, start)
		return report
	}

	index, err := n.Versioner.NextIndex(destDir, "*"+arch+"*__*.jar")
	if err != nil {
		jr.Err = err
		return finish()
	}
	jr.Jar.Index = index
	name := version.Compose(base, n.Config.Version, n.Versioner.Timestamp, index)

	dest, err := n.Deployer.Deploy(source, destDir, name)
	if err != nil {
		jr.Err = err
		return finish()
	}
	jr.Jar.Path = dest

	if n.Packer != nil {
		jr.Pack, jr.Err = n.Packer.Process(ctx, dest, true)
	}
	return finish()
}

func (n *NarDeployer) record(ctx context.Context, jr JarReport, start time.Time) {
	if n.History == nil {
		return
	}
	duration := time.Since(start).Seconds()
	rec := &history.DeploymentRecord{
		RunID:           n.RunID,
		Project:         jr.Jar.Project,
		Destination:     jr.Jar.Path,
		VersionIndex:    jr.Jar.Index,
		Status:          jr.status(),
		Trigger:         history.TriggerNar,
		StartedAt:       start,
		DurationSeconds: &duration,
	}
	if jr.Jar.Path != "" {
		rec.Artifact = jr.Jar.Name()
	}
	if jr.Err != nil {
		msg := security.RedactString(jr.Err.Error())
		rec.ErrorMessage = &msg
	}
	if _, err := n.History.RecordDeployment(ctx, rec); err != nil {
		n.logger().Warn("Failed to record deployment history", "archive", jr.Jar.Project, "error", err)
	}
}

func (n *NarDeployer) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return n.Logger
}
