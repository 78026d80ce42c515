package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"jardeploy/internal/project"
	"jardeploy/internal/security"
	"jardeploy/pkg/cmdutil"
	"jardeploy/pkg/fileutil"
)

var (
	// ErrArtifactNotFound is returned when a build finished but the
	// expected jar is missing.
	ErrArtifactNotFound = errors.New("build artifact not found")

	// ErrNoSources is returned when a manual build finds no .java files.
	ErrNoSources = errors.New("no java sources found")

	// ErrProjectDirNotFound is returned when the project checkout is missing.
	ErrProjectDirNotFound = errors.New("project directory not found")

	// ErrNoVersion is returned when a stamped build has no version label.
	ErrNoVersion = errors.New("cannot determine version label")
)

// CommandError reports a build command that exited non-zero.
type CommandError struct {
	// Command is the redacted command line.
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Artifact is a jar produced by a build. An empty Version means the jar
// is deployed under its own file name.
type Artifact struct {
	Source  string
	Version string
}

// Stamped reports whether the artifact gets a version-stamped name.
func (a Artifact) Stamped() bool {
	return a.Version != ""
}

// Builder runs a project's build method and locates what it produced.
type Builder struct {
	Runner cmdutil.Runner
	Tools  project.ToolConfig
	Logger *slog.Logger
	// Output receives build tool output as it is produced. Nil captures
	// it silently.
	Output io.Writer
}

// NewBuilder creates a Builder running real commands.
func NewBuilder(tools project.ToolConfig, logger *slog.Logger, output io.Writer) *Builder {
	return &Builder{
		Runner: cmdutil.ExecRunner{},
		Tools:  tools.WithDefaults(),
		Logger: logger,
		Output: output,
	}
}

// Build builds p inside dir and returns its artifacts in deploy order.
func (b *Builder) Build(ctx context.Context, p *project.Project, dir string) ([]Artifact, error) {
	if !fileutil.DirExists(dir) {
		return nil, fmt.Errorf("%w: %s", ErrProjectDirNotFound, dir)
	}

	switch m := p.Method.(type) {
	case project.DelegateBuild:
		return b.delegate(ctx, p, m, dir)
	case project.ManualBuild:
		return b.manual(ctx, p, m, dir)
	case project.CopyJars:
		return b.copyJars(p, dir)
	default:
		return nil, fmt.Errorf("project '%s': unsupported build method %T", p.Name, p.Method)
	}
}

func (b *Builder) delegate(ctx context.Context, p *project.Project, m project.DelegateBuild, dir string) ([]Artifact, error) {
	b.logger().Info("Building project", "project", p.Name, "tool", m.Tool)

	start := time.Now()
	for _, command := range m.Commands {
		if err := b.run(ctx, dir, command); err != nil {
			return nil, err
		}
	}
	b.logger().Info("Build finished", "project", p.Name, "elapsed", time.Since(start).Round(100*time.Millisecond))

	pattern := filepath.Join(dir, m.ArtifactGlob)
	source, err := lastArtifact(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid artifact pattern %q: %w", m.ArtifactGlob, err)
	}
	if source == "" {
		return nil, fmt.Errorf("%w: no match for %s", ErrArtifactNotFound, pattern)
	}

	label := m.Version
	if m.VersionPattern != nil {
		if sub := m.VersionPattern.FindStringSubmatch(filepath.Base(source)); len(sub) > 1 && sub[1] != "" {
			label = sub[1]
		}
	}
	if label == "" {
		return nil, fmt.Errorf("%w for %s", ErrNoVersion, source)
	}

	return []Artifact{{Source: source, Version: label}}, nil
}

// lastArtifact returns the lexicographically last regular file matching
// pattern, or "" when nothing matches. Wildcards may appear in any
// path segment.
func lastArtifact(pattern string) (string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	files := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return "", nil
	}
	sort.Strings(files)
	return files[len(files)-1], nil
}

func (b *Builder) manual(ctx context.Context, p *project.Project, m project.ManualBuild, dir string) ([]Artifact, error) {
	b.logger().Info("Building project", "project", p.Name, "tool", "javac")

	srcDir := filepath.Join(dir, m.SourceDir)
	outDir := filepath.Join(dir, m.OutputDir)

	if err := os.RemoveAll(outDir); err != nil {
		return nil, fmt.Errorf("failed to clean %s: %w", outDir, err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", outDir, err)
	}

	sources, err := fileutil.FindFiles(srcDir, "*.java")
	if err != nil {
		return nil, fmt.Errorf("failed to list sources in %s: %w", srcDir, err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoSources, srcDir)
	}

	javac := []string{b.Tools.Javac, "-target", m.Target, "-sourcepath", m.SourceDir}
	if m.Classpath != "" {
		javac = append(javac, "-classpath", m.Classpath)
	}
	javac = append(javac, "-d", m.OutputDir)
	for _, s := range sources {
		rel, err := filepath.Rel(dir, s)
		if err != nil {
			rel = s
		}
		javac = append(javac, rel)
	}

	start := time.Now()
	if err := b.run(ctx, dir, javac); err != nil {
		return nil, err
	}
	b.logger().Info("Compiled sources", "project", p.Name, "files", len(sources), "elapsed", time.Since(start).Round(100*time.Millisecond))

	jarName := fmt.Sprintf("%s-%s.jar", p.Name, m.Version)
	b.logger().Info("Creating jar", "project", p.Name, "jar", jarName)
	start = time.Now()
	if err := b.run(ctx, dir, []string{b.Tools.Jar, "cf", jarName, "-C", m.OutputDir, "."}); err != nil {
		return nil, err
	}
	b.logger().Info("Jar created", "project", p.Name, "elapsed", time.Since(start).Round(100*time.Millisecond))

	source := filepath.Join(dir, jarName)
	if !fileutil.FileExists(source) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, source)
	}
	return []Artifact{{Source: source, Version: m.Version}}, nil
}

func (b *Builder) copyJars(p *project.Project, dir string) ([]Artifact, error) {
	names, err := fileutil.Glob(dir, "*.jar")
	if err != nil {
		return nil, fmt.Errorf("failed to list jars in %s: %w", dir, err)
	}
	b.logger().Info("Copying jars", "project", p.Name, "count", len(names))

	artifacts := make([]Artifact, 0, len(names))
	for _, n := range names {
		artifacts = append(artifacts, Artifact{Source: filepath.Join(dir, n)})
	}
	return artifacts, nil
}

// run executes one build command and converts a non-zero exit into a
// *CommandError.
func (b *Builder) run(ctx context.Context, dir string, command []string) error {
	display := cmdutil.FormatCommand(security.RedactArgs(command))
	b.logger().Info("Running", "command", display, "dir", dir)

	opts := cmdutil.ExecOptions{Dir: dir, CombinedOutput: true}
	if b.Output != nil {
		opts.Stream = b.Output
	}

	result, err := b.Runner.Run(ctx, opts, command)
	if err == nil && result.OK() {
		return nil
	}

	cmdErr := &CommandError{Command: display, ExitCode: -1, Err: err}
	if result != nil {
		cmdErr.ExitCode = result.ExitCode
		cmdErr.Output = string(result.Output)
	}
	if cmdErr.Err == nil {
		cmdErr.Err = fmt.Errorf("exit status %d", cmdErr.ExitCode)
	}
	return cmdErr
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return b.Logger
}
