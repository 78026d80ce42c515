package packer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"

	"jardeploy/internal/project"
	"jardeploy/internal/security"
	"jardeploy/pkg/cmdutil"
	"jardeploy/pkg/fileutil"
)

// Step names one tool invocation of the pipeline.
type Step string

const (
	StepStrip        Step = "strip"
	StepLibraryMF    Step = "library-manifest"
	StepServices     Step = "services"
	StepManifest     Step = "manifest"
	StepRepack       Step = "repack"
	StepSign         Step = "sign"
	StepVerify       Step = "verify"
	StepCompanion    Step = "companion"
	StepUnpack       Step = "unpack"
	StepVerifyUnpack Step = "verify-unpacked"
)

const (
	// ScratchPrefix names the round-trip extraction file in the scratch dir.
	ScratchPrefix = "packgz-extraction-"
	// CompanionExt is appended to a jar name to form its pack200 companion.
	CompanionExt = ".pack.gz"
)

var (
	libraryPattern = regexp.MustCompile(`-nar(__V.*?|)\.jar`)

	// ErrJarNotFound is returned when the jar to process does not exist.
	ErrJarNotFound = errors.New("jar not found")
)

// IsLibrary reports whether name is a native-archive library jar. Those
// get the library manifest and no .pack.gz companion.
func IsLibrary(name string) bool {
	return libraryPattern.MatchString(filepath.Base(name))
}

// StepResult records one tool invocation.
type StepResult struct {
	Step     Step
	Command  string // redacted
	ExitCode int
	Output   string
}

// Result describes one processed jar.
type Result struct {
	Jar     string
	Library bool
	Signed  bool
	Steps   []StepResult
	// Companion is the .pack.gz path, empty for libraries.
	Companion string
	// VerifyFailures lists diagnostics of failed signature checks. They
	// never fail the jar.
	VerifyFailures []string
}

// Verified reports whether every signature check passed.
func (r *Result) Verified() bool {
	return len(r.VerifyFailures) == 0
}

// Packer strips, re-manifests, repacks and signs deployed jars in place.
type Packer struct {
	Runner     cmdutil.Runner
	Tools      project.ToolConfig
	Manifests  project.ManifestConfig
	Signing    project.SigningConfig
	ScratchDir string
	Logger     *slog.Logger
}

// New creates a Packer from the loaded configuration.
func New(cfg *project.Config, logger *slog.Logger) *Packer {
	return &Packer{
		Runner:     cmdutil.ExecRunner{},
		Tools:      cfg.Tools.WithDefaults(),
		Manifests:  cfg.Manifests,
		Signing:    cfg.Signing,
		ScratchDir: cfg.ScratchDir,
		Logger:     logger,
	}
}

// Process runs the pipeline over one jar. All tools run in the jar's
// directory. A failed merge, repack, sign or companion step aborts the
// jar with an error; the partial Result is still returned.
func (p *Packer) Process(ctx context.Context, jarPath string, sign bool) (*Result, error) {
	info, err := os.Stat(jarPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrJarNotFound, jarPath)
	}

	dir := filepath.Dir(jarPath)
	name := filepath.Base(jarPath)
	res := &Result{Jar: jarPath, Library: IsLibrary(name), Signed: sign}
	log := p.logger().With("jar", jarPath)
	log.Info("Processing jar", "size", humanize.Bytes(uint64(info.Size())), "library", res.Library, "sign", sign)

	if sign {
		// zip exits 12 when there was nothing to delete.
		if _, err := p.step(ctx, res, StepStrip, dir, []string{p.Tools.Zip, "-d", name, "META-INF/*"}); err != nil {
			log.Warn("Removing META-INF content failed", "error", err)
		}
	}

	if res.Library {
		if _, err := p.step(ctx, res, StepLibraryMF, dir, []string{p.Tools.Jar, "umf", p.Manifests.Library, name}); err != nil {
			return res, err
		}
	} else {
		if _, err := p.step(ctx, res, StepServices, dir, []string{p.Tools.Jar, "uf", name, "-C", p.Manifests.ServicesDir, "META-INF"}); err != nil {
			return res, err
		}
		manifest := p.Manifests.Jar
		if sign {
			manifest = p.Manifests.SignedJar
		}
		if _, err := p.step(ctx, res, StepManifest, dir, []string{p.Tools.Jar, "umf", manifest, name}); err != nil {
			return res, err
		}
	}

	if _, err := p.step(ctx, res, StepRepack, dir, []string{p.Tools.Pack200, "--repack", "--segment-limit=-1", name}); err != nil {
		return res, err
	}

	if sign {
		if _, err := p.step(ctx, res, StepSign, dir, p.signCommand(name)); err != nil {
			return res, err
		}
		p.verify(ctx, res, StepVerify, dir, name, jarPath)
	}

	if res.Library {
		log.Info("Jar processed", "verified", res.Verified())
		return res, nil
	}

	companion := name + CompanionExt
	if _, err := p.step(ctx, res, StepCompanion, dir, []string{p.Tools.Pack200, "--segment-limit=-1", companion, name}); err != nil {
		return res, err
	}
	res.Companion = filepath.Join(dir, companion)

	if sign {
		p.roundTrip(ctx, res, dir, name)
	}

	log.Info("Jar processed", "companion", res.Companion, "verified", res.Verified())
	return res, nil
}

// roundTrip unpacks the companion into the scratch dir and verifies the
// signature survived. The scratch file is kept on failure for triage.
func (p *Packer) roundTrip(ctx context.Context, res *Result, dir, name string) {
	scratch := filepath.Join(p.scratchDir(), ScratchPrefix+name)
	if err := os.Remove(scratch); err != nil && !os.IsNotExist(err) {
		p.logger().Warn("Failed to remove stale extraction", "path", scratch, "error", err)
	}

	companion := filepath.Join(dir, name+CompanionExt)
	if _, err := p.step(ctx, res, StepUnpack, dir, []string{p.Tools.Unpack200, companion, scratch}); err != nil {
		res.VerifyFailures = append(res.VerifyFailures, fmt.Sprintf("unpack of %s failed: %v", companion, err))
		p.logger().Error("Error with signature", "path", scratch, "error", err)
		return
	}

	if p.verify(ctx, res, StepVerifyUnpack, dir, scratch, scratch) {
		if err := os.Remove(scratch); err != nil && !os.IsNotExist(err) {
			p.logger().Warn("Failed to remove extraction", "path", scratch, "error", err)
		}
	}
}

// verify runs jarsigner -verify and records a diagnostic on failure.
func (p *Packer) verify(ctx context.Context, res *Result, step Step, dir, target, display string) bool {
	out, err := p.step(ctx, res, step, dir, []string{p.Tools.Jarsigner, "-verify", target})
	if err == nil && strings.Contains(out, "jar verified") {
		return true
	}
	msg := fmt.Sprintf("signature verification failed: %s", display)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	res.VerifyFailures = append(res.VerifyFailures, msg)
	p.logger().Error("Error with signature", "path", display, "error", err)
	return false
}

func (p *Packer) signCommand(name string) []string {
	cmd := []string{p.Tools.Jarsigner}
	if p.Signing.Keystore != "" {
		cmd = append(cmd, "-keystore", p.Signing.Keystore)
	}
	return append(cmd, "-storepass", p.Signing.Password, name, p.Signing.Alias)
}

// step runs one tool and records it in res. Output is scrubbed of the
// keystore password before it is kept or returned.
func (p *Packer) step(ctx context.Context, res *Result, step Step, dir string, command []string) (string, error) {
	display := cmdutil.FormatCommand(security.RedactArgs(command))
	p.logger().Info("Running", "step", string(step), "command", display)

	result, err := p.Runner.Run(ctx, cmdutil.ExecOptions{Dir: dir, CombinedOutput: true}, command)

	sr := StepResult{Step: step, Command: display, ExitCode: -1}
	if result != nil {
		sr.ExitCode = result.ExitCode
		sr.Output = string(cmdutil.SanitizeOutput(result.Output, []string{p.Signing.Password}))
	}
	res.Steps = append(res.Steps, sr)

	if err != nil {
		return sr.Output, fmt.Errorf("%s step failed (%s): %w", step, display, err)
	}
	if sr.ExitCode != 0 {
		return sr.Output, fmt.Errorf("%s step exited with code %d (%s)", step, sr.ExitCode, display)
	}
	return sr.Output, nil
}

func (p *Packer) scratchDir() string {
	if p.ScratchDir == "" {
		return os.TempDir()
	}
	return p.ScratchDir
}

func (p *Packer) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p.Logger
}

// TreeResult is the outcome of PackTree for one jar.
type TreeResult struct {
	Result *Result
	Err    error
}

// PackTree processes every jar under root whose path matches filter (a
// regular expression, empty for all jars). A failing jar does not stop
// the others.
func (p *Packer) PackTree(ctx context.Context, root, filter string, sign bool) ([]TreeResult, error) {
	var re *regexp.Regexp
	if filter != "" {
		var err error
		re, err = regexp.Compile(filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", filter, err)
		}
	}

	if _, err := os.Stat(root); errors.Is(err, os.ErrNotExist) {
		p.logger().Info("Deploy tree does not exist, nothing to process", "root", root)
		return nil, nil
	}

	jars, err := fileutil.FindFiles(root, "*.jar")
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	selected := jars[:0]
	for _, j := range jars {
		if re == nil || re.MatchString(j) {
			selected = append(selected, j)
		}
	}
	p.logger().Info("Processing jars", "count", len(selected), "root", root)

	results := make([]TreeResult, 0, len(selected))
	for _, j := range selected {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := p.Process(ctx, j, sign)
		if err != nil {
			p.logger().Error("Jar failed", "jar", j, "error", err)
		}
		results = append(results, TreeResult{Result: res, Err: err})
	}
	return results, nil
}
