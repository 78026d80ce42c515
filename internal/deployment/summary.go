package deployment

import (
	"fmt"
	"io"
	"time"

	"jardeploy/internal/history"
	"jardeploy/internal/packer"
)

// Process exit codes shared by the CLI.
const (
	ExitOK            = 0
	ExitError         = 1
	ExitConfig        = 2
	ExitPartialFailed = 3
	ExitAllFailed     = 4
)

// JarReport is the outcome for one deployed jar.
type JarReport struct {
	Jar  DeployedJar
	Pack *packer.Result
	Err  error
}

func (j JarReport) status() string {
	switch {
	case j.Err != nil:
		return history.StatusFailed
	case j.Pack != nil && !j.Pack.Verified():
		return history.StatusVerifyFailed
	default:
		return history.StatusSuccess
	}
}

// ProjectReport is the outcome for one project (or one native archive).
type ProjectReport struct {
	Project  string
	Status   string
	Jars     []JarReport
	Err      error
	Duration time.Duration
}

func (r ProjectReport) status() string {
	if r.Status == history.StatusSkipped {
		return r.Status
	}
	if r.Err != nil {
		return history.StatusFailed
	}
	if len(r.Jars) == 0 {
		return history.StatusSkipped
	}
	verifyFailed := false
	for _, j := range r.Jars {
		switch j.status() {
		case history.StatusFailed:
			return history.StatusFailed
		case history.StatusVerifyFailed:
			verifyFailed = true
		}
	}
	if verifyFailed {
		return history.StatusVerifyFailed
	}
	return history.StatusSuccess
}

// Summary collects the reports of one run.
type Summary struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Projects  []ProjectReport
}

// Failed counts failed projects.
func (s *Summary) Failed() int {
	n := 0
	for _, p := range s.Projects {
		if p.Status == history.StatusFailed {
			n++
		}
	}
	return n
}

// VerifyFailures lists every signature diagnostic of the run.
func (s *Summary) VerifyFailures() []string {
	var out []string
	for _, p := range s.Projects {
		for _, j := range p.Jars {
			if j.Pack != nil {
				out = append(out, j.Pack.VerifyFailures...)
			}
		}
	}
	return out
}

// ExitCode maps the run to a process exit status. Signature verification
// failures are reported but do not change it.
func (s *Summary) ExitCode() int {
	failed := s.Failed()
	switch {
	case failed == 0:
		return ExitOK
	case failed == len(s.Projects):
		return ExitAllFailed
	default:
		return ExitPartialFailed
	}
}

// Print writes a human readable report.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "\nRun %s finished in %s\n", s.RunID, s.Duration.Round(time.Millisecond))
	for _, p := range s.Projects {
		fmt.Fprintf(w, "\n  %-20s %-14s %s\n", p.Project, p.Status, p.Duration.Round(time.Millisecond))
		for _, j := range p.Jars {
			target := j.Jar.Path
			if target == "" {
				target = j.Jar.Source
			}
			fmt.Fprintf(w, "    %-12s %s\n", j.status(), target)
			if j.Err != nil {
				fmt.Fprintf(w, "      error: %v\n", j.Err)
			}
			if j.Pack != nil {
				for _, f := range j.Pack.VerifyFailures {
					fmt.Fprintf(w, "      *** %s\n", f)
				}
			}
		}
		if p.Err != nil && len(p.Jars) == 0 {
			fmt.Fprintf(w, "    error: %v\n", p.Err)
		}
	}

	if vf := s.VerifyFailures(); len(vf) > 0 {
		fmt.Fprintf(w, "\n%d signature verification failure(s)\n", len(vf))
	}
	fmt.Fprintf(w, "\n%d of %d failed\n", s.Failed(), len(s.Projects))
}
