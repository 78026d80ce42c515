package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// StatusContext is the commit status context shown on GitHub.
const StatusContext = "jardeploy"

// Commit status states understood by GitHub.
const (
	StatePending = "pending"
	StateSuccess = "success"
	StateFailure = "failure"
	StateError   = "error"
)

// StatusService is the part of the go-github client used here.
type StatusService interface {
	CreateStatus(ctx context.Context, owner, repo, ref string, status *github.RepoStatus) (*github.RepoStatus, *github.Response, error)
}

// Reporter posts commit statuses for webhook-triggered runs. A Reporter
// without a client does nothing.
type Reporter struct {
	statuses StatusService
	logger   *slog.Logger
}

// NewReporter creates an authenticated reporter. An empty token yields a
// reporter that only logs.
func NewReporter(token string, logger *slog.Logger) *Reporter {
	if token == "" {
		return &Reporter{logger: logger}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	return &Reporter{statuses: github.NewClient(tc).Repositories, logger: logger}
}

// NewReporterWithService creates a reporter on top of an existing client.
func NewReporterWithService(statuses StatusService, logger *slog.Logger) *Reporter {
	return &Reporter{statuses: statuses, logger: logger}
}

// Enabled reports whether statuses are sent.
func (r *Reporter) Enabled() bool {
	return r != nil && r.statuses != nil
}

// Report sets the status of sha in the "owner/name" repository.
func (r *Reporter) Report(ctx context.Context, ownerRepo, sha, state, description string) error {
	if !r.Enabled() || sha == "" || ownerRepo == "" {
		return nil
	}

	parts := strings.Split(ownerRepo, "/")
	if len(parts) != 2 {
		return fmt.Errorf("invalid owner/repo format: %s", ownerRepo)
	}

	if len(description) > 140 {
		description = description[:137] + "..."
	}

	status := &github.RepoStatus{
		State:       github.String(state),
		Description: github.String(description),
		Context:     github.String(StatusContext),
	}

	if _, _, err := r.statuses.CreateStatus(ctx, parts[0], parts[1], sha, status); err != nil {
		return fmt.Errorf("creating commit status: %w", err)
	}

	if r.logger != nil {
		r.logger.Info("Reported commit status", "repo", ownerRepo, "sha", sha, "state", state)
	}
	return nil
}
