package history

import (
	"time"

	"github.com/google/uuid"
)

// Status values stored in the ledger.
const (
	StatusSuccess      = "success"
	StatusFailed       = "failed"
	StatusVerifyFailed = "verify_failed"
	StatusSkipped      = "skipped"
	StatusInProgress   = "in_progress"
)

// Trigger values recording what started a run.
const (
	TriggerCLI     = "cli"
	TriggerWebhook = "webhook"
	TriggerNar     = "nar"
)

// DeploymentRecord is one deployed jar (or one failed project) in the ledger
type DeploymentRecord struct {
	ID              int64      `json:"id"`
	RunID           string     `json:"run_id"`
	Project         string     `json:"project"`
	Artifact        string     `json:"artifact,omitempty"`
	Destination     string     `json:"destination,omitempty"`
	VersionIndex    int        `json:"version_index"`
	Status          string     `json:"status"`
	Trigger         string     `json:"trigger"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
}

// DeploymentStatus represents the latest status of a project
type DeploymentStatus struct {
	Project          string             `json:"project"`
	LatestDeployment *DeploymentRecord  `json:"latest_deployment,omitempty"`
	RecentHistory    []DeploymentRecord `json:"recent_history"`
}

// NewRunID returns a fresh identifier shared by every record of a run.
func NewRunID() string {
	return uuid.NewString()
}
