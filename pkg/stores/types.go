package stores

import (
	"context"
	"time"
)

// RunStatus represents the status of an installer run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run operations.
const (
	OperationInstall   = "install"
	OperationUpdate    = "update"
	OperationUninstall = "uninstall"
)

// Run represents one install, update or uninstall invocation
type Run struct {
	ID          string     `json:"id"`
	Operation   string     `json:"operation"`
	Status      RunStatus  `json:"status"`
	InstallDir  string     `json:"install_dir"`
	DryRun      bool       `json:"dry_run"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Summary     string     `json:"summary"` // JSON blob
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// UnitResult is the outcome of one unit within a run
type UnitResult struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Unit       string    `json:"unit"`
	Operation  string    `json:"operation"`
	Outcome    string    `json:"outcome"` // installed, updated, failed, skipped, removed
	Version    string    `json:"version"`
	DurationMS int64     `json:"duration_ms"`
	Error      *string   `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// AuditEntry is a stored path validation decision
type AuditEntry struct {
	ID        int64     `json:"id"`
	RunID     *string   `json:"run_id,omitempty"`
	Action    string    `json:"action"` // ALLOW, DENY, WARN
	Path      string    `json:"path"`
	Reason    string    `json:"reason"`
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the history layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, summary string, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	PruneRuns(ctx context.Context, keep int) (int64, error)

	// Unit results
	CreateUnitResult(ctx context.Context, result *UnitResult) error
	ListUnitResults(ctx context.Context, runID string) ([]*UnitResult, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
