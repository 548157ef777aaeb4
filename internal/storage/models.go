package storage

import (
	"time"

	"github.com/uptrace/bun"
)

// CaseStatus is the lifecycle state of a Case. The Conductor reserves a
// GPU for the next configured workflow step and moves the case straight
// to PROCESSING while the remote-executor runs it, one reserve-then-
// execute round trip per step, until the configured step list is
// exhausted and the case moves to COMPLETED. UPLOADING/EXECUTING/
// DOWNLOADING are part of the persisted enum but are not states the
// Conductor itself drives a case through; PENDING_RESOURCE and FAILED
// are reachable any time a step needs a GPU or reports an error.
type CaseStatus string

const (
	StatusNew             CaseStatus = "NEW"
	StatusQueued          CaseStatus = "QUEUED"
	StatusProcessing      CaseStatus = "PROCESSING"
	StatusUploading       CaseStatus = "UPLOADING"
	StatusExecuting       CaseStatus = "EXECUTING"
	StatusDownloading     CaseStatus = "DOWNLOADING"
	StatusPendingResource CaseStatus = "PENDING_RESOURCE"
	StatusCompleted       CaseStatus = "COMPLETED"
	StatusFailed          CaseStatus = "FAILED"
)

// Case is the root workflow entity tracked by the Conductor.
type Case struct {
	bun.BaseModel `bun:"table:cases,alias:c"`

	ID             string     `bun:"id,pk"`
	Status         CaseStatus `bun:"status,notnull"`
	WorkflowStep   *string    `bun:"workflow_step"`
	AssignedGPUID  *string    `bun:"assigned_gpu_id"`
	CorrelationID  string     `bun:"correlation_id,notnull"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull"`
}

// CaseHistory is an append-only audit trail. Every status change is
// written in the same transaction as the Case row update.
type CaseHistory struct {
	bun.BaseModel `bun:"table:case_history,alias:ch"`

	ID           int64      `bun:"id,pk,autoincrement"`
	CaseID       string     `bun:"case_id,notnull"`
	Status       CaseStatus `bun:"status,notnull"`
	WorkflowStep *string    `bun:"workflow_step"`
	Note         string     `bun:"note"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
}

// GPUStatus is the reservation state of a GPUResource.
type GPUStatus string

const (
	GPUAvailable GPUStatus = "available"
	GPUReserved  GPUStatus = "reserved"
)

// GPUResource is one GPU slot on the remote HPC host. Telemetry fields
// are populated by the system-curator worker via gputelemetry.Source; the
// core never parses telemetry itself.
type GPUResource struct {
	bun.BaseModel `bun:"table:gpu_resources,alias:g"`

	ID               string    `bun:"id,pk"`
	Status           GPUStatus `bun:"status,notnull"`
	ReservedByCaseID *string   `bun:"reserved_by_case_id"`
	UtilizationPct   *float64  `bun:"utilization_pct"`
	MemoryUsedMB     *float64  `bun:"memory_used_mb"`
	TemperatureC     *float64  `bun:"temperature_c"`
	UpdatedAt        time.Time `bun:"updated_at,notnull"`
}

// ScannedCase records that the external scanner has already submitted a
// case_id for the current cycle, so it is not resubmitted.
type ScannedCase struct {
	bun.BaseModel `bun:"table:scanned_cases,alias:sc"`

	CaseID    string    `bun:"case_id,pk"`
	Path      string    `bun:"path,notnull"`
	ScannedAt time.Time `bun:"scanned_at,notnull"`
}

// ProcessStatus persists supervised-process PIDs so the supervisor can
// adopt running children across its own restarts.
type ProcessStatus struct {
	bun.BaseModel `bun:"table:process_status,alias:p"`

	Name            string    `bun:"name,pk"`
	PID             int       `bun:"pid"`
	Remote          bool      `bun:"remote,notnull"`
	Host            *string   `bun:"host"`
	Status          string    `bun:"status,notnull"`
	RestartCount    int       `bun:"restart_count,notnull"`
	LastHealthCheck *time.Time `bun:"last_health_check"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

// LogEntry is an optional store-backed sink for the ambient logger, used
// when logging.storesink is enabled in configuration.
type LogEntry struct {
	bun.BaseModel `bun:"table:logs,alias:l"`

	ID            int64     `bun:"id,pk,autoincrement"`
	Level         string    `bun:"level,notnull"`
	Component     string    `bun:"component"`
	Message       string    `bun:"message,notnull"`
	CaseID        *string   `bun:"case_id"`
	CorrelationID *string   `bun:"correlation_id"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}
