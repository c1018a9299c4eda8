package types

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of a validation session.
// A session starts as running and moves to exactly one terminal state.
type SessionStatus string

const (
	// SessionRunning indicates the pipeline is still executing.
	SessionRunning SessionStatus = "running"
	// SessionComplete indicates every stage succeeded.
	SessionComplete SessionStatus = "complete"
	// SessionPartial indicates one or two graceful stages failed; the
	// report, when present, is usable with named gaps.
	SessionPartial SessionStatus = "partial"
	// SessionFailed indicates the critical stage failed, the budget was
	// exhausted, or three or more graceful stages failed.
	SessionFailed SessionStatus = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionComplete, SessionPartial, SessionFailed:
		return true
	}
	return false
}

// Session is one validation attempt. Created by the HTTP entrypoint with
// status running; mutated afterwards only by the pipeline runner and, in the
// crash-recovery path, by the teardown sweep. Never deleted.
type Session struct {
	ID           string        `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string        `gorm:"index;not null" json:"user_id"`
	StartupID    *string       `json:"startup_id,omitempty"`
	InputText    string        `gorm:"not null" json:"input_text"`
	Status       SessionStatus `gorm:"index;not null;default:running" json:"status"`
	FailedSteps  JSONStrings   `gorm:"type:text" json:"failed_steps"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// TableName implements gorm's Tabler.
func (Session) TableName() string { return "validator_sessions" }

// RunStatus is the outcome of a single agent attempt.
type RunStatus string

const (
	RunOK     RunStatus = "ok"
	RunFailed RunStatus = "failed"
)

// AgentRun is the append-only audit record of one agent attempt, retries
// included. Every call the agent client makes produces exactly one row; it
// is the only ground truth for post-hoc debugging of a degraded run.
type AgentRun struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"index;type:uuid;not null" json:"session_id"`
	AgentName  string    `gorm:"not null" json:"agent_name"`
	Attempt    int       `json:"attempt"`
	Status     RunStatus `gorm:"not null" json:"status"`
	OutputJSON JSONText  `gorm:"type:text" json:"output_json,omitempty"`
	Error      *string   `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// TableName implements gorm's Tabler.
func (AgentRun) TableName() string { return "validator_agent_runs" }

// Report is the terminal artifact, written once and only when the compose
// stage produced output. Verified starts false; a downstream verification
// stage (which may never run) flips it and fills VerificationJSON.
type Report struct {
	ID               string      `gorm:"primaryKey;type:uuid" json:"id"`
	SessionID        string      `gorm:"index;type:uuid;not null" json:"session_id"`
	StartupID        *string     `json:"startup_id,omitempty"`
	ReportType       string      `gorm:"not null;default:overall" json:"report_type"`
	Score            *float64    `json:"score,omitempty"`
	Summary          string      `json:"summary"`
	Details          JSONText    `gorm:"type:text" json:"details"`
	KeyFindings      JSONStrings `gorm:"type:text" json:"key_findings"`
	Verified         *bool       `json:"verified,omitempty"`
	VerificationJSON JSONText    `gorm:"type:text" json:"verification_json,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// TableName implements gorm's Tabler.
func (Report) TableName() string { return "validator_reports" }

// AgentResult is the uniform in-memory shape every agent invocation
// collapses to, regardless of transport failure mode.
type AgentResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}
