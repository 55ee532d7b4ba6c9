package task

import "time"

// ScheduleType defines how a task's next due time is computed.
type ScheduleType string

const (
	// ScheduleOnce fires at a literal RFC 3339 timestamp, then completes.
	ScheduleOnce ScheduleType = "once"
	// ScheduleInterval fires every N milliseconds.
	ScheduleInterval ScheduleType = "interval"
	// ScheduleCron uses a standard 5-field cron expression.
	ScheduleCron ScheduleType = "cron"
)

// ContextMode controls which conversation context an unattended run uses.
type ContextMode string

const (
	// ContextIsolated runs without a session id: fresh context every fire.
	ContextIsolated ContextMode = "isolated"
	// ContextShared resumes the owning group's live session.
	ContextShared ContextMode = "shared"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// UnattendedMarker prefixes the prompt of scheduled runs so the agent knows
// no human is waiting synchronously.
const UnattendedMarker = "[unattended scheduled run] "

// Task is a unit of future agent work.
// Invariant: NextDue is nil exactly when Status is completed.
type Task struct {
	ID            string       `json:"id"`
	GroupFolder   string       `json:"group_folder"`
	TargetAddress string       `json:"target_address"`
	Prompt        string       `json:"prompt"`
	ScheduleType  ScheduleType `json:"schedule_type"`
	ScheduleValue string       `json:"schedule_value"` // "1000" | "0 9 * * *" | "2026-09-01T09:00:00Z"
	ContextMode   ContextMode  `json:"context_mode"`
	Status        Status       `json:"status"`

	NextDue    *time.Time `json:"next_due,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastResult string     `json:"last_result,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// RunRecord is one append-only audit row per task run.
type RunRecord struct {
	TaskID     string    `json:"task_id"`
	RanAt      time.Time `json:"ran_at"`
	DurationMS int64     `json:"duration_ms"`
	Outcome    Outcome   `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
}
