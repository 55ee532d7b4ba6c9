package ipc

// File envelopes a sandbox drops into its outbox. Each is a tagged union
// keyed by the "type" field; unknown types are dropped and logged.

const (
	TypeMessage = "message"
	TypePhoto   = "photo"

	TypeScheduleTask  = "schedule_task"
	TypePauseTask     = "pause_task"
	TypeResumeTask    = "resume_task"
	TypeCancelTask    = "cancel_task"
	TypeRegisterGroup = "register_group"
	TypeRefreshGroups = "refresh_groups"
)

// MessageFile is one entry in outbox/messages: a text or photo send.
type MessageFile struct {
	Type          string `json:"type"`
	TargetAddress string `json:"targetAddress"`
	Text          string `json:"text,omitempty"`
	ImagePath     string `json:"imagePath,omitempty"`
	Caption       string `json:"caption,omitempty"`
}

// TaskFile is one entry in outbox/tasks: a task mutation, a group
// registration, or a snapshot request.
type TaskFile struct {
	Type string `json:"type"`

	// schedule_task
	Prompt        string `json:"prompt,omitempty"`
	ScheduleType  string `json:"schedule_type,omitempty"`
	ScheduleValue string `json:"schedule_value,omitempty"`
	GroupFolder   string `json:"groupFolder,omitempty"`
	TargetAddress string `json:"targetAddress,omitempty"`
	ContextMode   string `json:"context_mode,omitempty"`

	// pause_task / resume_task / cancel_task
	TaskID string `json:"taskId,omitempty"`

	// register_group
	Folder        string `json:"folder,omitempty"`
	Name          string `json:"name,omitempty"`
	Address       string `json:"address,omitempty"`
	TriggerPrefix string `json:"trigger_prefix,omitempty"`
}

// GroupSnapshot is written to a group's inbox in answer to refresh_groups.
type GroupSnapshot struct {
	Folder        string `json:"folder"`
	Name          string `json:"name"`
	Address       string `json:"address"`
	TriggerPrefix string `json:"trigger_prefix,omitempty"`
}
