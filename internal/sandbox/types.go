package sandbox

import "time"

// Mount is one bind mount handed to the container runtime. Paths are not
// validated here; mount policy is the caller's concern.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Config describes how to launch one sandbox: the runtime binary, the image,
// and the per-invocation resource knobs. Providers produce a fully resolved
// Config from their base settings plus the invocation's group overrides.
type Config struct {
	Runtime string
	Image   string
	Mounts  []Mount
	Env     map[string]string

	Timeout        time.Duration
	MaxStdoutBytes int
	MaxStderrBytes int

	// ProviderTag labels audit records and metrics.
	ProviderTag string
}

// Invocation is one request to run the agent. Ephemeral; never persisted.
type Invocation struct {
	Prompt        string
	SessionID     string
	GroupFolder   string
	TargetAddress string
	Privileged    bool
	Unattended    bool
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Response is the normalized outcome of an invocation. All failure modes are
// encoded here; Invoke never returns a Go error.
type Response struct {
	Status       Status
	Result       string
	NewSessionID string
	ErrorDetail  string

	// Truncated is set when stdout exceeded the byte cap. Informational,
	// not an error.
	Truncated bool

	ExitCode int
	Duration time.Duration
}

func errorResponse(detail string, d time.Duration) *Response {
	return &Response{Status: StatusError, ErrorDetail: detail, Duration: d}
}

// wireRequest is the JSON object written to the sandbox's stdin.
type wireRequest struct {
	Prompt        string `json:"prompt"`
	SessionID     string `json:"sessionId,omitempty"`
	GroupFolder   string `json:"groupFolder"`
	TargetAddress string `json:"targetAddress"`
	IsPrivileged  bool   `json:"isPrivileged"`
	IsUnattended  bool   `json:"isUnattended,omitempty"`
}

// WireResponse is the JSON object the sandbox emits between sentinels.
// Exported so provider backends can apply decode quirks.
type WireResponse struct {
	Status       string  `json:"status"`
	Result       *string `json:"result"`
	NewSessionID string  `json:"newSessionId,omitempty"`
	Error        string  `json:"error,omitempty"`
}
