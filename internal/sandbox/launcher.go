package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/bytedance/sonic"

	"github.com/parley-chat/parley/internal/pkg/logs"
	"github.com/parley-chat/parley/internal/pkg/metrics"
)

const stderrTailBytes = 512

// DecodeFunc turns raw sandbox stdout into the wire response. Providers
// substitute their own to absorb backend output quirks.
type DecodeFunc func(raw []byte) (*WireResponse, error)

// Launcher runs one container per invocation, wires its stdio, enforces the
// timeout and output caps, and normalizes every outcome into a Response.
type Launcher struct {
	auditDir string
	verbose  bool
}

func NewLauncher(auditDir string, verbose bool) *Launcher {
	return &Launcher{auditDir: auditDir, verbose: verbose}
}

// Invoke launches the sandbox and blocks until it exits, times out, or fails
// to spawn. It never returns a Go error: every failure mode is encoded in
// the Response status.
func (l *Launcher) Invoke(ctx context.Context, cfg Config, inv Invocation, decode DecodeFunc) *Response {
	start := time.Now()
	resp := l.invoke(ctx, cfg, inv, decode, start)
	resp.Duration = time.Since(start)

	metrics.SandboxInvocations.WithLabelValues(cfg.ProviderTag, string(resp.Status)).Inc()
	metrics.SandboxDuration.WithLabelValues(cfg.ProviderTag).Observe(resp.Duration.Seconds())
	return resp
}

func (l *Launcher) invoke(ctx context.Context, cfg Config, inv Invocation, decode DecodeFunc, start time.Time) *Response {
	payload, err := sonic.Marshal(wireRequest{
		Prompt:        inv.Prompt,
		SessionID:     inv.SessionID,
		GroupFolder:   inv.GroupFolder,
		TargetAddress: inv.TargetAddress,
		IsPrivileged:  inv.Privileged,
		IsUnattended:  inv.Unattended,
	})
	if err != nil {
		return errorResponse(fmt.Sprintf("encode sandbox request: %v", err), 0)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, cfg.Runtime, buildRunArgs(cfg)...)
	setCommandProcessGroup(cmd)
	// On timeout, take down the whole process group so descendants holding
	// the stdio pipes cannot keep Wait blocked past the deadline.
	cmd.Cancel = func() error {
		killCommandProcessGroup(cmd)
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = 2 * time.Second

	stdout := newLimitedBuffer(cfg.MaxStdoutBytes)
	stderr := newLimitedBuffer(cfg.MaxStderrBytes)
	stderrTee := newStderrLogger(inv.GroupFolder, stderr)

	cmd.Stdin = newRequestReader(payload)
	cmd.Stdout = stdout
	cmd.Stderr = stderrTee

	logs.CtxDebug(ctx, "[sandbox] %s run image=%s group=%s mounts=%d",
		cfg.Runtime, cfg.Image, inv.GroupFolder, len(cfg.Mounts))

	runErr := cmd.Run()
	stderrTee.flush()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(cmdCtx.Err(), context.DeadlineExceeded):
			killCommandProcessGroup(cmd)
			resp := errorResponse(fmt.Sprintf("timed out after %dms", timeout.Milliseconds()), duration)
			resp.ExitCode = -1
			l.writeAudit(cfg, inv, resp, stdout, stderr)
			return resp
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			// Runtime binary missing or unrunnable.
			resp := errorResponse(fmt.Sprintf("spawn sandbox runtime %q: %v", cfg.Runtime, runErr), duration)
			l.writeAudit(cfg, inv, resp, stdout, stderr)
			return resp
		}
	}

	var resp *Response
	if exitCode != 0 {
		// Non-zero exit wins over any payload stdout happens to contain.
		resp = errorResponse(fmt.Sprintf("sandbox exited with code %d: %s",
			exitCode, Snippet(stderr.Tail(stderrTailBytes))), duration)
	} else {
		resp = decodeResponse(stdout.Bytes(), decode)
	}
	resp.ExitCode = exitCode
	resp.Truncated = stdout.Truncated()
	resp.Duration = duration

	l.writeAudit(cfg, inv, resp, stdout, stderr)
	return resp
}

func decodeResponse(raw []byte, decode DecodeFunc) *Response {
	if decode == nil {
		decode = DecodeOutput
	}
	wire, err := decode(raw)
	if err != nil {
		return errorResponse(fmt.Sprintf("undecodable sandbox output: %v (output: %s)",
			err, Snippet(string(raw))), 0)
	}

	if wire.Status == string(StatusError) {
		detail := wire.Error
		if detail == "" {
			detail = "sandbox reported error without detail"
		}
		return &Response{Status: StatusError, ErrorDetail: detail, NewSessionID: wire.NewSessionID}
	}

	resp := &Response{Status: StatusSuccess, NewSessionID: wire.NewSessionID}
	if wire.Result != nil {
		resp.Result = *wire.Result
	}
	return resp
}

// buildRunArgs translates the mount list and env into the runtime's CLI
// syntax: run --rm -i [-v src:dst[:ro]]... [-e K=V]... image.
func buildRunArgs(cfg Config) []string {
	args := []string{"run", "--rm", "-i"}
	for _, m := range cfg.Mounts {
		spec := m.Source + ":" + m.Target
		if m.ReadOnly {
			spec += ":ro"
		}
		args = append(args, "-v", spec)
	}
	for _, k := range sortedKeys(cfg.Env) {
		args = append(args, "-e", k+"="+cfg.Env[k])
	}
	return append(args, cfg.Image)
}
