package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parley-chat/parley/internal/channel"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/group"
	"github.com/parley-chat/parley/internal/ipc"
	"github.com/parley-chat/parley/internal/pkg/logs"
	"github.com/parley-chat/parley/internal/provider"
	"github.com/parley-chat/parley/internal/sandbox"
	"github.com/parley-chat/parley/internal/task"
)

// Container-side mount targets. The agent image expects this layout.
const (
	workspaceTarget = "/workspace"
	outboxTarget    = "/outbox"
	inboxTarget     = "/inbox"
)

// ResetCommand clears the group's live session for its current provider.
const ResetCommand = "/reset"

// Orchestrator ties the inbound message flow together: group resolution,
// provider selection, sandbox launch, session rotation, and reply delivery.
// It also implements task.Runner for unattended scheduled runs.
type Orchestrator struct {
	cfg       *config.Config
	root      string
	groups    group.Store
	providers *provider.Registry
	launcher  *sandbox.Launcher
	channels  *channel.Registry
}

func New(cfg *config.Config, root string, groups group.Store, providers *provider.Registry, launcher *sandbox.Launcher, channels *channel.Registry) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		root:      root,
		groups:    groups,
		providers: providers,
		launcher:  launcher,
		channels:  channels,
	}
}

// HandleInbound processes one message arriving from a channel. Messages that
// do not activate the group's agent are dropped silently.
func (o *Orchestrator) HandleInbound(ctx context.Context, address, senderName, text string) error {
	g, created, err := o.groups.EnsureForAddress(address, senderName)
	if err != nil {
		return fmt.Errorf("resolve group for %s: %w", address, err)
	}
	if created {
		logs.CtxInfo(ctx, "[orchestrator] new group %s for address %s", g.Folder, address)
	}

	prompt, ok := g.Activates(text)
	if !ok {
		logs.CtxDebug(ctx, "[orchestrator] message to %s did not activate", g.Folder)
		return nil
	}

	if strings.TrimSpace(prompt) == ResetCommand {
		return o.resetSession(ctx, g, address)
	}

	reply, err := o.run(ctx, g, prompt, address, false)
	if err != nil {
		reply = "Agent run failed: " + err.Error()
	}
	return o.deliver(ctx, address, reply)
}

// RunTask executes one unattended scheduled run. Satisfies task.Runner.
func (o *Orchestrator) RunTask(ctx context.Context, t task.Task) (string, error) {
	g, ok := o.groups.Get(t.GroupFolder)
	if !ok {
		return "", fmt.Errorf("task %s: unknown group %q", t.ID, t.GroupFolder)
	}

	address := t.TargetAddress
	if address == "" {
		address = g.Address
	}

	isolated := t.ContextMode == task.ContextIsolated
	result, err := o.runWith(ctx, g, t.Prompt, address, true, isolated)
	if err != nil {
		return "", err
	}

	if result != "" {
		if derr := o.deliver(ctx, address, result); derr != nil {
			logs.CtxWarn(ctx, "[orchestrator] deliver task %s result: %v", t.ID, derr)
		}
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, g group.Group, prompt, address string, unattended bool) (string, error) {
	return o.runWith(ctx, g, prompt, address, unattended, false)
}

// runWith performs one sandbox invocation. When isolated is set the run gets
// no session id and any rotated id it reports is discarded.
func (o *Orchestrator) runWith(ctx context.Context, g group.Group, prompt, address string, unattended, isolated bool) (string, error) {
	p, err := o.providers.Resolve(g.Folder)
	if err != nil {
		return "", fmt.Errorf("resolve provider for %s: %w", g.Folder, err)
	}

	inv := sandbox.Invocation{
		Prompt:        prompt,
		GroupFolder:   g.Folder,
		TargetAddress: address,
		Privileged:    g.Privileged(),
		Unattended:    unattended,
	}
	if !isolated {
		if sess, ok := o.groups.Session(g.Folder, p.Name()); ok {
			inv.SessionID = sess.ID
		}
	}

	base, err := o.baseConfig(g)
	if err != nil {
		return "", err
	}
	cfg := p.Translate(base, inv)

	resp := o.launcher.Invoke(ctx, cfg, inv, p.Decode)
	if resp.Status != sandbox.StatusSuccess {
		return "", fmt.Errorf("sandbox run for %s: %s", g.Folder, resp.ErrorDetail)
	}

	// Session rotation only sticks after a successful run; a failed run
	// keeps resuming from the last known-good id.
	if !isolated && resp.NewSessionID != "" && resp.NewSessionID != inv.SessionID {
		if err := o.groups.PutSession(g.Folder, p.Name(), resp.NewSessionID); err != nil {
			logs.CtxWarn(ctx, "[orchestrator] persist session for %s: %v", g.Folder, err)
		}
	}
	return resp.Result, nil
}

// baseConfig assembles the provider-independent part of the sandbox config:
// runtime knobs from the daemon config plus the group's directory mounts
// and per-group overrides.
func (o *Orchestrator) baseConfig(g group.Group) (sandbox.Config, error) {
	workspace := filepath.Join(ipc.GroupDir(o.root, g.Folder), "workspace")
	outbox := filepath.Join(ipc.GroupDir(o.root, g.Folder), "outbox")
	inbox := ipc.InboxDir(o.root, g.Folder)
	for _, dir := range []string{
		workspace,
		filepath.Join(outbox, "messages"),
		filepath.Join(outbox, "tasks"),
		inbox,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return sandbox.Config{}, fmt.Errorf("prepare group dirs for %s: %w", g.Folder, err)
		}
	}

	timeout := o.cfg.SandboxTimeout()
	if g.TimeoutSec > 0 {
		timeout = time.Duration(g.TimeoutSec) * time.Second
	}

	mounts := []sandbox.Mount{
		{Source: workspace, Target: workspaceTarget},
		{Source: outbox, Target: outboxTarget},
		{Source: inbox, Target: inboxTarget, ReadOnly: true},
	}
	for _, m := range g.ExtraMounts {
		mounts = append(mounts, sandbox.Mount{
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	return sandbox.Config{
		Runtime:        o.cfg.Sandbox.Runtime,
		Mounts:         mounts,
		Timeout:        timeout,
		MaxStdoutBytes: o.cfg.Sandbox.MaxStdoutBytes,
		MaxStderrBytes: o.cfg.Sandbox.MaxStderrBytes,
	}, nil
}

func (o *Orchestrator) resetSession(ctx context.Context, g group.Group, address string) error {
	p, err := o.providers.Resolve(g.Folder)
	if err != nil {
		return err
	}
	if err := o.groups.ResetSession(g.Folder, p.Name()); err != nil {
		return fmt.Errorf("reset session for %s: %w", g.Folder, err)
	}
	logs.CtxInfo(ctx, "[orchestrator] session reset for %s (%s)", g.Folder, p.Name())
	return o.deliver(ctx, address, "Session reset. The next message starts a fresh conversation.")
}

func (o *Orchestrator) deliver(ctx context.Context, address, text string) error {
	if text == "" {
		return nil
	}
	ch, err := o.channels.ForAddress(address)
	if err != nil {
		return fmt.Errorf("route reply to %s: %w", address, err)
	}
	return ch.SendMessage(ctx, address, text)
}
