//go:build !windows

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/channel"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/group"
	"github.com/parley-chat/parley/internal/provider"
	"github.com/parley-chat/parley/internal/sandbox"
	"github.com/parley-chat/parley/internal/task"
)

type fakeChannel struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeChannel) ID() string { return "fake" }

func (f *fakeChannel) SendMessage(ctx context.Context, address, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, address+"|"+text)
	return nil
}

func (f *fakeChannel) SendPhoto(ctx context.Context, address, path, caption string) error {
	return f.SendMessage(ctx, address, "photo:"+path)
}

func (f *fakeChannel) HandlesAddress(address string) bool {
	return strings.HasPrefix(address, "fake:")
}

func (f *fakeChannel) HandlesGroup(string) bool { return true }

func (f *fakeChannel) delivered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.sent...)
}

type fixture struct {
	orch    *Orchestrator
	groups  group.Store
	channel *fakeChannel
	dir     string
}

// writeStubRuntime fakes the container runtime binary. The script receives
// the request on stdin and plays the agent's side of the protocol.
func writeStubRuntime(t *testing.T, dir, script string) string {
	t.Helper()
	path := filepath.Join(dir, "stub-runtime")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write stub runtime: %v", err)
	}
	return path
}

func newFixture(t *testing.T, script string) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Sandbox: config.SandboxConfig{
			Runtime:        writeStubRuntime(t, dir, script),
			TimeoutSec:     10,
			MaxStdoutBytes: 1 << 20,
			MaxStderrBytes: 64 << 10,
		},
		Providers: map[string]config.ProviderConfig{
			"claude-main": {ID: "claude-main", Type: "claude", Image: "agent:test"},
		},
		DefaultProvider: "claude-main",
	}

	groups := group.NewFileStore(filepath.Join(dir, "groups.json"))

	reg := provider.NewRegistry(filepath.Join(dir, "providers.json"), "claude-main")
	p, err := provider.FromConfig(cfg.Providers["claude-main"])
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	reg.Register(p)

	ch := &fakeChannel{}
	chans := channel.NewRegistry()
	_ = chans.Register(ch)

	orch := New(cfg, filepath.Join(dir, "groups"), groups, reg, sandbox.NewLauncher("", false), chans)
	return &fixture{orch: orch, groups: groups, channel: ch, dir: dir}
}

const okScript = `
cat >/dev/null
echo "---OUTPUT_START---"
echo '{"status":"success","result":"agent says hi","newSessionId":"sess-1"}'
echo "---OUTPUT_END---"
`

func TestHandleInbound_RunsAgentAndReplies(t *testing.T) {
	f := newFixture(t, okScript)

	if err := f.orch.HandleInbound(context.Background(), "fake:team-chat", "Team Chat", "hello agent"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	sent := f.channel.delivered()
	if len(sent) != 1 || sent[0] != "fake:team-chat|agent says hi" {
		t.Fatalf("delivered = %v", sent)
	}

	// The group was auto-created and the rotated session persisted.
	g, ok := f.groups.FindByAddress("fake:team-chat")
	if !ok {
		t.Fatal("group not created on first contact")
	}
	sess, ok := f.groups.Session(g.Folder, "claude-main")
	if !ok || sess.ID != "sess-1" {
		t.Fatalf("session = %+v ok=%v", sess, ok)
	}
}

func TestHandleInbound_TriggerPrefixGate(t *testing.T) {
	f := newFixture(t, okScript)
	_, _ = f.groups.Register(group.Group{
		Folder: "gated", Address: "fake:gated-chat", TriggerPrefix: "@bot",
	})

	if err := f.orch.HandleInbound(context.Background(), "fake:gated-chat", "", "just chatting"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if sent := f.channel.delivered(); len(sent) != 0 {
		t.Fatalf("non-triggering message ran the agent: %v", sent)
	}

	if err := f.orch.HandleInbound(context.Background(), "fake:gated-chat", "", "@bot do the thing"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if sent := f.channel.delivered(); len(sent) != 1 {
		t.Fatalf("triggering message did not reply: %v", sent)
	}
}

func TestHandleInbound_SandboxFailureReportedToChat(t *testing.T) {
	f := newFixture(t, `
cat >/dev/null
echo "credentials expired" >&2
exit 3
`)

	if err := f.orch.HandleInbound(context.Background(), "fake:team-chat", "", "hello"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	sent := f.channel.delivered()
	if len(sent) != 1 || !strings.Contains(sent[0], "Agent run failed") {
		t.Fatalf("delivered = %v", sent)
	}

	// A failed run must not install a session.
	g, _ := f.groups.FindByAddress("fake:team-chat")
	if _, ok := f.groups.Session(g.Folder, "claude-main"); ok {
		t.Fatal("failed run persisted a session")
	}
}

func TestHandleInbound_ResetCommand(t *testing.T) {
	f := newFixture(t, okScript)
	g, _, err := f.groups.EnsureForAddress("fake:team-chat", "")
	if err != nil {
		t.Fatalf("EnsureForAddress: %v", err)
	}
	_ = f.groups.PutSession(g.Folder, "claude-main", "old-sess")

	if err := f.orch.HandleInbound(context.Background(), "fake:team-chat", "", "/reset"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if _, ok := f.groups.Session(g.Folder, "claude-main"); ok {
		t.Fatal("session survived reset")
	}
	sent := f.channel.delivered()
	if len(sent) != 1 || !strings.Contains(sent[0], "Session reset") {
		t.Fatalf("delivered = %v", sent)
	}
}

func TestHandleInbound_ResumesStoredSession(t *testing.T) {
	// The stub succeeds only when the stored session id arrives on stdin.
	f := newFixture(t, `
if grep -q '"sessionId":"sess-live"'; then
  echo '{"status":"success","result":"resumed"}'
else
  echo '{"status":"error","error":"no session offered"}'
fi
`)
	g, _, _ := f.groups.EnsureForAddress("fake:team-chat", "")
	_ = f.groups.PutSession(g.Folder, "claude-main", "sess-live")

	if err := f.orch.HandleInbound(context.Background(), "fake:team-chat", "", "continue"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	sent := f.channel.delivered()
	if len(sent) != 1 || sent[0] != "fake:team-chat|resumed" {
		t.Fatalf("delivered = %v", sent)
	}
}

func TestRunTask_IsolatedSkipsSession(t *testing.T) {
	// Fails if any session id is offered; always reports a rotated id.
	f := newFixture(t, `
if grep -q '"sessionId"'; then
  echo '{"status":"error","error":"session leaked into isolated run"}'
else
  echo '{"status":"success","result":"task done","newSessionId":"should-not-stick"}'
fi
`)
	g, _, _ := f.groups.EnsureForAddress("fake:team-chat", "")
	_ = f.groups.PutSession(g.Folder, "claude-main", "sess-live")

	result, err := f.orch.RunTask(context.Background(), task.Task{
		ID: "t1", GroupFolder: g.Folder, Prompt: "nightly digest",
		ContextMode: task.ContextIsolated,
	})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if result != "task done" {
		t.Fatalf("result = %q", result)
	}

	// The live session is untouched either way.
	sess, ok := f.groups.Session(g.Folder, "claude-main")
	if !ok || sess.ID != "sess-live" {
		t.Fatalf("session after isolated run = %+v ok=%v", sess, ok)
	}

	sent := f.channel.delivered()
	if len(sent) != 1 || sent[0] != "fake:team-chat|task done" {
		t.Fatalf("delivered = %v", sent)
	}
}

func TestRunTask_SharedUsesAndRotatesSession(t *testing.T) {
	f := newFixture(t, `
if grep -q '"sessionId":"sess-live"'; then
  echo '{"status":"success","result":"shared run","newSessionId":"sess-next"}'
else
  echo '{"status":"error","error":"expected live session"}'
fi
`)
	g, _, _ := f.groups.EnsureForAddress("fake:team-chat", "")
	_ = f.groups.PutSession(g.Folder, "claude-main", "sess-live")

	if _, err := f.orch.RunTask(context.Background(), task.Task{
		ID: "t1", GroupFolder: g.Folder, Prompt: "follow up",
		ContextMode: task.ContextShared,
	}); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	sess, _ := f.groups.Session(g.Folder, "claude-main")
	if sess.ID != "sess-next" {
		t.Fatalf("session = %q, want rotated sess-next", sess.ID)
	}
}

func TestRunTask_UnknownGroup(t *testing.T) {
	f := newFixture(t, okScript)
	if _, err := f.orch.RunTask(context.Background(), task.Task{ID: "t1", GroupFolder: "ghost"}); err == nil {
		t.Fatal("unknown group should error")
	}
}

func TestBaseConfig_GroupOverrides(t *testing.T) {
	f := newFixture(t, okScript)
	g := group.Group{
		Folder:     "alpha",
		TimeoutSec: 42,
		ExtraMounts: []group.MountOverride{
			{Source: f.dir, Target: "/extra", ReadOnly: true},
		},
	}

	cfg, err := f.orch.baseConfig(g)
	if err != nil {
		t.Fatalf("baseConfig: %v", err)
	}
	if cfg.Timeout != 42*time.Second {
		t.Fatalf("Timeout = %v, want group override", cfg.Timeout)
	}

	var hasExtra bool
	for _, m := range cfg.Mounts {
		if m.Target == "/extra" && m.ReadOnly {
			hasExtra = true
		}
	}
	if !hasExtra {
		t.Fatalf("extra mount missing: %+v", cfg.Mounts)
	}

	// The group's exchange directories exist after config assembly.
	for _, sub := range []string{"workspace", "outbox/messages", "outbox/tasks", "inbox"} {
		if _, err := os.Stat(filepath.Join(f.dir, "groups", "alpha", sub)); err != nil {
			t.Fatalf("missing %s: %v", sub, err)
		}
	}
}
