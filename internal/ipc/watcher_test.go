package ipc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/channel"
	"github.com/parley-chat/parley/internal/group"
	"github.com/parley-chat/parley/internal/task"
)

type fakeChannel struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
	addrs string
}

func (f *fakeChannel) ID() string { return "fake" }

func (f *fakeChannel) SendMessage(ctx context.Context, address, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("platform unavailable")
	}
	f.sent = append(f.sent, address+"|"+text)
	return nil
}

func (f *fakeChannel) SendPhoto(ctx context.Context, address, path, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("platform unavailable")
	}
	f.sent = append(f.sent, address+"|photo:"+path+"|"+caption)
	return nil
}

func (f *fakeChannel) HandlesAddress(address string) bool {
	return strings.HasPrefix(address, f.addrs)
}

func (f *fakeChannel) HandlesGroup(string) bool { return true }

func (f *fakeChannel) delivered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.sent...)
}

type fixture struct {
	root    string
	watcher *Watcher
	groups  group.Store
	tasks   *task.Store
	channel *fakeChannel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	root := filepath.Join(dir, "groups")

	groups := group.NewFileStore(filepath.Join(dir, "groups.json"))
	tasks := task.NewStore(filepath.Join(dir, "tasks.json"))

	ch := &fakeChannel{addrs: "fake:"}
	reg := channel.NewRegistry()
	_ = reg.Register(ch)

	for _, g := range []group.Group{
		{Folder: "main", Name: "Main", Address: "fake:main-chat"},
		{Folder: "alpha", Name: "Alpha", Address: "fake:alpha-chat"},
		{Folder: "beta", Name: "Beta", Address: "fake:beta-chat"},
	} {
		if _, err := groups.Register(g); err != nil {
			t.Fatalf("register %s: %v", g.Folder, err)
		}
	}

	return &fixture{
		root:    root,
		watcher: NewWatcher(root, time.Second, groups, tasks, reg),
		groups:  groups,
		tasks:   tasks,
		channel: ch,
	}
}

func (f *fixture) drop(t *testing.T, dir, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestWatcher_DeliversMessageAndDeletesFile(t *testing.T) {
	f := newFixture(t)
	path := f.drop(t, MessagesDir(f.root, "alpha"), "m1.json",
		`{"type":"message","targetAddress":"fake:alpha-chat","text":"hello there"}`)

	f.watcher.Sweep(context.Background())

	sent := f.channel.delivered()
	if len(sent) != 1 || sent[0] != "fake:alpha-chat|hello there" {
		t.Fatalf("delivered = %v", sent)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("delivered message file should be removed")
	}
}

func TestWatcher_DefaultsTargetToGroupAddress(t *testing.T) {
	f := newFixture(t)
	f.drop(t, MessagesDir(f.root, "alpha"), "m1.json", `{"text":"no explicit target"}`)

	f.watcher.Sweep(context.Background())

	sent := f.channel.delivered()
	if len(sent) != 1 || sent[0] != "fake:alpha-chat|no explicit target" {
		t.Fatalf("delivered = %v", sent)
	}
}

func TestWatcher_QuarantinesMalformedMessage(t *testing.T) {
	f := newFixture(t)
	f.drop(t, MessagesDir(f.root, "alpha"), "broken.json", `{not json`)

	f.watcher.Sweep(context.Background())

	if len(f.channel.delivered()) != 0 {
		t.Fatal("malformed file must not be delivered")
	}
	moved := filepath.Join(QuarantineDir(f.root, "alpha"), "broken.json")
	if _, err := os.Stat(moved); err != nil {
		t.Fatalf("quarantined file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(MessagesDir(f.root, "alpha"), "broken.json")); !os.IsNotExist(err) {
		t.Fatal("original file should be gone from outbox")
	}
}

func TestWatcher_QuarantinesOnDispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.channel.fail = true
	f.drop(t, MessagesDir(f.root, "alpha"), "m1.json",
		`{"type":"message","targetAddress":"fake:alpha-chat","text":"hi"}`)

	f.watcher.Sweep(context.Background())

	moved := filepath.Join(QuarantineDir(f.root, "alpha"), "m1.json")
	if _, err := os.Stat(moved); err != nil {
		t.Fatalf("undeliverable file not quarantined: %v", err)
	}
}

func TestWatcher_ScheduleTaskInterval(t *testing.T) {
	f := newFixture(t)
	before := time.Now()
	path := f.drop(t, TasksDir(f.root, "alpha"), "t1.json",
		`{"type":"schedule_task","prompt":"ping","schedule_type":"interval","schedule_value":"1000","groupFolder":"alpha"}`)

	f.watcher.Sweep(context.Background())

	all := f.tasks.List()
	if len(all) != 1 {
		t.Fatalf("tasks = %+v", all)
	}
	tk := all[0]
	if tk.Status != task.StatusActive || tk.GroupFolder != "alpha" || tk.Prompt != "ping" {
		t.Fatalf("task = %+v", tk)
	}
	if tk.ContextMode != task.ContextIsolated {
		t.Fatalf("default context mode = %s, want isolated", tk.ContextMode)
	}
	if tk.TargetAddress != "fake:alpha-chat" {
		t.Fatalf("target address = %q, want group address", tk.TargetAddress)
	}
	if tk.NextDue == nil {
		t.Fatal("NextDue not set")
	}
	offset := tk.NextDue.Sub(before)
	if offset < 900*time.Millisecond || offset > 2*time.Second {
		t.Fatalf("NextDue offset = %v, want about 1s", offset)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("processed task file should be removed")
	}
}

func TestWatcher_RejectsInvalidRecurrence(t *testing.T) {
	f := newFixture(t)
	path := f.drop(t, TasksDir(f.root, "alpha"), "t1.json",
		`{"type":"schedule_task","prompt":"ping","schedule_type":"cron","schedule_value":"not a cron"}`)

	f.watcher.Sweep(context.Background())

	if got := f.tasks.List(); len(got) != 0 {
		t.Fatalf("invalid recurrence created tasks: %+v", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("rejected task file should still be removed")
	}
}

func TestWatcher_UnauthorizedMutationIsNoOp(t *testing.T) {
	f := newFixture(t)
	due := time.Now().Add(time.Hour)
	_ = f.tasks.Add(task.Task{
		ID: "victim", GroupFolder: "beta", Prompt: "beta's task",
		ScheduleType: task.ScheduleInterval, ScheduleValue: "60000",
		Status: task.StatusActive, NextDue: &due,
	})

	// alpha tries to pause and cancel beta's task.
	path1 := f.drop(t, TasksDir(f.root, "alpha"), "pause.json", `{"type":"pause_task","taskId":"victim"}`)
	path2 := f.drop(t, TasksDir(f.root, "alpha"), "cancel.json", `{"type":"cancel_task","taskId":"victim"}`)

	f.watcher.Sweep(context.Background())

	got, ok := f.tasks.Get("victim")
	if !ok || got.Status != task.StatusActive {
		t.Fatalf("task mutated by unauthorized request: %+v ok=%v", got, ok)
	}
	for _, p := range []string{path1, path2} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("rejected file %s should be removed", p)
		}
	}
}

func TestWatcher_MainActsOnAnyGroup(t *testing.T) {
	f := newFixture(t)
	due := time.Now().Add(time.Hour)
	_ = f.tasks.Add(task.Task{
		ID: "t1", GroupFolder: "beta", Prompt: "p",
		ScheduleType: task.ScheduleInterval, ScheduleValue: "60000",
		Status: task.StatusActive, NextDue: &due,
	})

	f.drop(t, TasksDir(f.root, "main"), "pause.json", `{"type":"pause_task","taskId":"t1"}`)
	f.watcher.Sweep(context.Background())

	if got, _ := f.tasks.Get("t1"); got.Status != task.StatusPaused {
		t.Fatalf("status = %s, want paused", got.Status)
	}

	f.drop(t, TasksDir(f.root, "main"), "resume.json", `{"type":"resume_task","taskId":"t1"}`)
	f.watcher.Sweep(context.Background())

	got, _ := f.tasks.Get("t1")
	if got.Status != task.StatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
	if got.NextDue == nil {
		t.Fatal("resume must leave a due time in place")
	}
}

func TestWatcher_CancelRemovesTask(t *testing.T) {
	f := newFixture(t)
	due := time.Now().Add(time.Hour)
	_ = f.tasks.Add(task.Task{
		ID: "t1", GroupFolder: "alpha", Prompt: "p",
		ScheduleType: task.ScheduleOnce, ScheduleValue: due.Format(time.RFC3339),
		Status: task.StatusActive, NextDue: &due,
	})

	f.drop(t, TasksDir(f.root, "alpha"), "cancel.json", `{"type":"cancel_task","taskId":"t1"}`)
	f.watcher.Sweep(context.Background())

	if _, ok := f.tasks.Get("t1"); ok {
		t.Fatal("cancelled task still present")
	}
}

func TestWatcher_RegisterGroupPrivilegedOnly(t *testing.T) {
	f := newFixture(t)

	f.drop(t, TasksDir(f.root, "alpha"), "reg.json",
		`{"type":"register_group","folder":"gamma","name":"Gamma","address":"fake:gamma-chat"}`)
	f.watcher.Sweep(context.Background())
	if _, ok := f.groups.Get("gamma"); ok {
		t.Fatal("non-privileged group registered a group")
	}

	f.drop(t, TasksDir(f.root, "main"), "reg.json",
		`{"type":"register_group","folder":"gamma","name":"Gamma","address":"fake:gamma-chat","trigger_prefix":"@bot"}`)
	f.watcher.Sweep(context.Background())

	g, ok := f.groups.Get("gamma")
	if !ok || g.Address != "fake:gamma-chat" || g.TriggerPrefix != "@bot" {
		t.Fatalf("registered group = %+v ok=%v", g, ok)
	}
}

func TestWatcher_RefreshGroupsSnapshot(t *testing.T) {
	f := newFixture(t)

	f.drop(t, TasksDir(f.root, "alpha"), "refresh.json", `{"type":"refresh_groups"}`)
	f.watcher.Sweep(context.Background())

	data, err := os.ReadFile(filepath.Join(InboxDir(f.root, "alpha"), "groups.json"))
	if err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	if !strings.Contains(string(data), "alpha") || strings.Contains(string(data), "beta") {
		t.Fatalf("non-privileged snapshot should only list the requester: %s", data)
	}

	f.drop(t, TasksDir(f.root, "main"), "refresh.json", `{"type":"refresh_groups"}`)
	f.watcher.Sweep(context.Background())

	data, err = os.ReadFile(filepath.Join(InboxDir(f.root, "main"), "groups.json"))
	if err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	for _, folder := range []string{"main", "alpha", "beta"} {
		if !strings.Contains(string(data), folder) {
			t.Fatalf("privileged snapshot missing %s: %s", folder, data)
		}
	}
}

func TestWatcher_UnknownTypeDropped(t *testing.T) {
	f := newFixture(t)
	path := f.drop(t, TasksDir(f.root, "alpha"), "weird.json", `{"type":"reboot_host"}`)

	f.watcher.Sweep(context.Background())

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("unknown type file should be removed")
	}
	if got := f.tasks.List(); len(got) != 0 {
		t.Fatalf("unknown type had effects: %+v", got)
	}
}

func TestWatcher_SkipsUnregisteredDirectories(t *testing.T) {
	f := newFixture(t)
	f.drop(t, MessagesDir(f.root, "stranger"), "m1.json",
		`{"text":"hi","targetAddress":"fake:alpha-chat"}`)

	f.watcher.Sweep(context.Background())

	if len(f.channel.delivered()) != 0 {
		t.Fatal("unregistered directory must be ignored")
	}
	if _, err := os.Stat(filepath.Join(MessagesDir(f.root, "stranger"), "m1.json")); err != nil {
		t.Fatalf("file in unregistered directory should be untouched: %v", err)
	}
}
