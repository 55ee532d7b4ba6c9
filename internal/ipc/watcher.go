package ipc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/channel"
	"github.com/parley-chat/parley/internal/consts"
	"github.com/parley-chat/parley/internal/group"
	"github.com/parley-chat/parley/internal/pkg/logs"
	"github.com/parley-chat/parley/internal/pkg/metrics"
	"github.com/parley-chat/parley/internal/task"
)

// Watcher polls every registered group's outbox and acts on dropped files.
// Message files are delivered through the channel registry and deleted on
// success, or quarantined under <root>/errors/<folder>/ on failure. Task
// files mutate the task and group stores; malformed or unauthorized task
// files are logged and deleted without effect.
type Watcher struct {
	root     string
	interval time.Duration
	groups   group.Store
	tasks    *task.Store
	channels *channel.Registry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWatcher(root string, interval time.Duration, groups group.Store, tasks *task.Store, channels *channel.Registry) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watcher{
		root:     root,
		interval: interval,
		groups:   groups,
		tasks:    tasks,
		channels: channels,
	}
}

func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()

	logs.CtxInfo(ctx, "[ipc] watcher started (root=%s interval=%s)", w.root, w.interval)
}

func (w *Watcher) Stop(ctx context.Context) {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logs.CtxWarn(ctx, "[ipc] stop timed out waiting for in-flight sweep")
	}
	logs.CtxInfo(ctx, "[ipc] watcher stopped")
}

func (w *Watcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep processes every outbox file currently on disk, one pass.
func (w *Watcher) Sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		if !os.IsNotExist(err) {
			logs.CtxWarn(ctx, "[ipc] read groups root: %v", err)
		}
		return
	}

	for _, e := range entries {
		if !e.IsDir() || e.Name() == errorsDirName {
			continue
		}
		folder := e.Name()
		if _, ok := w.groups.Get(folder); !ok {
			// An on-disk directory with no registered group is left alone;
			// it may belong to a group registered by a peer not yet loaded.
			continue
		}
		w.sweepMessages(ctx, folder)
		w.sweepTasks(ctx, folder)
	}
}

func (w *Watcher) sweepMessages(ctx context.Context, folder string) {
	for _, path := range listFiles(ctx, MessagesDir(w.root, folder)) {
		if ctx.Err() != nil {
			return
		}
		if err := w.dispatchMessage(ctx, folder, path); err != nil {
			logs.CtxWarn(ctx, "[ipc] message %s from %s: %v, quarantining", filepath.Base(path), folder, err)
			w.quarantine(ctx, folder, path)
			metrics.OutboxFiles.WithLabelValues("messages", "quarantined").Inc()
			continue
		}
		if err := os.Remove(path); err != nil {
			logs.CtxWarn(ctx, "[ipc] remove delivered message %s: %v", path, err)
		}
		metrics.OutboxFiles.WithLabelValues("messages", "delivered").Inc()
	}
}

func (w *Watcher) dispatchMessage(ctx context.Context, folder, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	var msg MessageFile
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	address := msg.TargetAddress
	if address == "" {
		if g, ok := w.groups.Get(folder); ok {
			address = g.Address
		}
	}
	if address == "" {
		return fmt.Errorf("no target address")
	}

	ch, err := w.channels.ForAddress(address)
	if err != nil {
		return fmt.Errorf("route %s: %w", address, err)
	}

	switch msg.Type {
	case TypeMessage, "":
		if msg.Text == "" {
			return fmt.Errorf("empty message text")
		}
		return ch.SendMessage(ctx, address, msg.Text)
	case TypePhoto:
		if msg.ImagePath == "" {
			return fmt.Errorf("photo without image path")
		}
		return ch.SendPhoto(ctx, address, msg.ImagePath, msg.Caption)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (w *Watcher) quarantine(ctx context.Context, folder, path string) {
	dir := QuarantineDir(w.root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logs.CtxWarn(ctx, "[ipc] create quarantine dir %s: %v", dir, err)
		return
	}
	dst := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		logs.CtxWarn(ctx, "[ipc] quarantine %s: %v", path, err)
	}
}

func (w *Watcher) sweepTasks(ctx context.Context, folder string) {
	for _, path := range listFiles(ctx, TasksDir(w.root, folder)) {
		if ctx.Err() != nil {
			return
		}
		disposition := "applied"
		if err := w.applyTaskFile(ctx, folder, path); err != nil {
			// Task mutations never quarantine: a bad or unauthorized request
			// is dropped so the sandbox cannot retry its way past the rules.
			logs.CtxWarn(ctx, "[ipc] task file %s from %s rejected: %v", filepath.Base(path), folder, err)
			disposition = "rejected"
		}
		if err := os.Remove(path); err != nil {
			logs.CtxWarn(ctx, "[ipc] remove task file %s: %v", path, err)
		}
		metrics.OutboxFiles.WithLabelValues("tasks", disposition).Inc()
	}
}

func (w *Watcher) applyTaskFile(ctx context.Context, requester, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	var tf TaskFile
	if err := sonic.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	switch tf.Type {
	case TypeScheduleTask:
		return w.scheduleTask(ctx, requester, tf)
	case TypePauseTask:
		return w.setTaskStatus(ctx, requester, tf.TaskID, task.StatusPaused)
	case TypeResumeTask:
		return w.setTaskStatus(ctx, requester, tf.TaskID, task.StatusActive)
	case TypeCancelTask:
		return w.cancelTask(ctx, requester, tf.TaskID)
	case TypeRegisterGroup:
		return w.registerGroup(ctx, requester, tf)
	case TypeRefreshGroups:
		return w.refreshGroups(ctx, requester)
	default:
		return fmt.Errorf("unknown task file type %q", tf.Type)
	}
}

func (w *Watcher) scheduleTask(ctx context.Context, requester string, tf TaskFile) error {
	target := tf.GroupFolder
	if target == "" {
		target = requester
	}
	if err := w.authorize(requester, target); err != nil {
		return err
	}
	g, ok := w.groups.Get(target)
	if !ok {
		return fmt.Errorf("unknown group %q", target)
	}
	if tf.Prompt == "" {
		return fmt.Errorf("schedule_task without prompt")
	}

	due, err := task.NextDue(task.ScheduleType(tf.ScheduleType), tf.ScheduleValue, time.Now())
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", tf.ScheduleType, tf.ScheduleValue, err)
	}

	mode := task.ContextMode(tf.ContextMode)
	switch mode {
	case task.ContextIsolated, task.ContextShared:
	case "":
		mode = task.ContextIsolated
	default:
		return fmt.Errorf("unknown context mode %q", tf.ContextMode)
	}

	address := tf.TargetAddress
	if address == "" {
		address = g.Address
	}

	t := task.Task{
		ID:            uuid.NewString(),
		GroupFolder:   target,
		TargetAddress: address,
		Prompt:        tf.Prompt,
		ScheduleType:  task.ScheduleType(tf.ScheduleType),
		ScheduleValue: tf.ScheduleValue,
		ContextMode:   mode,
		Status:        task.StatusActive,
		NextDue:       &due,
	}
	if err := w.tasks.Add(t); err != nil {
		return fmt.Errorf("store task: %w", err)
	}
	logs.CtxInfo(ctx, "[ipc] scheduled task %s for %s (%s %q, due %s)", t.ID, target, t.ScheduleType, t.ScheduleValue, due.Format(time.RFC3339))
	return nil
}

func (w *Watcher) setTaskStatus(ctx context.Context, requester, taskID string, status task.Status) error {
	if taskID == "" {
		return fmt.Errorf("missing task id")
	}
	t, ok := w.tasks.Get(taskID)
	if !ok {
		return fmt.Errorf("unknown task %q", taskID)
	}
	if err := w.authorize(requester, t.GroupFolder); err != nil {
		return err
	}

	_, err := w.tasks.UpdateWith(taskID, func(cur *task.Task) error {
		if cur.Status == task.StatusCompleted {
			return fmt.Errorf("task %s already completed", taskID)
		}
		cur.Status = status
		if status == task.StatusActive && cur.NextDue == nil {
			due, derr := task.NextDue(cur.ScheduleType, cur.ScheduleValue, time.Now())
			if derr != nil {
				return derr
			}
			cur.NextDue = &due
		}
		return nil
	})
	if err != nil {
		return err
	}
	logs.CtxInfo(ctx, "[ipc] task %s -> %s (requested by %s)", taskID, status, requester)
	return nil
}

func (w *Watcher) cancelTask(ctx context.Context, requester, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("missing task id")
	}
	t, ok := w.tasks.Get(taskID)
	if !ok {
		return fmt.Errorf("unknown task %q", taskID)
	}
	if err := w.authorize(requester, t.GroupFolder); err != nil {
		return err
	}
	if err := w.tasks.Delete(taskID); err != nil {
		return err
	}
	logs.CtxInfo(ctx, "[ipc] task %s cancelled (requested by %s)", taskID, requester)
	return nil
}

func (w *Watcher) registerGroup(ctx context.Context, requester string, tf TaskFile) error {
	if requester != consts.MainGroupFolder {
		return fmt.Errorf("group registration requires the privileged group")
	}
	if tf.Folder == "" || tf.Address == "" {
		return fmt.Errorf("register_group requires folder and address")
	}

	g, err := w.groups.Register(group.Group{
		Folder:        tf.Folder,
		Name:          tf.Name,
		Address:       tf.Address,
		TriggerPrefix: tf.TriggerPrefix,
	})
	if err != nil {
		return err
	}
	logs.CtxInfo(ctx, "[ipc] registered group %s (%s)", g.Folder, g.Address)
	return nil
}

// refreshGroups writes a groups.json snapshot into the requester's inbox.
// The privileged group sees every group; others see only themselves.
func (w *Watcher) refreshGroups(ctx context.Context, requester string) error {
	var snapshot []GroupSnapshot
	if requester == consts.MainGroupFolder {
		all := w.groups.List()
		sort.Slice(all, func(i, j int) bool { return all[i].Folder < all[j].Folder })
		for _, g := range all {
			snapshot = append(snapshot, snapshotOf(g))
		}
	} else {
		g, ok := w.groups.Get(requester)
		if !ok {
			return fmt.Errorf("unknown group %q", requester)
		}
		snapshot = []GroupSnapshot{snapshotOf(g)}
	}

	data, err := sonic.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := InboxDir(w.root, requester)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	dst := filepath.Join(dir, "groups.json")
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	logs.CtxInfo(ctx, "[ipc] wrote group snapshot for %s (%d entries)", requester, len(snapshot))
	return nil
}

func snapshotOf(g group.Group) GroupSnapshot {
	return GroupSnapshot{
		Folder:        g.Folder,
		Name:          g.Name,
		Address:       g.Address,
		TriggerPrefix: g.TriggerPrefix,
	}
}

// authorize enforces the mutation rule: the privileged group acts on any
// group, everyone else only on itself.
func (w *Watcher) authorize(requester, target string) error {
	if requester == consts.MainGroupFolder || requester == target {
		return nil
	}
	return fmt.Errorf("group %q may not act on %q", requester, target)
}

func listFiles(ctx context.Context, dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logs.CtxWarn(ctx, "[ipc] read %s: %v", dir, err)
		}
		return nil
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files
}
