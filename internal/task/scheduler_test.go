package task

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeRunner struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (f *fakeRunner) RunTask(ctx context.Context, t Task) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, t.Prompt)
	if f.err != nil {
		return "", f.err
	}
	return "done", nil
}

func (f *fakeRunner) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.prompts...)
}

func newSchedulerUnderTest(t *testing.T, runner Runner) (*Scheduler, *Store) {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	return NewScheduler(store, runner, time.Hour), store
}

func TestScheduler_OnceTaskCompletes(t *testing.T) {
	runner := &fakeRunner{}
	s, store := newSchedulerUnderTest(t, runner)

	due := time.Now().Add(-time.Second)
	_ = store.Add(Task{
		ID: "t1", GroupFolder: "alpha", Prompt: "ping",
		ScheduleType: ScheduleOnce, ScheduleValue: due.Format(time.RFC3339),
		Status: StatusActive, NextDue: &due,
	})

	s.runDue(context.Background())

	got, _ := store.Get("t1")
	if got.Status != StatusCompleted || got.NextDue != nil {
		t.Fatalf("after one-shot run: status=%s nextDue=%v", got.Status, got.NextDue)
	}
	if got.LastRunAt == nil {
		t.Fatal("LastRunAt not stamped")
	}
	if runs := store.RunsForTask("t1"); len(runs) != 1 || runs[0].Outcome != OutcomeSuccess {
		t.Fatalf("run log: %+v", runs)
	}

	// A second tick must not re-fire the completed task.
	s.runDue(context.Background())
	if len(runner.seen()) != 1 {
		t.Fatalf("one-shot fired %d times", len(runner.seen()))
	}
}

func TestScheduler_UnattendedMarkerPrefix(t *testing.T) {
	runner := &fakeRunner{}
	s, store := newSchedulerUnderTest(t, runner)

	due := time.Now().Add(-time.Second)
	_ = store.Add(Task{
		ID: "t1", Prompt: "check the feeds",
		ScheduleType: ScheduleInterval, ScheduleValue: "60000",
		Status: StatusActive, NextDue: &due,
	})

	s.runDue(context.Background())

	prompts := runner.seen()
	if len(prompts) != 1 || !strings.HasPrefix(prompts[0], UnattendedMarker) {
		t.Fatalf("prompt = %q, want unattended marker prefix", prompts)
	}
	if !strings.Contains(prompts[0], "check the feeds") {
		t.Fatalf("prompt lost task text: %q", prompts[0])
	}

	// The stored task keeps the original prompt.
	got, _ := store.Get("t1")
	if got.Prompt != "check the feeds" {
		t.Fatalf("stored prompt mutated: %q", got.Prompt)
	}
}

func TestScheduler_ErrorAdvancesScheduleAndStaysActive(t *testing.T) {
	runner := &fakeRunner{err: errors.New("sandbox exploded")}
	s, store := newSchedulerUnderTest(t, runner)

	before := time.Now()
	due := before.Add(-time.Second)
	_ = store.Add(Task{
		ID: "t1", Prompt: "ping",
		ScheduleType: ScheduleInterval, ScheduleValue: "30000",
		Status: StatusActive, NextDue: &due,
	})

	s.runDue(context.Background())

	got, _ := store.Get("t1")
	if got.Status != StatusActive {
		t.Fatalf("failing recurring task status = %s, want active", got.Status)
	}
	if got.NextDue == nil || !got.NextDue.After(before) {
		t.Fatalf("NextDue = %v, want advanced past %v", got.NextDue, before)
	}
	runs := store.RunsForTask("t1")
	if len(runs) != 1 || runs[0].Outcome != OutcomeError || !strings.Contains(runs[0].Detail, "exploded") {
		t.Fatalf("run log: %+v", runs)
	}
}

func TestScheduler_CronRunAppendsRecordWithFreshDue(t *testing.T) {
	runner := &fakeRunner{}
	s, store := newSchedulerUnderTest(t, runner)

	prevDue := time.Now().Add(-time.Minute)
	_ = store.Add(Task{
		ID: "t1", Prompt: "digest",
		ScheduleType: ScheduleCron, ScheduleValue: "*/10 * * * *",
		Status: StatusActive, NextDue: &prevDue,
	})

	s.runDue(context.Background())

	got, _ := store.Get("t1")
	if got.NextDue == nil || !got.NextDue.After(time.Now()) {
		t.Fatalf("cron NextDue = %v, want future", got.NextDue)
	}
	runs := store.RunsForTask("t1")
	if len(runs) != 1 || runs[0].TaskID != "t1" {
		t.Fatalf("run log: %+v", runs)
	}
	if runs[0].RanAt.Before(prevDue) {
		t.Fatalf("run timestamp %v precedes previous due %v", runs[0].RanAt, prevDue)
	}
}
