package task

import (
	"context"
	"sync"
	"time"

	"github.com/parley-chat/parley/internal/pkg/logs"
	"github.com/parley-chat/parley/internal/pkg/metrics"
)

const resultTruncateLen = 500

// Runner executes one unattended agent invocation for a due task and
// returns the textual result. The orchestrator implements this.
type Runner interface {
	RunTask(ctx context.Context, t Task) (string, error)
}

// Scheduler polls the task store and fires due tasks. Tasks within one tick
// run sequentially in ascending due order; each task's row and run record
// are persisted before the next task starts, so a crash mid-tick leaves
// processed tasks correctly advanced.
type Scheduler struct {
	store  *Store
	runner Runner
	tick   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(store *Store, runner Runner, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = 15 * time.Second
	}
	return &Scheduler{store: store, runner: runner, tick: tick}
}

func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()

	logs.CtxInfo(ctx, "[scheduler] started (tick=%s)", s.tick)
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logs.CtxWarn(ctx, "[scheduler] stop timed out waiting for running task")
	}
	logs.CtxInfo(ctx, "[scheduler] stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	for _, t := range s.store.ListDue(time.Now()) {
		if ctx.Err() != nil {
			return
		}
		s.executeTask(ctx, t)
	}
}

func (s *Scheduler) executeTask(ctx context.Context, t Task) {
	ranAt := time.Now()

	run := t
	run.Prompt = UnattendedMarker + t.Prompt
	result, err := s.runner.RunTask(ctx, run)

	record := RunRecord{
		TaskID:     t.ID,
		RanAt:      ranAt,
		DurationMS: time.Since(ranAt).Milliseconds(),
	}
	if err != nil {
		record.Outcome = OutcomeError
		record.Detail = truncate(err.Error())
		logs.CtxWarn(ctx, "[scheduler] task %s run failed: %v", t.ID, err)
	} else {
		record.Outcome = OutcomeSuccess
		record.Detail = truncate(result)
		logs.CtxInfo(ctx, "[scheduler] task %s fired", t.ID)
	}
	metrics.TaskRuns.WithLabelValues(string(record.Outcome)).Inc()

	// The schedule advances even when the run errored: a broken task must
	// not jam the scheduler, and recurring tasks stay active with failures
	// visible only in the run log.
	if _, err := s.store.UpdateWith(t.ID, func(cur *Task) error {
		cur.LastRunAt = &ranAt
		cur.LastResult = record.Detail
		if advErr := Advance(cur, time.Now()); advErr != nil {
			// Unparseable recurrence at this point means the stored value
			// was corrupted; retire the task instead of spinning on it.
			logs.CtxWarn(ctx, "[scheduler] advance task %s: %v, completing", cur.ID, advErr)
			cur.Status = StatusCompleted
			cur.NextDue = nil
		}
		return nil
	}); err != nil {
		logs.CtxWarn(ctx, "[scheduler] persist task %s: %v", t.ID, err)
	}

	if err := s.store.AppendRun(record); err != nil {
		logs.CtxWarn(ctx, "[scheduler] append run record for %s: %v", t.ID, err)
	}
}

func truncate(s string) string {
	if len(s) <= resultTruncateLen {
		return s
	}
	return s[:resultTruncateLen] + "..."
}
