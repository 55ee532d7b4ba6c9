package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/parley-chat/parley/internal/consts"
	"github.com/parley-chat/parley/internal/task"
)

var taskHwd = &TaskRunner{}

type TaskRunner struct{}

func (r *TaskRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "task",
		Usage: "Inspect and manage scheduled tasks",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List all persisted tasks",
				Action: r.list,
			},
			{
				Name:  "add",
				Usage: "Schedule a new task",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "group", Usage: "Owning group folder", Required: true},
					&cli.StringFlag{Name: "prompt", Usage: "Prompt for the unattended run", Required: true},
					&cli.StringFlag{Name: "type", Usage: "Schedule type: once, interval, or cron", Required: true},
					&cli.StringFlag{Name: "value", Usage: "RFC 3339 time, interval in ms, or cron expression", Required: true},
					&cli.StringFlag{Name: "context", Usage: "Context mode: isolated or shared", Value: string(task.ContextIsolated)},
					&cli.StringFlag{Name: "target", Usage: "Delivery address (defaults to the group's address)"},
				},
				Action: r.add,
			},
			{
				Name:      "pause",
				Usage:     "Pause an active task",
				ArgsUsage: "<task-id>",
				Action:    r.pause,
			},
			{
				Name:      "resume",
				Usage:     "Resume a paused task",
				ArgsUsage: "<task-id>",
				Action:    r.resume,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a task and drop its run history",
				ArgsUsage: "<task-id>",
				Action:    r.cancel,
			},
			{
				Name:      "runs",
				Usage:     "Show the run history of a task",
				ArgsUsage: "<task-id>",
				Action:    r.runs,
			},
		},
	}
}

func (r *TaskRunner) store() (*task.Store, error) {
	s := task.NewStore(filepath.Join(consts.StateDir(), "tasks.json"))
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("load task store: %w", err)
	}
	return s, nil
}

func (r *TaskRunner) list(_ context.Context, _ *cli.Command) error {
	s, err := r.store()
	if err != nil {
		return err
	}

	tasks := s.List()
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}
	for _, t := range tasks {
		due := "-"
		if t.NextDue != nil {
			due = t.NextDue.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-9s  %-8s %-20s group=%s  %q\n",
			t.ID, t.Status, t.ScheduleType, due, t.GroupFolder, t.Prompt)
	}
	return nil
}

func (r *TaskRunner) add(_ context.Context, cmd *cli.Command) error {
	s, err := r.store()
	if err != nil {
		return err
	}

	schedType := task.ScheduleType(cmd.String("type"))
	schedValue := cmd.String("value")
	due, err := task.NextDue(schedType, schedValue, time.Now())
	if err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	mode := task.ContextMode(cmd.String("context"))
	if mode != task.ContextIsolated && mode != task.ContextShared {
		return fmt.Errorf("invalid context mode: %s", mode)
	}

	t := task.Task{
		ID:            uuid.NewString(),
		GroupFolder:   cmd.String("group"),
		TargetAddress: cmd.String("target"),
		Prompt:        cmd.String("prompt"),
		ScheduleType:  schedType,
		ScheduleValue: schedValue,
		ContextMode:   mode,
		Status:        task.StatusActive,
		NextDue:       &due,
	}
	if err := s.Add(t); err != nil {
		return err
	}

	fmt.Printf("Task %s scheduled, first due %s.\n", t.ID, due.Format(time.RFC3339))
	return nil
}

func (r *TaskRunner) pause(ctx context.Context, cmd *cli.Command) error {
	return r.setStatus(cmd, task.StatusPaused)
}

func (r *TaskRunner) resume(ctx context.Context, cmd *cli.Command) error {
	return r.setStatus(cmd, task.StatusActive)
}

func (r *TaskRunner) setStatus(cmd *cli.Command, status task.Status) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("task id is required")
	}
	s, err := r.store()
	if err != nil {
		return err
	}

	t, err := s.UpdateWith(id, func(cur *task.Task) error {
		if cur.Status == task.StatusCompleted {
			return fmt.Errorf("task %s already completed", id)
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

	fmt.Printf("Task %s is now %s.\n", t.ID, t.Status)
	return nil
}

func (r *TaskRunner) cancel(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("task id is required")
	}
	s, err := r.store()
	if err != nil {
		return err
	}
	if err := s.Delete(id); err != nil {
		return err
	}
	fmt.Printf("Task %s cancelled.\n", id)
	return nil
}

func (r *TaskRunner) runs(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("task id is required")
	}
	s, err := r.store()
	if err != nil {
		return err
	}

	records := s.RunsForTask(id)
	if len(records) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("%s  %-7s  %6dms  %s\n",
			rec.RanAt.Format(time.RFC3339), rec.Outcome, rec.DurationMS, rec.Detail)
	}
	return nil
}
