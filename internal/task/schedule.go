package task

import (
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser is a standard 5-field cron expression parser (minute hour dom
// month dow), evaluated in the local timezone.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextDue computes the next fire time for a schedule relative to from.
// Recurring schedules always yield a time strictly after from.
func NextDue(scheduleType ScheduleType, value string, from time.Time) (time.Time, error) {
	switch scheduleType {
	case ScheduleInterval:
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse interval %q: %w", value, err)
		}
		if ms <= 0 {
			return time.Time{}, fmt.Errorf("interval must be positive milliseconds, got %d", ms)
		}
		return from.Add(time.Duration(ms) * time.Millisecond), nil

	case ScheduleCron:
		sched, err := cronParser.Parse(value)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", value, err)
		}
		return sched.Next(from), nil

	case ScheduleOnce:
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse once timestamp %q: %w", value, err)
		}
		return t, nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule type: %s", scheduleType)
	}
}

// Advance moves the task past a run that just happened at ranAt. One-shot
// tasks complete; recurring ones get a fresh strictly-future due time.
func Advance(t *Task, ranAt time.Time) error {
	if t.ScheduleType == ScheduleOnce {
		t.Status = StatusCompleted
		t.NextDue = nil
		return nil
	}

	next, err := NextDue(t.ScheduleType, t.ScheduleValue, ranAt)
	if err != nil {
		return err
	}
	t.NextDue = &next
	return nil
}
