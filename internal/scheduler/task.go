// Package scheduler sends messages to workers on a timetable: a cron
// expression, a fixed interval in seconds, or once at a given time. Tasks
// live in a store collection and fire through the dispatcher, so every
// run is budget checked and billed like any other call.
package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind is how a task's schedule value is read.
type Kind string

const (
	// KindCron takes a five-field cron expression, e.g. "0 9 * * 1-5".
	KindCron Kind = "cron"
	// KindInterval takes a positive number of seconds.
	KindInterval Kind = "interval"
	// KindOnce takes an RFC 3339 timestamp; a time without zone is UTC.
	KindOnce Kind = "once"
)

// Kinds lists the accepted schedule kinds.
var Kinds = []Kind{KindCron, KindInterval, KindOnce}

var (
	// ErrTaskNotFound is returned for unknown task IDs.
	ErrTaskNotFound = errors.New("scheduled task not found")

	// ErrInvalidSchedule is matched by every rejected schedule.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrRunning is returned by Start on a scheduler that already runs.
	ErrRunning = errors.New("scheduler already running")
)

// Task is one scheduled message.
type Task struct {
	ID          string    `json:"id"`
	Worker      string    `json:"worker"`
	Message     string    `json:"message"`
	Kind        Kind      `json:"schedule_type"`
	Value       string    `json:"schedule_value"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastRun     time.Time `json:"last_run,omitzero"`
}

// String renders the schedule, e.g. "interval 300s".
func (t Task) String() string {
	if t.Kind == KindInterval {
		return fmt.Sprintf("%s %ss", t.Kind, t.Value)
	}
	return fmt.Sprintf("%s %s", t.Kind, t.Value)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSchedule, fmt.Sprintf(format, args...))
}

// parseSchedule turns kind and value into a cron schedule. now rejects
// one-shot times that already passed.
func parseSchedule(kind Kind, value string, now time.Time) (cron.Schedule, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, invalid("%s schedule needs a value", kind)
	}
	switch kind {
	case KindCron:
		s, err := cron.ParseStandard(value)
		if err != nil {
			return nil, invalid("cron %q: %v", value, err)
		}
		return s, nil
	case KindInterval:
		secs, err := strconv.Atoi(value)
		if err != nil || secs <= 0 {
			return nil, invalid("interval must be a positive number of seconds, got %q", value)
		}
		return cron.Every(time.Duration(secs) * time.Second), nil
	case KindOnce:
		at, err := parseTime(value)
		if err != nil {
			return nil, invalid("once %q: want a time like 2006-01-02T15:04:05Z", value)
		}
		if !at.After(now) {
			return nil, invalid("once %s is in the past", at.Format(time.RFC3339))
		}
		return onceSchedule{at: at}, nil
	default:
		return nil, invalid("unknown schedule type %q (want cron, interval or once)", kind)
	}
}

func parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", value, time.UTC)
}

// onceSchedule fires at a single instant; afterwards Next reports the
// zero time, which cron treats as never.
type onceSchedule struct {
	at time.Time
}

func (s onceSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}
