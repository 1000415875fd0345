package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"

	"github.com/stellarlinkco/factubot/internal/commands"
)

// Schedule kinds.
const (
	KindCron  = "cron"
	KindEvery = "every"
	KindAt    = "at"
)

// Last run statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

var parser = rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

// Schedule says when a job runs: a six-field cron expression (seconds
// first), a fixed interval, or once at a unix time in milliseconds.
type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

func (s Schedule) Validate() error {
	switch s.Kind {
	case KindCron:
		if _, err := parser.Parse(s.Expr); err != nil {
			return fmt.Errorf("cron expression %q: %w", s.Expr, err)
		}
	case KindEvery:
		if s.EveryMs < 1000 {
			return fmt.Errorf("interval must be at least one second")
		}
	case KindAt:
		if s.AtMs <= 0 {
			return fmt.Errorf("run time is required")
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

func (s Schedule) String() string {
	switch s.Kind {
	case KindCron:
		return s.Expr
	case KindEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case KindAt:
		return "at " + time.UnixMilli(s.AtMs).Format(time.RFC3339)
	}
	return s.Kind
}

// Payload is what a job does: run a vocabulary command or ask the agent a
// question, then post the result to Channel/To.
type Payload struct {
	Command  string   `json:"command,omitempty"`
	Args     []string `json:"args,omitempty"`
	Question string   `json:"question,omitempty"`
	Channel  string   `json:"channel,omitempty"`
	To       string   `json:"to,omitempty"`
}

func (p Payload) Validate() error {
	hasCommand := strings.TrimSpace(p.Command) != ""
	hasQuestion := strings.TrimSpace(p.Question) != ""
	switch {
	case hasCommand && hasQuestion:
		return errors.New("payload has both a command and a question")
	case !hasCommand && !hasQuestion:
		return errors.New("payload needs a command or a question")
	case hasCommand && !commands.Known(p.Command):
		return fmt.Errorf("%w: %s", commands.ErrUnknownCommand, p.Command)
	}
	if (p.Channel == "") != (p.To == "") {
		return errors.New("payload channel and recipient go together")
	}
	return nil
}

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	CreatedAtMs    int64    `json:"createdAtMs"`
}

// NewCronJob returns an enabled job with a fresh id. One-shot jobs are
// deleted after they run.
func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:             uuid.NewString(),
		Name:           name,
		Enabled:        true,
		Schedule:       schedule,
		Payload:        payload,
		DeleteAfterRun: schedule.Kind == KindAt,
		CreatedAtMs:    time.Now().UnixMilli(),
	}
}
