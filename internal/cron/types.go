package cron

import (
	"time"

	"github.com/google/uuid"
)

const (
	KindCron  = "cron"
	KindEvery = "every"

	ActionMonitor = "monitor"
	ActionDigest  = "digest"
)

type Schedule struct {
	Kind  string        `json:"kind"`            // "cron" or "every"
	Expr  string        `json:"expr,omitempty"`  // 6-field cron expression for KindCron
	Every time.Duration `json:"every,omitempty"` // period for KindEvery
}

type Payload struct {
	Action  string `json:"action"`
	Persona string `json:"persona,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

type JobState struct {
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	LastStatus string    `json:"lastStatus,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	Runs       int       `json:"runs"`
}

type Job struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Enabled  bool     `json:"enabled"`
	Schedule Schedule `json:"schedule"`
	Payload  Payload  `json:"payload"`
	State    JobState `json:"state"`
}

func NewJob(name string, schedule Schedule, payload Payload) Job {
	return Job{
		ID:       uuid.NewString(),
		Name:     name,
		Enabled:  true,
		Schedule: schedule,
		Payload:  payload,
	}
}
