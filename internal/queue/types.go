package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrStopped   = errors.New("queue stopped")
	ErrNoHandler = errors.New("no handler registered for job kind")
)

// Config controls the queue service.
type Config struct {
	Workers       int
	PollInterval  time.Duration
	LeaseTimeout  time.Duration
	BatchSize     int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
	ReclaimEvery  time.Duration
	DeadRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	if c.ReclaimEvery <= 0 {
		c.ReclaimEvery = 15 * time.Second
	}
	if c.DeadRetention <= 0 {
		c.DeadRetention = 72 * time.Hour
	}
	return c
}

// Job is one delivery of a scheduled execution to a handler. Attempt is
// 1-based and grows across redeliveries of the same key.
type Job struct {
	Key     string
	Kind    string
	Payload []byte
	Attempt int
}

// Handler executes one job delivery. Returning an error requeues the job
// (with backoff) until attempts run out.
type Handler func(ctx context.Context, job Job) error

// JobEvent is published on the event bus for job lifecycle transitions.
type JobEvent struct {
	Key     string `json:"key"`
	Kind    string `json:"kind"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

// Snapshot is a lightweight diagnostics view.
type Snapshot struct {
	Workers    int
	Dispatched uint64
	Failed     uint64
	Reclaimed  uint64
}
