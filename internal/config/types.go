package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the on-disk configuration (YAML or JSON, strict keys).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Auth     AuthConfig     `json:"auth"`
	Queue    QueueConfig    `json:"queue"`
	Realtime RealtimeConfig `json:"realtime"`
	HTTP     HTTPConfig     `json:"http"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console *bool  `json:"console,omitempty"`
	File    struct {
		Enabled bool   `json:"enabled,omitempty"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

func (c LoggingConfig) ConsoleEnabled() bool {
	if c.Console == nil {
		return true
	}
	return *c.Console
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type AuthConfig struct {
	// JWTSecret verifies bearer tokens presented over HTTP and at the
	// websocket handshake. Token issuance lives in the auth service, not here.
	JWTSecret string `json:"jwt_secret"`
}

// QueueConfig controls the delayed execution queue.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - poll_interval: "250ms"
//   - lease_timeout: "30s"
//   - batch_size: 16
//   - retry_max: 3
//   - retry_base: "500ms"
//   - retry_max_delay: "15s"
//   - reclaim_every: "15s"
//   - dead_retention: "72h"
type QueueConfig struct {
	Workers       int    `json:"workers,omitempty"`
	PollInterval  string `json:"poll_interval,omitempty"`
	LeaseTimeout  string `json:"lease_timeout,omitempty"`
	BatchSize     int    `json:"batch_size,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	ReclaimEvery  string `json:"reclaim_every,omitempty"`
	DeadRetention string `json:"dead_retention,omitempty"`
}

// RealtimeConfig controls the websocket fan-out layer.
type RealtimeConfig struct {
	// SendBuffer is the per-connection outbound queue; a connection that
	// falls this many events behind starts dropping.
	SendBuffer int `json:"send_buffer,omitempty"`
	// MsgRatePerSec limits inbound client messages per connection.
	MsgRatePerSec int      `json:"msg_rate_per_sec,omitempty"`
	AllowOrigins  []string `json:"allow_origins,omitempty"`
}

type HTTPConfig struct {
	Addr string `json:"addr,omitempty"`
}

// Validate checks everything that would otherwise fail at service start.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret is required")
	}
	for _, f := range []struct {
		path string
		raw  string
	}{
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"queue.poll_interval", c.Queue.PollInterval},
		{"queue.lease_timeout", c.Queue.LeaseTimeout},
		{"queue.retry_base", c.Queue.RetryBase},
		{"queue.retry_max_delay", c.Queue.RetryMaxDelay},
		{"queue.reclaim_every", c.Queue.ReclaimEvery},
		{"queue.dead_retention", c.Queue.DeadRetention},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Queue.Workers < 0 {
		return fmt.Errorf("queue.workers must be >= 0")
	}
	return nil
}

// Duration reads a duration field that Validate has already vetted.
func Duration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}
