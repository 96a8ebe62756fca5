package config

import "time"

// Config is the top-level structure parsed from orchestrator YAML.
type Config struct {
	Orchestrator Orchestrator `yaml:"orchestrator"`
}

// Orchestrator defines the full orchestrator: stages, defaults, persistence,
// and the API server.
type Orchestrator struct {
	Name        string      `yaml:"name"`
	FailFast    bool        `yaml:"fail_fast"`
	Defaults    Defaults    `yaml:"defaults"`
	Stages      []Stage     `yaml:"stages"`
	Checkpoints Checkpoints `yaml:"checkpoints"`
	Server      Server      `yaml:"server"`
	Database    Database    `yaml:"database"`
}

// Defaults holds values applied to stages that don't specify their own.
type Defaults struct {
	Mode         string  `yaml:"mode"`          // "selective" or "comprehensive"
	Timeout      string  `yaml:"timeout"`       // per-call HTTP timeout, e.g. "30s"
	StageTimeout string  `yaml:"stage_timeout"` // whole-stage ceiling incl. retries; "" = none
	Retry        Retry   `yaml:"retry"`
	Breaker      Breaker `yaml:"breaker"`
}

// Retry bounds the transient-error retry loop.
type Retry struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseBackoff string `yaml:"base_backoff"`
	MaxBackoff  string `yaml:"max_backoff"`
}

// Breaker holds circuit-breaker thresholds.
type Breaker struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	RecoveryTimeout  string `yaml:"recovery_timeout"`
	SuccessThreshold int    `yaml:"success_threshold"`
}

// Stage defines a single pipeline stage backed by one remote worker.
type Stage struct {
	Name       string `yaml:"name"`
	WorkerURL  string `yaml:"worker_url"`
	Mode       string `yaml:"mode"`       // empty = derived from stage name
	Checkpoint string `yaml:"checkpoint"` // empty = derived from stage name
	Timeout    string `yaml:"timeout"`
}

// Checkpoints configures checkpoint persistence and sequence budgets.
type Checkpoints struct {
	Storage       string   `yaml:"storage"` // "memory", "file", or "redis"
	Dir           string   `yaml:"dir"`     // file storage root
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
	Sequence      Sequence `yaml:"sequence"`
}

// Sequence configures the pre/mid/post checkpoint sequence.
type Sequence struct {
	MaxTotalTime      string `yaml:"max_total_time"` // "" = no budget
	ContinueOnFailure *bool  `yaml:"continue_on_failure"`
}

// Server configures the HTTP API.
type Server struct {
	Port int `yaml:"port"`
}

// Database configures the optional Postgres event log.
type Database struct {
	DSN string `yaml:"dsn"`
}

// duration parses s, returning fallback when s is empty or invalid.
// Validate reports invalid durations; runtime use falls back quietly.
func duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// CallTimeout returns the per-call timeout for a stage.
func (s Stage) CallTimeout() time.Duration {
	return duration(s.Timeout, 30*time.Second)
}

// BaseBackoffDuration returns the parsed base backoff.
func (r Retry) BaseBackoffDuration() time.Duration {
	return duration(r.BaseBackoff, 100*time.Millisecond)
}

// MaxBackoffDuration returns the parsed backoff cap.
func (r Retry) MaxBackoffDuration() time.Duration {
	return duration(r.MaxBackoff, 5*time.Second)
}

// RecoveryTimeoutDuration returns the parsed breaker recovery timeout.
func (b Breaker) RecoveryTimeoutDuration() time.Duration {
	return duration(b.RecoveryTimeout, 30*time.Second)
}

// StageTimeoutDuration returns the whole-stage ceiling applied around each
// stage call, retries included. 0 means none; the per-call HTTP timeout
// still applies either way.
func (d Defaults) StageTimeoutDuration() time.Duration {
	return duration(d.StageTimeout, 0)
}

// MaxTotalTimeDuration returns the sequence time budget, 0 meaning none.
func (q Sequence) MaxTotalTimeDuration() time.Duration {
	return duration(q.MaxTotalTime, 0)
}

// ContinueOnFail reports whether a sequence keeps going past a failed
// checkpoint. Defaults to true, matching the engine's fail_fast=false.
func (q Sequence) ContinueOnFail() bool {
	if q.ContinueOnFailure == nil {
		return true
	}
	return *q.ContinueOnFailure
}

// StageNames returns the configured stage sequence in order.
func (o Orchestrator) StageNames() []string {
	names := make([]string, len(o.Stages))
	for i, s := range o.Stages {
		names[i] = s.Name
	}
	return names
}
