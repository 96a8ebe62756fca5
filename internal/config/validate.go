package config

import (
	"fmt"
	"net/url"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedModes is the set of valid validation modes.
var recognizedModes = map[string]bool{
	"selective":     true,
	"comprehensive": true,
}

// recognizedCheckpoints is the set of valid checkpoint labels.
var recognizedCheckpoints = map[string]bool{
	"pre-writing":  true,
	"mid-writing":  true,
	"post-writing": true,
}

// recognizedStorage is the set of valid checkpoint storage backends.
var recognizedStorage = map[string]bool{
	"memory": true,
	"file":   true,
	"redis":  true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	o := cfg.Orchestrator

	if o.Name == "" {
		errs = append(errs, ValidationError{Field: "orchestrator.name", Message: "is required"})
	}
	if len(o.Stages) == 0 {
		errs = append(errs, ValidationError{Field: "orchestrator.stages", Message: "at least one stage is required"})
	}

	stageNames := make(map[string]bool)
	for i, s := range o.Stages {
		prefix := fmt.Sprintf("orchestrator.stages[%d]", i)

		if s.Name == "" {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: "is required"})
			continue
		}
		if stageNames[s.Name] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".name",
				Message: fmt.Sprintf("duplicate stage name %q", s.Name),
			})
		}
		stageNames[s.Name] = true

		if s.WorkerURL == "" {
			errs = append(errs, ValidationError{Field: prefix + ".worker_url", Message: "is required"})
		} else if u, err := url.Parse(s.WorkerURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".worker_url",
				Message: fmt.Sprintf("invalid URL %q", s.WorkerURL),
			})
		}

		if s.Mode != "" && !recognizedModes[s.Mode] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".mode",
				Message: fmt.Sprintf("unrecognized mode %q", s.Mode),
			})
		}
		if s.Checkpoint != "" && !recognizedCheckpoints[s.Checkpoint] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".checkpoint",
				Message: fmt.Sprintf("unrecognized checkpoint label %q", s.Checkpoint),
			})
		}
		validateDuration(prefix+".timeout", s.Timeout, &errs)
	}

	if o.Defaults.Mode != "" && !recognizedModes[o.Defaults.Mode] {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.defaults.mode",
			Message: fmt.Sprintf("unrecognized mode %q", o.Defaults.Mode),
		})
	}
	validateDuration("orchestrator.defaults.timeout", o.Defaults.Timeout, &errs)
	validateDuration("orchestrator.defaults.stage_timeout", o.Defaults.StageTimeout, &errs)
	validateDuration("orchestrator.defaults.retry.base_backoff", o.Defaults.Retry.BaseBackoff, &errs)
	validateDuration("orchestrator.defaults.retry.max_backoff", o.Defaults.Retry.MaxBackoff, &errs)
	validateDuration("orchestrator.defaults.breaker.recovery_timeout", o.Defaults.Breaker.RecoveryTimeout, &errs)

	if o.Defaults.Retry.MaxAttempts < 0 {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.defaults.retry.max_attempts",
			Message: "must not be negative",
		})
	}
	if o.Defaults.Breaker.FailureThreshold < 0 {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.defaults.breaker.failure_threshold",
			Message: "must not be negative",
		})
	}
	if o.Defaults.Breaker.SuccessThreshold < 0 {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.defaults.breaker.success_threshold",
			Message: "must not be negative",
		})
	}

	if !recognizedStorage[o.Checkpoints.Storage] {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.checkpoints.storage",
			Message: fmt.Sprintf("unrecognized storage backend %q", o.Checkpoints.Storage),
		})
	}
	if o.Checkpoints.Storage == "redis" && o.Checkpoints.RedisAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.checkpoints.redis_addr",
			Message: "is required for redis storage",
		})
	}
	validateDuration("orchestrator.checkpoints.sequence.max_total_time", o.Checkpoints.Sequence.MaxTotalTime, &errs)

	return errs
}

// validateDuration flags a non-empty duration string that does not parse.
func validateDuration(field string, value string, errs *[]ValidationError) {
	if value == "" {
		return
	}
	if _, err := time.ParseDuration(value); err != nil {
		*errs = append(*errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration %q", value),
		})
	}
}
