package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError marks a network-class failure that is safe to retry:
// timeouts, connection resets, 5xx responses.
type TransientError struct {
	Stage string
	Err   error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("stage %q: transient: %v", e.Stage, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ApplicationError means the worker responded but rejected the request.
// Application errors are never retried.
type ApplicationError struct {
	Stage      string
	StatusCode int
	Message    string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("stage %q: worker rejected request (status %d): %s", e.Stage, e.StatusCode, e.Message)
}

// ConfigError means the capability probe failed: the worker does not expose
// the expected validation endpoints. Fatal for the client until reconfigured.
type ConfigError struct {
	Stage  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("stage %q: worker misconfigured: %s", e.Stage, e.Reason)
}

// IsTransient reports whether err is a retryable network-class failure.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
