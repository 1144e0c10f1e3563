package llm

import "fmt"

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind string

const (
	ErrRateLimit ErrorKind = "rate_limit"
	ErrTimeout   ErrorKind = "timeout"
	ErrNetwork   ErrorKind = "network"
	ErrAuth      ErrorKind = "auth"
	ErrBadInput  ErrorKind = "bad_input"
	ErrServer    ErrorKind = "server"
	ErrUnknown   ErrorKind = "unknown"
)

// ProviderError is a typed model API failure. Rate limits, timeouts, network
// failures, and 5xx responses are retryable; auth and schema errors are not.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case ErrRateLimit, ErrTimeout, ErrNetwork, ErrServer:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is a retryable provider error.
func IsRetryable(err error) bool {
	pe, ok := err.(*ProviderError)
	return ok && pe.Retryable()
}
