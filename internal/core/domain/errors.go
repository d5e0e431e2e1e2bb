package domain

import "fmt"

// NotReadyError signals that a platform cannot be set up yet and should be
// retried later with backoff. It is a recoverable condition, not a crash.
type NotReadyError struct {
	Reason string
}

func (e *NotReadyError) Error() string {
	if e.Reason == "" {
		return "platform not ready yet"
	}
	return fmt.Sprintf("platform not ready yet: %s", e.Reason)
}

func NotReady(format string, args ...any) error {
	return &NotReadyError{Reason: fmt.Sprintf(format, args...)}
}
