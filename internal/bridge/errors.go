package bridge

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes bridge errors.
type ErrorCode string

const (
	// ErrCodeUnroutable indicates no handler exists for a message type.
	ErrCodeUnroutable ErrorCode = "UNROUTABLE_COMMAND"

	// ErrCodeCommandFailure indicates a handler failed or its future rejected.
	ErrCodeCommandFailure ErrorCode = "COMMAND_FAILURE"

	// ErrCodeReleaseFailure indicates a resource's release hook failed
	// during cleanup.
	ErrCodeReleaseFailure ErrorCode = "RELEASE_FAILURE"

	// ErrCodeNoSuchContext indicates a command addressed a handle with no
	// named context.
	ErrCodeNoSuchContext ErrorCode = "NO_SUCH_CONTEXT"

	// ErrCodeContextCleanedUp indicates a resource was acquired through a
	// context that was already cleaned up.
	ErrCodeContextCleanedUp ErrorCode = "CONTEXT_CLEANED_UP"
)

// Error is a bridge error with the message type and handle it concerns.
type Error struct {
	Code    ErrorCode
	Message string
	// Type is the message type being processed, if any.
	Type string
	// Handle is the view handle, if any.
	Handle string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Type != "" {
		msg += fmt.Sprintf(" (type=%s", e.Type)
		if e.Handle != "" {
			msg += fmt.Sprintf(", handle=%s", e.Handle)
		}
		msg += ")"
	} else if e.Handle != "" {
		msg += fmt.Sprintf(" (handle=%s)", e.Handle)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// IsUnroutable returns true if err is an unroutable command error.
func IsUnroutable(err error) bool { return hasCode(err, ErrCodeUnroutable) }

// IsCommandFailure returns true if err is a command failure.
func IsCommandFailure(err error) bool { return hasCode(err, ErrCodeCommandFailure) }

// IsReleaseFailure returns true if err is a release failure.
func IsReleaseFailure(err error) bool { return hasCode(err, ErrCodeReleaseFailure) }

// IsNoSuchContext returns true if err reports a missing named context.
func IsNoSuchContext(err error) bool { return hasCode(err, ErrCodeNoSuchContext) }

// IsContextCleanedUp returns true if err reports use of a cleaned up context.
func IsContextCleanedUp(err error) bool { return hasCode(err, ErrCodeContextCleanedUp) }
