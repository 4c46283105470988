package channels

import (
	"errors"
	"fmt"
)

// ErrUnknownDest is the cause when a destination has no configured target.
var ErrUnknownDest = errors.New("channels: unknown destination")

// SendError is returned when a message could not be delivered.
type SendError struct {
	Platform string
	Kind     Kind
	Dest     string
	Cause    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("channels: %s %s to %s failed: %v", e.Platform, e.Kind, e.Dest, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

// APIError is a rejection reported by the platform itself.
type APIError struct {
	Status      int
	Description string
	// RetryAfter is set on rate-limit rejections.
	RetryAfter float64
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Description)
}
