package errors

import "fmt"

// StatusError is a failure reported by the collection backend with a
// status code, either synchronously by a transport or in an error response.
type StatusError struct {
	StatusCode int
	Type       string
	Title      string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("status %d (%s): %s", e.StatusCode, e.Type, e.Title)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Title)
}

// TimeoutError indicates a dispatch did not complete in time.
type TimeoutError struct {
	Operation string
	Duration  string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}
