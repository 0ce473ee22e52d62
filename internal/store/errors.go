package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrServiceNotFound    = errors.New("service not found")
	ErrServiceUnavailable = errors.New("service not available today")
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrCounterNotFound    = errors.New("counter not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrNoTicket           = errors.New("no ticket available")
	ErrNoEligibleTicket   = errors.New("no eligible ticket for this counter")
	ErrInvalidState       = errors.New("invalid ticket state")
	ErrWrongCounter       = errors.New("ticket assigned to different counter")
	ErrCounterDisabled    = errors.New("counter disabled for today")
	ErrSessionInvalid     = errors.New("session invalid")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrOutsideWorkHours   = errors.New("outside work hours")
	ErrWindowMismatch     = errors.New("feedback window mismatch")
	ErrDuplicateUsername  = errors.New("username already taken")
)

// ValidationError names the fields a caller must fix. It wraps nothing; the
// httpapi layer matches it with errors.As and reports the fields verbatim.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Fields, ", "))
}

func Invalid(fields ...string) error {
	return &ValidationError{Fields: fields}
}
