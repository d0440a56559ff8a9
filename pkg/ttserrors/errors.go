// Package ttserrors defines the coordinator's stable numeric error taxonomy.
package ttserrors

import (
	"errors"
	"fmt"
)

// Code is a stable numeric error code returned by every public operation.
type Code int

const (
	OK Code = iota
	Fail
	NotEnabled
	CreateSessionDuplicate
	EmptyAppIDInput
	ResourceBusy
	NoSessionFound
	NestedClaimRequest
	InvalidConfiguration
	SessionNotActive
	AppNotFound
	PolicyViolation
)

// ObjectDestroyed is out of the contiguous block; original source fixes it at 1010.
const ObjectDestroyed Code = 1010

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Fail:
		return "FAIL"
	case NotEnabled:
		return "NOT_ENABLED"
	case CreateSessionDuplicate:
		return "CREATE_SESSION_DUPLICATE"
	case EmptyAppIDInput:
		return "EMPTY_APPID_INPUT"
	case ResourceBusy:
		return "RESOURCE_BUSY"
	case NoSessionFound:
		return "NO_SESSION_FOUND"
	case NestedClaimRequest:
		return "NESTED_CLAIM_REQUEST"
	case InvalidConfiguration:
		return "INVALID_CONFIGURATION"
	case SessionNotActive:
		return "SESSION_NOT_ACTIVE"
	case AppNotFound:
		return "APP_NOT_FOUND"
	case PolicyViolation:
		return "POLICY_VIOLATION"
	case ObjectDestroyed:
		return "OBJECT_DESTROYED"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error wraps a Code so callers can use errors.As while the numeric
// code stays reachable via CodeOf for wire serialization.
type Error struct {
	Code Code
}

func (e *Error) Error() string { return e.Code.String() }

// New returns nil for OK, matching the convention that every public
// operation returns a Go error only on failure.
func New(c Code) error {
	if c == OK {
		return nil
	}
	return &Error{Code: c}
}

// CodeOf extracts the numeric Code from err, defaulting to Fail for any
// non-nil error that did not originate from this package.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Fail
}
