package wearable

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Code identifies a specific connection-subsystem failure. Codes are stable
// strings: the presentation layer keys localization off them, and Session
// records them as the demotion/failure reason.
type Code string

const (
	CodeAlreadyScanning     Code = "already_scanning"
	CodeAlreadyInProgress   Code = "already_in_progress"
	CodeConnectTimeout      Code = "connect_timeout"
	CodeVerificationTimeout Code = "verification_timeout"
	CodeOperationUnavailable Code = "operation_unavailable"
	CodeStartupDegraded     Code = "startup_degraded"
	CodeDeviceNotPaired     Code = "device_not_paired"
	CodeRadioDisabled       Code = "radio_disabled"
	CodeDataStale           Code = "data_stale"
	CodeLinkDown            Code = "link_down"
)

// Error is the subsystem's error taxonomy. Raw vendor errors are converted
// into Error values at the capability-adapter boundary and never cross into
// the orchestrator or the presentation layer.
type Error struct {
	Code Code
	Msg  string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is allows errors.Is to compare Error values by Code
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Predefined sentinel errors, one per taxonomy code
var (
	ErrAlreadyScanning      = &Error{Code: CodeAlreadyScanning}
	ErrAlreadyInProgress    = &Error{Code: CodeAlreadyInProgress}
	ErrConnectTimeout       = &Error{Code: CodeConnectTimeout}
	ErrVerificationTimeout  = &Error{Code: CodeVerificationTimeout}
	ErrOperationUnavailable = &Error{Code: CodeOperationUnavailable}
	ErrStartupDegraded      = &Error{Code: CodeStartupDegraded}
	ErrDeviceNotPaired      = &Error{Code: CodeDeviceNotPaired}
	ErrRadioDisabled        = &Error{Code: CodeRadioDisabled}
	ErrDataStale            = &Error{Code: CodeDataStale}
	ErrLinkDown             = &Error{Code: CodeLinkDown}
)

// NewError builds a taxonomy error with additional context
func NewError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code from err, or "" if err carries none.
func CodeOf(err error) Code {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Code
	}
	return ""
}

// NormalizeError maps known transport error strings to taxonomy errors.
// It ensures consistent handling even if the vendor SDK changes messages
// slightly. Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	// Context cancellation is control flow, not a device failure
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "not paired"), containsIgnoreCase(msg, "not bonded"):
		return fmt.Errorf("%w: %v", ErrDeviceNotPaired, err)
	case containsIgnoreCase(msg, "radio off"), containsIgnoreCase(msg, "adapter disabled"),
		containsIgnoreCase(msg, "bluetooth disabled"):
		return fmt.Errorf("%w: %v", ErrRadioDisabled, err)
	case containsIgnoreCase(msg, "timed out"), containsIgnoreCase(msg, "deadline exceeded"):
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
