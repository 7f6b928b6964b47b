package main

import (
	"github.com/srg/wearlink/internal/wearable"
)

// FormatUserError converts subsystem errors into messages fit for the
// terminal. Unknown errors pass through unchanged.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	switch wearable.CodeOf(err) {
	case wearable.CodeAlreadyScanning:
		return "a scan is already running - stop it first or wait for it to finish"
	case wearable.CodeAlreadyInProgress:
		return "a connection attempt is already in progress"
	case wearable.CodeConnectTimeout:
		return "the device did not respond in time"
	case wearable.CodeVerificationTimeout:
		return "the device linked up but never sent data - it is not usable"
	case wearable.CodeStartupDegraded:
		return "the bluetooth transport is missing required operations: " + err.Error()
	case wearable.CodeRadioDisabled:
		return "bluetooth is turned off - enable it and try again"
	case wearable.CodeDeviceNotPaired:
		return "the device is no longer paired - pair it again in system settings"
	case wearable.CodeOperationUnavailable:
		return "the bluetooth transport does not support this operation: " + err.Error()
	}

	return err.Error()
}
