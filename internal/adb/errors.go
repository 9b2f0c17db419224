// File: internal/adb/errors.go
package adb

import (
	"errors"
	"fmt"
	"strings"
)

// DeviceError wraps a failed interaction with the device. Transient errors
// (a flaky dump, a busy shell) are retried by the automation loop's device
// error policy; fatal ones (device gone) terminate the run.
type DeviceError struct {
	Op     string // The adb operation that failed, e.g. "dispatch" or "capture".
	Detail string // Captured stderr or a short description.
	Fatal  bool
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("adb %s failed: %s", e.Op, e.Detail)
	}
	return fmt.Sprintf("adb %s failed: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IsFatalDeviceError reports whether err is a device error the loop cannot
// recover from by retrying.
func IsFatalDeviceError(err error) bool {
	var derr *DeviceError
	return errors.As(err, &derr) && derr.Fatal
}

// fatalMarkers are stderr fragments that indicate the device is gone rather
// than momentarily unresponsive.
var fatalMarkers = []string{
	"device offline",
	"device not found",
	"no devices/emulators found",
	"device unauthorized",
}

func classify(op, detail string, err error) *DeviceError {
	derr := &DeviceError{Op: op, Detail: detail, Err: err}
	lower := strings.ToLower(detail)
	for _, marker := range fatalMarkers {
		if strings.Contains(lower, marker) {
			derr.Fatal = true
			break
		}
	}
	return derr
}
