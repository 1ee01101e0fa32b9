package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for classification with errors.Is. Components wrap these
// with context; the session layer maps them to outcomes and never leaks raw
// exec errors past its boundary.
var (
	// ErrExecutionTimeout indicates a command did not exit before its deadline
	ErrExecutionTimeout = errors.New("command execution timed out")

	// ErrProcessSpawn indicates the target binary could not be started
	ErrProcessSpawn = errors.New("failed to spawn process")

	// ErrNoInterface indicates no usable wireless device was found
	ErrNoInterface = errors.New("no valid wireless interfaces found")

	// ErrAssociationTimeout indicates no terminal marker appeared in time
	ErrAssociationTimeout = errors.New("association timed out")

	// ErrSupplicantExited indicates wpa_supplicant died with no terminal marker
	ErrSupplicantExited = errors.New("wpa_supplicant exited unexpectedly")
)

// MacAssignmentError indicates the driver rejected a MAC address change
type MacAssignmentError struct {
	Device string
	MAC    string
	Output string
}

func (e *MacAssignmentError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("failed to set MAC %s on %s: %s", e.MAC, e.Device, e.Output)
	}
	return fmt.Sprintf("failed to set MAC %s on %s", e.MAC, e.Device)
}

// AuthFailureError indicates the network rejected our credentials. Detected
// from explicit markers, so it is never retried with the same secret.
type AuthFailureError struct {
	SSID   string
	Marker string
}

func (e *AuthFailureError) Error() string {
	return fmt.Sprintf("authentication failed for network %q (marker: %s)", e.SSID, e.Marker)
}

// IsAuthFailure reports whether err classifies as a credentials rejection
func IsAuthFailure(err error) bool {
	var authErr *AuthFailureError
	return errors.As(err, &authErr)
}

// LeaseTimeoutError indicates DHCP did not produce an address in time.
// Distinct from association failures: the session reports CONN_FAILURE,
// never AUTH_FAILURE, for a lease problem.
type LeaseTimeoutError struct {
	Device  string
	Timeout time.Duration
}

func (e *LeaseTimeoutError) Error() string {
	return fmt.Sprintf("no DHCP lease on %s within %s", e.Device, e.Timeout)
}
