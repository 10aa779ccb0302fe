// Package errkind defines the sentinel error kinds shared by the
// failure detector, the prepared-op log, and the prepared-ops table, so
// callers can classify a failure with errors.Is instead of string
// matching.
package errkind

import (
	"errors"
	"fmt"
)

var (
	// Io covers socket, send, receive, and bind failures. Logged and
	// recovered from, except at startup where it is Fatal instead.
	Io = errors.New("io error")

	// Malformed covers a datagram or log record with the wrong length,
	// an unknown type, or an unknown nonce. Logged at warning level and
	// dropped; never kills the caller's loop.
	Malformed = errors.New("malformed input")

	// Checksum covers a log record whose CRC32C does not match its
	// header. Reported to the caller; the record is treated as absent.
	Checksum = errors.New("checksum mismatch")

	// Duplicate covers a prepared-op insertion conflict outside
	// recovery. Surfaced to the caller as a hard error.
	Duplicate = errors.New("duplicate prepared operation")

	// Fatal covers initialization failures (socket creation, bind). The
	// failure detector refuses to start.
	Fatal = errors.New("fatal initialization error")
)

// WrapFatal wraps err as a Fatal error with a descriptive prefix, for
// initialization failures that must propagate to process start-up.
func WrapFatal(context string, err error) error {
	return fmt.Errorf("%s: %w: %w", context, Fatal, err)
}
