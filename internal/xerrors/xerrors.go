// Package xerrors defines the error taxonomy shared by every component of
// the client, per the error handling design: malformed wire data, I/O
// failure, protocol violations, hash mismatches, tracker failures, and the
// handful of terminal conditions the scheduler can hit.
package xerrors

import "github.com/pkg/errors"

// Sentinel errors. Wrap with errors.Wrap/Wrapf at package boundaries so the
// CLI can print full context while callers can still use errors.Is against
// these.
var (
	ErrMalformedInput    = errors.New("malformed input")
	ErrIOFailure         = errors.New("io failure")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrHashMismatch      = errors.New("piece hash mismatch")
	ErrTrackerError      = errors.New("tracker error")
	ErrNoPeers           = errors.New("no peers available")
	ErrTimeout           = errors.New("operation timed out")
	ErrCancelled         = errors.New("operation cancelled")
	ErrUnsupported       = errors.New("peer does not support required extension")
)

// Wrap attaches context to a sentinel without losing errors.Is matching.
func Wrap(sentinel error, context string) error {
	return errors.Wrap(sentinel, context)
}

// Wrapf is Wrap with formatting.
func Wrapf(sentinel error, format string, args ...interface{}) error {
	return errors.Wrapf(sentinel, format, args...)
}
