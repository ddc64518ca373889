// Package rerr defines the recorder's error kinds (spec.md §7). Call sites
// wrap a sentinel with %w so errors.Is still matches the kind while the
// message carries call-specific detail, mirroring the
// core.ErrPluginNotFound wrapping idiom.
package rerr

import "errors"

var (
	// ErrConfiguration marks an invalid or inconsistent configuration
	// value, reported at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrInitialization marks a failure to open a file or create a
	// transport entity.
	ErrInitialization = errors.New("initialization error")

	// ErrInconsistency marks a dropped record caused by an internal
	// invariant violation (e.g. a sample without a payload owner).
	ErrInconsistency = errors.New("inconsistency error")

	// ErrCapacity marks a PendingStore or output file at its configured
	// limit.
	ErrCapacity = errors.New("capacity error")

	// ErrCommand marks a command illegal in the current state or
	// unparseable.
	ErrCommand = errors.New("command error")
)
