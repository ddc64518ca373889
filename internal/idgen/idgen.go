// Package idgen generates identifiers used when a file base name or run
// label is not explicitly configured.
package idgen

import "github.com/google/uuid"

// NewRunID returns a fresh identifier for one recorder run (one
// STOPPED->RUNNING/PAUSED transition through the next close).
func NewRunID() string {
	return uuid.NewString()
}
