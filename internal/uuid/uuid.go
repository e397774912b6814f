// Package uuid generates and validates the patch identity used by
// PatchRecord.UUID — a version-4 UUID, independent of the PURL it's
// currently keyed under.
package uuid

import (
	"github.com/google/uuid"
)

// NewString returns a new v4 UUID string.
func NewString() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a UUID of any version.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
