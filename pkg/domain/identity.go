// Package domain provides the shared building blocks of the OmniRelay core:
// identifiers, platform enums, and the typed error taxonomy every layer
// speaks.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

// EntityID is a typed identifier. All entities use string IDs for portability.
type EntityID string

// NewID generates a random identifier.
func NewID() EntityID {
	return EntityID(uuid.NewString())
}

// String implements fmt.Stringer.
func (id EntityID) String() string { return string(id) }

// IsZero returns true if the ID is empty.
func (id EntityID) IsZero() bool { return id == "" }

// ---------------------------------------------------------------------------
// Clock
// ---------------------------------------------------------------------------

// Now returns the current UTC time, the only clock domain objects use.
func Now() time.Time { return time.Now().UTC() }
