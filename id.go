package comprice

import (
	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// Used for run IDs and for tool requests parsed from text, which carry no
// provider-assigned call ID.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
