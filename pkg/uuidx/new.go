package uuidx

import "github.com/google/uuid"

// New returns a version 7 UUID. V7 ids are time-ordered, which keeps message
// and task ids roughly sortable by creation time. Panics when the random
// source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns a version 7 UUID rendered as a string.
func NewString() string {
	return New().String()
}
