package app

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// newEntityID returns a random id for negotiations and notifications.
func newEntityID() string {
	return uuid.NewString()
}

// newLogID returns a time-ordered id for log entries (messages, counter-offers, tasks).
func newLogID() string {
	return ulid.Make().String()
}
