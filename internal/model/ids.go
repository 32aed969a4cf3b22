package model

import "github.com/google/uuid"

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}
