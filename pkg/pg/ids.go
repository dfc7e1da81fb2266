package pg

import "github.com/google/uuid"

// NewID returns a random opaque row id.
func NewID() string {
	return uuid.NewString()
}
