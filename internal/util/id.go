package util

import "github.com/google/uuid"

// NewID returns a random UUID string for record identifiers.
func NewID() string {
	return uuid.NewString()
}
