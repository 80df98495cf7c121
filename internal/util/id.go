package util

import "github.com/google/uuid"

// NewID returns a random UUID string used for request and visitor ids.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether raw is a UUID issued by NewID.
func ValidID(raw string) bool {
	_, err := uuid.Parse(raw)
	return err == nil && len(raw) == 36
}
