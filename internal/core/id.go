package core

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a UUIDv7 so event, pack and section ids sort by creation time.
func NewID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// ParseID normalises an externally supplied id.
func ParseID(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id.String(), nil
}
