package utils

import (
	"github.com/google/uuid"
)

// GenerateID returns a new unique identifier string.
// Version 7 ids sort by creation time, which keeps ledger scans index friendly.
func GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
