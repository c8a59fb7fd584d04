package domain

import "github.com/google/uuid"

// NewID mints a fresh opaque 128-bit UUID for any node kind (spec §3:
// "All node identifiers are opaque 128-bit UUIDs").
func NewID() string {
	return uuid.NewString()
}
