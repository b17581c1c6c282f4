package models

import "time"

// Lease grants one worker exclusive ownership of an archive's job until
// ExpiresAt.
type Lease struct {
	ArchiveID string
	Owner     string
	ExpiresAt time.Time
}
