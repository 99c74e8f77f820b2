package model

import (
	"time"

	"github.com/google/uuid"
)

// ReconnectionContext is a short-lived record that lets a client resume
// session state within a bounded window.
type ReconnectionContext struct {
	Token                string
	UserID               uuid.UUID
	OriginalConnectionID uuid.UUID
	Snapshot             Snapshot
	CreatedAt            time.Time
	Attempts             int
}

func (r ReconnectionContext) Expired(window time.Duration) bool {
	return time.Since(r.CreatedAt) > window
}
