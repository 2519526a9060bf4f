package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event is owned by the external event-management service; the gatekeeper
// only reads it.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID                string    `bun:"id,pk"`
	Name              string    `bun:"name,notnull"`
	NonceValidSeconds int       `bun:"nonce_valid_seconds"`
	CreatedAt         time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// NonceValidity returns the event's signing window, falling back to the
// given default when the event carries none.
func (e *Event) NonceValidity(fallback time.Duration) time.Duration {
	if e.NonceValidSeconds <= 0 {
		return fallback
	}
	return time.Duration(e.NonceValidSeconds) * time.Second
}
