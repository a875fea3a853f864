package models

import (
	"time"

	"github.com/google/uuid"
)

// Session status values. A session moves active → completed exactly once.
const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

// Call dispositions assigned at end-of-call.
const (
	DispositionBooked = "Booked"
	DispositionLead   = "Lead"
	DispositionSpam   = "Spam"
)

// ValidDisposition reports whether d is one of the terminal call
// classifications.
func ValidDisposition(d string) bool {
	return d == DispositionBooked || d == DispositionLead || d == DispositionSpam
}

// SessionScope carries the optional tenancy tags attached to a session at
// creation. All-nil scope means global.
type SessionScope struct {
	TenantID   *string `json:"tenant_id"`
	OrgID      *string `json:"org_id"`
	LocationID *string `json:"location_id"`
	CampaignID *string `json:"campaign_id"`
}

// Session is one logical call instance with its own event log and
// subscribers.
type Session struct {
	ID          uuid.UUID  `json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	Status      string     `json:"status"`
	TenantID    *string    `json:"tenant_id"`
	OrgID       *string    `json:"org_id"`
	LocationID  *string    `json:"location_id"`
	CampaignID  *string    `json:"campaign_id"`
	EndedAt     *time.Time `json:"ended_at"`
	Summary     *string    `json:"summary"`
	Disposition *string    `json:"disposition"`
}

// Active reports whether the session still accepts appends and connections.
func (s *Session) Active() bool {
	return s.Status == SessionStatusActive
}

// Event is one stored row of a session's event log. ServerSeq is the
// canonical total order within the session: dense, monotonic, starting at 1.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	SessionID uuid.UUID      `json:"session_id"`
	EventID   uuid.UUID      `json:"event_id"`
	ServerSeq int64          `json:"server_seq"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}
