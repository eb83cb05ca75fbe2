package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of an editing session
type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusExpired SessionStatus = "expired"
	SessionStatusClosed  SessionStatus = "closed"
)

// EditingSession is a time-bounded unit of user editing activity.
// Every job belongs to exactly one session; once a session leaves
// active status no further job work is attempted for it.
type EditingSession struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id,omitempty"`
	Status         SessionStatus `json:"status"`
	VideoObjectKey string        `json:"video_object_key,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
}

// NewEditingSession creates an active session that expires after ttl.
// Invariant: expires_at > created_at, so ttl must be positive; callers
// with a non-positive ttl get the minimum of one minute.
func NewEditingSession(userID string, ttl time.Duration) *EditingSession {
	if ttl <= 0 {
		ttl = time.Minute
	}
	now := time.Now().UTC()
	return &EditingSession{
		ID:             uuid.New().String(),
		UserID:         userID,
		Status:         SessionStatusActive,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastActivityAt: now,
	}
}

// IsExpired reports whether the session's validity window has passed at now.
// A session can be past its window while still recorded as active; the
// processor and the sweep both treat that as expired.
func (s *EditingSession) IsExpired(now time.Time) bool {
	return s.Status != SessionStatusActive || !s.ExpiresAt.After(now)
}
