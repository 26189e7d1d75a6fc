package domain

import "time"

// Actor is the resolved identity behind a request.
// IsStaff is copied from the session and only changes on re-authentication.
type Actor struct {
	ID        string
	SessionID string
	IsStaff   bool
}

// Session records one authentication and its cached staff capability.
type Session struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	IsStaff   bool      `json:"is_staff"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Actor converts the session into the request actor.
func (s *Session) Actor() Actor {
	return Actor{ID: s.ActorID, SessionID: s.ID, IsStaff: s.IsStaff}
}
