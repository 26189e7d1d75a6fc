package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusPending TicketStatus = "pending"
	TicketStatusSolved  TicketStatus = "solved"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	return s == TicketStatusPending || s == TicketStatusSolved
}

// Toggled returns the opposite status.
func (s TicketStatus) Toggled() TicketStatus {
	if s == TicketStatusSolved {
		return TicketStatusPending
	}
	return TicketStatusSolved
}

// Subject and body bounds, counted in characters.
const (
	MaxSubjectLength = 100
	MaxBodyLength    = 1000
)

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID        string
	OwnerID   string
	Subject   string
	Status    TicketStatus
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AcceptsMessagesFrom reports whether a sender may append to the thread.
// Solved tickets only take staff messages until reopened by a toggle.
func (t *Ticket) AcceptsMessagesFrom(isStaff bool) bool {
	return isStaff || t.Status != TicketStatusSolved
}
