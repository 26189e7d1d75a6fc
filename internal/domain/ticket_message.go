package domain

import "time"

// TicketMessage captures communications in a ticket thread.
// Messages are immutable once stored.
type TicketMessage struct {
	ID            string
	Seq           int64
	TicketID      string
	SenderID      string
	Body          string
	IsStaff       bool
	AttachmentURL *string
	CreatedAt     time.Time
}
