package domain

import (
	"fmt"
	"time"
)

// Notification alerts one actor about activity on a ticket.
type Notification struct {
	ID        string
	ActorID   string
	TicketID  string
	Text      string
	IsRead    bool
	CreatedAt time.Time
}

func TicketCreatedText(subject string) string {
	return fmt.Sprintf("New support ticket: \"%s\"", subject)
}

func CustomerReplyText(subject string) string {
	return fmt.Sprintf("New reply on: \"%s\"", subject)
}

func StaffReplyText(subject string) string {
	return fmt.Sprintf("Admin replied to: \"%s\"", subject)
}
