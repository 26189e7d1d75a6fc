package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/support-desk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusToggled EventType = "ticket_status_toggled"
	EventTicketDeleted       EventType = "ticket_deleted"
	EventMessageAppended     EventType = "message_appended"
)

// Event represents a domain event emitted by services after a committed write.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id"`
	ActorID   string    `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType EventType, ticketID, actorID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		ActorID:   actorID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Ticket domain.Ticket `json:"ticket"`
}

// TicketStatusToggledPayload payload.
type TicketStatusToggledPayload struct {
	Ticket    domain.Ticket       `json:"ticket"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// MessageAppendedPayload carries the stored message and its parent ticket as of the append.
type MessageAppendedPayload struct {
	Message domain.TicketMessage `json:"message"`
	Ticket  domain.Ticket        `json:"ticket"`
}

// Topic names a change-feed channel.
type Topic string

// TicketTopic is signalled whenever a ticket or its thread changes.
func TicketTopic(ticketID string) Topic {
	return Topic("ticket:" + ticketID)
}

// TicketListTopic is signalled whenever any ticket is created, changed or deleted.
func TicketListTopic() Topic {
	return Topic("tickets")
}

// NotificationsTopic is signalled whenever an actor's notifications change.
func NotificationsTopic(actorID string) Topic {
	return Topic("notifications:" + actorID)
}
