package dto

import (
	"time"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/realtime"
)

// CreateTicketRequest opens a ticket with its first message.
type CreateTicketRequest struct {
	Subject       string  `json:"subject"`
	Phone         *string `json:"phone"`
	Message       string  `json:"message"`
	AttachmentURL *string `json:"attachment_url"`
}

// CreateMessageRequest payload.
type CreateMessageRequest struct {
	Body          string  `json:"body"`
	AttachmentURL *string `json:"attachment_url"`
}

// TicketResponse represents a ticket.
type TicketResponse struct {
	ID        string              `json:"id"`
	UserID    string              `json:"user_id"`
	Subject   string              `json:"subject"`
	Status    domain.TicketStatus `json:"status"`
	Phone     *string             `json:"phone,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// TicketMessageResponse represents thread message.
type TicketMessageResponse struct {
	ID            string    `json:"id"`
	TicketID      string    `json:"ticket_id"`
	SenderID      string    `json:"sender_id"`
	Message       string    `json:"message"`
	IsAdmin       bool      `json:"is_admin"`
	AttachmentURL *string   `json:"attachment_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// OpenTicketResponse is returned when a ticket is opened.
type OpenTicketResponse struct {
	Ticket  TicketResponse         `json:"ticket"`
	Message *TicketMessageResponse `json:"message,omitempty"`
}

// ThreadResponse is one full thread snapshot.
type ThreadResponse struct {
	Ticket   TicketResponse          `json:"ticket"`
	Messages []TicketMessageResponse `json:"messages"`
}

// NotificationResponse represents a notification.
type NotificationResponse struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// AttachmentResponse is a staged upload.
type AttachmentResponse struct {
	URL string `json:"url"`
}

// MarkReadResponse reports how many notifications were flipped.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:        t.ID,
		UserID:    t.OwnerID,
		Subject:   t.Subject,
		Status:    t.Status,
		Phone:     t.Phone,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func NewTicketResponses(tickets []domain.Ticket) []TicketResponse {
	out := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		out = append(out, NewTicketResponse(&tickets[i]))
	}
	return out
}

func NewMessageResponse(m *domain.TicketMessage) TicketMessageResponse {
	return TicketMessageResponse{
		ID:            m.ID,
		TicketID:      m.TicketID,
		SenderID:      m.SenderID,
		Message:       m.Body,
		IsAdmin:       m.IsStaff,
		AttachmentURL: m.AttachmentURL,
		CreatedAt:     m.CreatedAt,
	}
}

func NewMessageResponses(msgs []domain.TicketMessage) []TicketMessageResponse {
	out := make([]TicketMessageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, NewMessageResponse(&msgs[i]))
	}
	return out
}

func NewNotificationResponses(list []domain.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(list))
	for _, n := range list {
		out = append(out, NotificationResponse{
			ID:        n.ID,
			TicketID:  n.TicketID,
			Message:   n.Text,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt,
		})
	}
	return out
}

func NewThreadResponse(s realtime.ThreadSnapshot) ThreadResponse {
	return ThreadResponse{
		Ticket:   NewTicketResponse(&s.Ticket),
		Messages: NewMessageResponses(s.Messages),
	}
}
