package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/repository"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

// URLVerifier reports whether an attachment URL was issued by our object storage.
type URLVerifier interface {
	OwnsURL(url string) bool
}

// TicketService coordinates ticket and thread workflows.
type TicketService struct {
	tickets      repository.TicketRepository
	messages     repository.TicketMessageRepository
	attachments  URLVerifier
	dispatcher   events.Dispatcher
	signals      signaler
	logger       *zap.Logger
	writeTimeout time.Duration
	phoneRegion  string
}

// TicketDependencies bundles collaborators for ticket service.
type TicketDependencies struct {
	TicketRepo   repository.TicketRepository
	MessageRepo  repository.TicketMessageRepository
	Attachments  URLVerifier
	Dispatcher   events.Dispatcher
	Feed         events.ChangeFeed
	Logger       *zap.Logger
	WriteTimeout time.Duration
	PhoneRegion  string
	// FeedRetries bounds change-feed publish attempts.
	FeedRetries int
}

// CreateTicketInput describes ticket creation payload.
type CreateTicketInput struct {
	Subject string
	Phone   *string
}

// OpenTicketInput creates a ticket together with its first message.
type OpenTicketInput struct {
	Subject       string
	Phone         *string
	Body          string
	AttachmentURL *string
}

// AppendMessageInput is a thread reply.
type AppendMessageInput struct {
	Body          string
	AttachmentURL *string
}

// ListTicketsInput filters ticket listings.
type ListTicketsInput struct {
	OwnerID *string
	Status  *domain.TicketStatus
	Limit   int
	Offset  int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	region := deps.PhoneRegion
	if region == "" {
		region = "US"
	}
	return &TicketService{
		tickets:      deps.TicketRepo,
		messages:     deps.MessageRepo,
		attachments:  deps.Attachments,
		dispatcher:   deps.Dispatcher,
		signals:      signaler{feed: deps.Feed, logger: logger, backoff: newBackOff, attempts: deps.FeedRetries},
		logger:       logger,
		writeTimeout: deps.WriteTimeout,
		phoneRegion:  region,
	}
}

// CreateTicket creates a pending ticket without messages.
func (s *TicketService) CreateTicket(ctx context.Context, actor domain.Actor, input CreateTicketInput) (*domain.Ticket, error) {
	ticket, err := s.newTicket(actor, input.Subject, input.Phone)
	if err != nil {
		return nil, err
	}

	wctx, cancel := withWriteTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := s.tickets.Create(wctx, ticket, nil); err != nil {
		return nil, apperrors.ClassifyStoreError(err, "ticket")
	}

	s.publishEvent(ctx, events.NewEvent(events.EventTicketCreated, ticket.ID, actor.ID,
		events.TicketCreatedPayload{Ticket: *ticket}))
	s.signals.signal(ctx, events.TicketListTopic())
	return ticket, nil
}

// OpenTicket creates a ticket and its seed message atomically. Only the
// ticket-created fan-out runs; the seed message does not notify separately.
func (s *TicketService) OpenTicket(ctx context.Context, actor domain.Actor, input OpenTicketInput) (*domain.Ticket, *domain.TicketMessage, error) {
	ticket, err := s.newTicket(actor, input.Subject, input.Phone)
	if err != nil {
		return nil, nil, err
	}
	seed, err := s.newMessage(actor, input.Body, input.AttachmentURL)
	if err != nil {
		return nil, nil, err
	}

	wctx, cancel := withWriteTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := s.tickets.Create(wctx, ticket, seed); err != nil {
		return nil, nil, apperrors.ClassifyStoreError(err, "ticket")
	}

	s.publishEvent(ctx, events.NewEvent(events.EventTicketCreated, ticket.ID, actor.ID,
		events.TicketCreatedPayload{Ticket: *ticket}))
	s.signals.signal(ctx, events.TicketListTopic())
	return ticket, seed, nil
}

// GetTicket returns a ticket visible to actor.
func (s *TicketService) GetTicket(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, apperrors.ClassifyStoreError(err, "ticket")
	}
	if !auth.Authorize(actor, auth.OpViewTicket, auth.Resource{OwnerID: ticket.OwnerID}) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return ticket, nil
}

// ToggleStatus flips pending and solved. Concurrent toggles resolve last-write-wins.
func (s *TicketService) ToggleStatus(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	current, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, apperrors.ClassifyStoreError(err, "ticket")
	}
	if !auth.Authorize(actor, auth.OpToggleTicket, auth.Resource{OwnerID: current.OwnerID}) {
		return nil, apperrors.NewForbidden("access denied")
	}

	wctx, cancel := withWriteTimeout(ctx, s.writeTimeout)
	defer cancel()
	ticket, err := s.tickets.ToggleStatus(wctx, ticketID)
	if err != nil {
		return nil, apperrors.ClassifyStoreError(err, "ticket")
	}

	s.publishEvent(ctx, events.NewEvent(events.EventTicketStatusToggled, ticket.ID, actor.ID,
		events.TicketStatusToggledPayload{Ticket: *ticket, NewStatus: ticket.Status}))
	s.signals.signal(ctx, events.TicketTopic(ticket.ID), events.TicketListTopic())
	return ticket, nil
}

// ListTickets lists tickets ordered by most recent activity.
// Non-staff actors only ever see their own tickets.
func (s *TicketService) ListTickets(ctx context.Context, actor domain.Actor, input ListTicketsInput) ([]domain.Ticket, error) {
	filter := repository.TicketFilter{
		OwnerID: input.OwnerID,
		Status:  input.Status,
		Limit:   input.Limit,
		Offset:  input.Offset,
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, apperrors.NewValidationError("invalid status filter", map[string]any{"status": *filter.Status})
	}
	if !auth.Authorize(actor, auth.OpListAllTickets, auth.Resource{}) {
		owner := actor.ID
		filter.OwnerID = &owner
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}

	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, apperrors.ClassifyStoreError(err, "ticket")
	}
	return tickets, nil
}

// DeleteTicket removes a ticket with its thread and notifications. Staff only.
func (s *TicketService) DeleteTicket(ctx context.Context, actor domain.Actor, ticketID string) error {
	if !auth.Authorize(actor, auth.OpDeleteTicket, auth.Resource{}) {
		return apperrors.NewForbidden("only staff can delete tickets")
	}

	wctx, cancel := withWriteTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := s.tickets.Delete(wctx, ticketID); err != nil {
		return apperrors.ClassifyStoreError(err, "ticket")
	}

	s.publishEvent(ctx, events.NewEvent(events.EventTicketDeleted, ticketID, actor.ID, nil))
	s.signals.signal(ctx, events.TicketTopic(ticketID), events.TicketListTopic())
	return nil
}

// AppendMessage adds a reply to the thread. The sender's staff flag comes from
// the session, and the solved check runs under the ticket row lock.
func (s *TicketService) AppendMessage(ctx context.Context, actor domain.Actor, ticketID string, input AppendMessageInput) (*domain.TicketMessage, error) {
	msg, err := s.newMessage(actor, input.Body, input.AttachmentURL)
	if err != nil {
		return nil, err
	}
	msg.TicketID = ticketID

	wctx, cancel := withWriteTimeout(ctx, s.writeTimeout)
	defer cancel()
	ticket, err := s.messages.Append(wctx, msg, appendGuard(actor))
	if err != nil {
		return nil, apperrors.ClassifyStoreError(err, "ticket")
	}

	s.publishEvent(ctx, events.NewEvent(events.EventMessageAppended, ticket.ID, actor.ID,
		events.MessageAppendedPayload{Message: *msg, Ticket: *ticket}))
	s.signals.signal(ctx, events.TicketTopic(ticket.ID), events.TicketListTopic())
	return msg, nil
}

// CheckAppend reports whether actor could reply to the ticket right now, without
// writing anything. AppendMessage repeats the check under the row lock.
func (s *TicketService) CheckAppend(ctx context.Context, actor domain.Actor, ticketID string) error {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return apperrors.ClassifyStoreError(err, "ticket")
	}
	return appendGuard(actor)(ticket)
}

func appendGuard(actor domain.Actor) repository.MessageGuard {
	return func(ticket *domain.Ticket) error {
		if !auth.Authorize(actor, auth.OpAppendMessage, auth.Resource{OwnerID: ticket.OwnerID}) {
			return apperrors.NewForbidden("access denied")
		}
		if !ticket.AcceptsMessagesFrom(actor.IsStaff) {
			return apperrors.NewForbidden("ticket is solved; only staff can reply")
		}
		return nil
	}
}

// ListMessages returns the thread in ascending (created_at, seq) order.
func (s *TicketService) ListMessages(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.TicketMessage, error) {
	if _, err := s.GetTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.ClassifyStoreError(err, "ticket")
	}
	return msgs, nil
}

func (s *TicketService) newTicket(actor domain.Actor, subject string, phone *string) (*domain.Ticket, error) {
	if !auth.Authorize(actor, auth.OpCreateTicket, auth.Resource{}) {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	subject = strings.TrimSpace(subject)
	switch n := utf8.RuneCountInString(subject); {
	case n == 0:
		return nil, apperrors.NewValidationError("subject is required", map[string]any{"field": "subject"})
	case n > domain.MaxSubjectLength:
		return nil, apperrors.NewValidationError("subject is too long",
			map[string]any{"field": "subject", "max": domain.MaxSubjectLength})
	}

	normalized, err := s.normalizePhone(phone)
	if err != nil {
		return nil, err
	}

	return &domain.Ticket{
		OwnerID: actor.ID,
		Subject: subject,
		Status:  domain.TicketStatusPending,
		Phone:   normalized,
	}, nil
}

func (s *TicketService) normalizePhone(phone *string) (*string, error) {
	if phone == nil || strings.TrimSpace(*phone) == "" {
		return nil, nil
	}
	invalid := apperrors.NewValidationError("phone number is invalid", map[string]any{"field": "phone"})
	num, err := phonenumbers.Parse(strings.TrimSpace(*phone), s.phoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return nil, invalid
	}
	formatted := phonenumbers.Format(num, phonenumbers.E164)
	return &formatted, nil
}

func (s *TicketService) newMessage(actor domain.Actor, body string, attachmentURL *string) (*domain.TicketMessage, error) {
	body = strings.TrimSpace(body)
	if attachmentURL != nil && strings.TrimSpace(*attachmentURL) == "" {
		attachmentURL = nil
	}
	if body == "" && attachmentURL == nil {
		return nil, apperrors.NewValidationError("message needs text or an attachment", map[string]any{"field": "body"})
	}
	if utf8.RuneCountInString(body) > domain.MaxBodyLength {
		return nil, apperrors.NewValidationError("message is too long",
			map[string]any{"field": "body", "max": domain.MaxBodyLength})
	}
	if attachmentURL != nil && (s.attachments == nil || !s.attachments.OwnsURL(*attachmentURL)) {
		return nil, apperrors.NewValidationError("attachment was not uploaded here", map[string]any{"field": "attachment_url"})
	}
	return &domain.TicketMessage{
		SenderID:      actor.ID,
		Body:          body,
		IsStaff:       actor.IsStaff,
		AttachmentURL: attachmentURL,
	}, nil
}

// publishEvent runs in-process handlers detached from the request deadline.
func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("event publish failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}
