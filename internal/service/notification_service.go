package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/observability"
	"github.com/spec-kit/support-desk/internal/repository"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

// NotificationService turns ticket events into per-actor notifications.
// Fan-out is best effort: failures are retried, logged, counted and dropped.
type NotificationService struct {
	notifications repository.NotificationRepository
	staff         repository.StaffRepository
	dispatcher    events.Dispatcher
	signals       signaler
	metrics       *observability.Metrics
	logger        *zap.Logger
	maxAttempts   int
	retryPolicy   func() backoff.BackOff
	writeTimeout  time.Duration
	fanoutTimeout time.Duration
}

const defaultFanoutTimeout = 15 * time.Second

// NotificationDependencies bundles collaborators for the notification service.
type NotificationDependencies struct {
	NotificationRepo repository.NotificationRepository
	StaffRepo        repository.StaffRepository
	Dispatcher       events.Dispatcher
	Feed             events.ChangeFeed
	Metrics          *observability.Metrics
	Logger           *zap.Logger
	MaxAttempts      int
	WriteTimeout     time.Duration
	// FanoutTimeout bounds one whole fan-out, roster read and retries included.
	FanoutTimeout time.Duration
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		notifications: deps.NotificationRepo,
		staff:         deps.StaffRepo,
		dispatcher:    deps.Dispatcher,
		signals:       signaler{feed: deps.Feed, logger: logger, backoff: newBackOff, attempts: deps.MaxAttempts},
		metrics:       deps.Metrics,
		logger:        logger,
		maxAttempts:   deps.MaxAttempts,
		retryPolicy:   newBackOff,
		writeTimeout:  deps.WriteTimeout,
		fanoutTimeout: deps.FanoutTimeout,
	}
}

// RegisterHandlers runs fan-out inline on the publisher. The API process uses
// worker.NotificationWorker instead.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.HandleEvent)
	n.dispatcher.Subscribe(events.EventMessageAppended, n.HandleEvent)
}

// HandleEvent fans out one ticket or message event. Fan-out failures are logged
// and counted, never returned; only a malformed event is an error.
func (n *NotificationService) HandleEvent(ctx context.Context, event events.Event) error {
	switch payload := event.Payload.(type) {
	case events.TicketCreatedPayload:
		_, _ = n.OnTicketCreated(ctx, &payload.Ticket)
	case events.MessageAppendedPayload:
		_, _ = n.OnMessageAppended(ctx, &payload.Message, &payload.Ticket)
	default:
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	return nil
}

// OnTicketCreated notifies every staff member about a new ticket.
// The roster is read on every call.
func (n *NotificationService) OnTicketCreated(ctx context.Context, ticket *domain.Ticket) ([]domain.Notification, error) {
	ctx, cancel := n.detach(ctx)
	defer cancel()
	roster, err := n.loadRoster(ctx)
	if err != nil {
		return n.drop(ticket.ID, 0, err)
	}
	return n.fanOut(ctx, ticket.ID, roster, domain.TicketCreatedText(ticket.Subject))
}

// OnMessageAppended notifies the owner about staff replies and the staff about customer replies.
func (n *NotificationService) OnMessageAppended(ctx context.Context, msg *domain.TicketMessage, ticket *domain.Ticket) ([]domain.Notification, error) {
	ctx, cancel := n.detach(ctx)
	defer cancel()
	if msg.IsStaff {
		return n.fanOut(ctx, ticket.ID, []string{ticket.OwnerID}, domain.StaffReplyText(ticket.Subject))
	}

	roster, err := n.loadRoster(ctx)
	if err != nil {
		return n.drop(ticket.ID, 0, err)
	}
	return n.fanOut(ctx, ticket.ID, roster, domain.CustomerReplyText(ticket.Subject))
}

// MarkRead flags the actor's unread notifications for a ticket. Idempotent.
func (n *NotificationService) MarkRead(ctx context.Context, actor domain.Actor, ticketID string) (int64, error) {
	wctx, cancel := withWriteTimeout(ctx, n.writeTimeout)
	defer cancel()
	changed, err := n.notifications.MarkRead(wctx, actor.ID, ticketID)
	if err != nil {
		return 0, apperrors.ClassifyStoreError(err, "notification")
	}
	if changed > 0 {
		n.signals.signal(ctx, events.NotificationsTopic(actor.ID))
	}
	return changed, nil
}

// ListNotifications returns the actor's newest notifications first.
func (n *NotificationService) ListNotifications(ctx context.Context, actor domain.Actor, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	list, err := n.notifications.ListByActor(ctx, actor.ID, unreadOnly, limit)
	if err != nil {
		return nil, apperrors.ClassifyStoreError(err, "notification")
	}
	return list, nil
}

// detach outlives the triggering request but not the fan-out budget.
func (n *NotificationService) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := n.fanoutTimeout
	if timeout <= 0 {
		timeout = defaultFanoutTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (n *NotificationService) loadRoster(ctx context.Context) ([]string, error) {
	return retry(ctx, n.retryPolicy(), n.maxAttempts, func() ([]string, error) {
		rctx, cancel := withWriteTimeout(ctx, n.writeTimeout)
		defer cancel()
		ids, err := n.staff.ListIDs(rctx)
		return ids, apperrors.ClassifyStoreError(err, "staff roster")
	})
}

func (n *NotificationService) fanOut(ctx context.Context, ticketID string, recipients []string, text string) ([]domain.Notification, error) {
	n.metrics.FanoutRecipients(len(recipients))
	if len(recipients) == 0 {
		return nil, nil
	}

	batch := make([]*domain.Notification, 0, len(recipients))
	topics := make([]events.Topic, 0, len(recipients))
	for _, actorID := range recipients {
		batch = append(batch, &domain.Notification{ActorID: actorID, TicketID: ticketID, Text: text})
		topics = append(topics, events.NotificationsTopic(actorID))
	}

	_, err := retry(ctx, n.retryPolicy(), n.maxAttempts, func() (struct{}, error) {
		wctx, cancel := withWriteTimeout(ctx, n.writeTimeout)
		defer cancel()
		return struct{}{}, apperrors.ClassifyStoreError(n.notifications.CreateBatch(wctx, batch), "ticket")
	})
	if err != nil {
		return n.drop(ticketID, len(recipients), err)
	}

	n.metrics.NotificationsCreated(len(batch))
	n.signals.signal(ctx, topics...)

	created := make([]domain.Notification, 0, len(batch))
	for _, notification := range batch {
		created = append(created, *notification)
	}
	return created, nil
}

func (n *NotificationService) drop(ticketID string, recipients int, err error) ([]domain.Notification, error) {
	n.metrics.FanoutFailed()
	n.logger.Warn("notification fan-out dropped",
		zap.String("ticket_id", ticketID),
		zap.Int("recipient_count", recipients),
		zap.Error(err))
	return nil, err
}
