package realtime

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/observability"
	"github.com/spec-kit/support-desk/internal/service"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

// ThreadSource reads a ticket and its thread on behalf of an actor.
type ThreadSource interface {
	GetTicket(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error)
	ListMessages(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.TicketMessage, error)
}

// NotificationSource reads and acknowledges an actor's notifications.
type NotificationSource interface {
	MarkRead(ctx context.Context, actor domain.Actor, ticketID string) (int64, error)
	ListNotifications(ctx context.Context, actor domain.Actor, unreadOnly bool, limit int) ([]domain.Notification, error)
}

// TicketListSource lists tickets for the staff console. A ThreadSource that
// also implements it enables OpenTicketList.
type TicketListSource interface {
	ListTickets(ctx context.Context, actor domain.Actor, input service.ListTicketsInput) ([]domain.Ticket, error)
}

// ThreadSnapshot is the full state of one ticket view.
type ThreadSnapshot struct {
	Ticket   domain.Ticket
	Messages []domain.TicketMessage
}

// NotificationSnapshot is the actor's unread notifications, newest first.
type NotificationSnapshot struct {
	Notifications []domain.Notification
}

// TicketListSnapshot is the most recently active tickets, optionally filtered by status.
type TicketListSnapshot struct {
	Tickets []domain.Ticket
}

const (
	notificationSnapshotLimit = 50
	ticketListSnapshotLimit   = 50
)

// Router binds live views to change-feed topics. Every signal triggers a
// full re-read, so deliveries are replacement snapshots and safe to repeat.
type Router struct {
	feed          events.ChangeFeed
	threads       ThreadSource
	notifications NotificationSource
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// NewRouter builds a router.
func NewRouter(feed events.ChangeFeed, threads ThreadSource, notifications NotificationSource, metrics *observability.Metrics, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		feed:          feed,
		threads:       threads,
		notifications: notifications,
		metrics:       metrics,
		logger:        logger,
	}
}

// SubscriptionHandle is owned by the view that opened it.
type SubscriptionHandle struct {
	cancel    context.CancelFunc
	sub       events.Subscription
	done      chan struct{}
	closeOnce sync.Once
	metrics   *observability.Metrics
}

// Close stops deliveries. Safe to call more than once; in-flight writes are unaffected.
func (h *SubscriptionHandle) Close() {
	h.closeOnce.Do(func() {
		h.cancel()
		_ = h.sub.Close()
		<-h.done
		h.metrics.SubscriptionClosed()
	})
}

// Done is closed once the handle stops delivering, either by Close or by ctx ending.
func (h *SubscriptionHandle) Done() <-chan struct{} {
	return h.done
}

// OpenThread authorizes the actor, marks the ticket's notifications read and
// delivers the thread now and after every change.
func (r *Router) OpenThread(ctx context.Context, actor domain.Actor, ticketID string, deliver func(ThreadSnapshot)) (*SubscriptionHandle, error) {
	if _, err := r.threads.GetTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	if _, err := r.notifications.MarkRead(ctx, actor, ticketID); err != nil {
		r.logger.Warn("mark read on thread open failed", zap.String("ticket_id", ticketID), zap.Error(err))
	}

	fetch := func(ctx context.Context) error {
		ticket, err := r.threads.GetTicket(ctx, actor, ticketID)
		if err != nil {
			return err
		}
		msgs, err := r.threads.ListMessages(ctx, actor, ticketID)
		if err != nil {
			return err
		}
		deliver(ThreadSnapshot{Ticket: *ticket, Messages: msgs})
		r.metrics.SnapshotDelivered("ticket")
		return nil
	}
	return r.open(ctx, events.TicketTopic(ticketID), fetch)
}

// OpenNotifications delivers the actor's unread notifications now and after every change.
func (r *Router) OpenNotifications(ctx context.Context, actor domain.Actor, deliver func(NotificationSnapshot)) (*SubscriptionHandle, error) {
	fetch := func(ctx context.Context) error {
		list, err := r.notifications.ListNotifications(ctx, actor, true, notificationSnapshotLimit)
		if err != nil {
			return err
		}
		deliver(NotificationSnapshot{Notifications: list})
		r.metrics.SnapshotDelivered("notifications")
		return nil
	}
	return r.open(ctx, events.NotificationsTopic(actor.ID), fetch)
}

// OpenTicketList delivers the staff ticket list now and after any ticket changes.
func (r *Router) OpenTicketList(ctx context.Context, actor domain.Actor, status *domain.TicketStatus, deliver func(TicketListSnapshot)) (*SubscriptionHandle, error) {
	if !auth.Authorize(actor, auth.OpListAllTickets, auth.Resource{}) {
		return nil, apperrors.NewForbidden("staff only")
	}
	source, ok := r.threads.(TicketListSource)
	if !ok {
		return nil, apperrors.NewInternalError(errors.New("ticket list view not supported"))
	}

	fetch := func(ctx context.Context) error {
		list, err := source.ListTickets(ctx, actor, service.ListTicketsInput{Status: status, Limit: ticketListSnapshotLimit})
		if err != nil {
			return err
		}
		deliver(TicketListSnapshot{Tickets: list})
		r.metrics.SnapshotDelivered("tickets")
		return nil
	}
	return r.open(ctx, events.TicketListTopic(), fetch)
}

// open subscribes before the first fetch so no change between the two is missed.
func (r *Router) open(ctx context.Context, topic events.Topic, fetch func(context.Context) error) (*SubscriptionHandle, error) {
	sub, err := r.feed.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	if err := fetch(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := &SubscriptionHandle{
		cancel:  cancel,
		sub:     sub,
		done:    make(chan struct{}),
		metrics: r.metrics,
	}
	r.metrics.SubscriptionOpened()

	go func() {
		defer close(handle.done)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-sub.Signals():
				if err := fetch(runCtx); err != nil {
					if runCtx.Err() != nil {
						return
					}
					if apperrors.IsTransient(err) {
						r.logger.Warn("subscription refresh failed; waiting for next signal",
							zap.String("topic", string(topic)), zap.Error(err))
						continue
					}
					// a deleted ticket or revoked access ends the view
					r.logger.Info("subscription refresh failed; closing",
						zap.String("topic", string(topic)), zap.Error(err))
					return
				}
			}
		}
	}()
	return handle, nil
}
