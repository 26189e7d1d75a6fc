package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/api/dto"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/realtime"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

const streamKeepAlive = 25 * time.Second

// StreamHandler serves live thread and notification views as Server-Sent Events.
// Each stream owns exactly one subscription handle and closes it when the client goes away.
type StreamHandler struct {
	router *realtime.Router
	logger *zap.Logger
}

func NewStreamHandler(router *realtime.Router, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{router: router, logger: logger}
}

// Thread handles GET /api/v1/tickets/:id/stream.
func (h *StreamHandler) Thread(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	ticketID := c.Params("id")
	return h.serve(c, "thread", func(ctx context.Context, frames *frameQueue) (*realtime.SubscriptionHandle, error) {
		return h.router.OpenThread(ctx, actor, ticketID, func(s realtime.ThreadSnapshot) {
			frames.push(dto.NewThreadResponse(s))
		})
	})
}

// Notifications handles GET /api/v1/notifications/stream.
func (h *StreamHandler) Notifications(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	return h.serve(c, "notifications", func(ctx context.Context, frames *frameQueue) (*realtime.SubscriptionHandle, error) {
		return h.router.OpenNotifications(ctx, actor, func(s realtime.NotificationSnapshot) {
			frames.push(dto.NewNotificationResponses(s.Notifications))
		})
	})
}

// Tickets handles GET /api/v1/tickets/stream for the staff console.
func (h *StreamHandler) Tickets(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var status *domain.TicketStatus
	if raw := c.Query("status"); raw != "" {
		st := domain.TicketStatus(raw)
		if !st.Valid() {
			return apperrors.NewValidationError("invalid status filter", map[string]any{"status": raw})
		}
		status = &st
	}
	return h.serve(c, "tickets", func(ctx context.Context, frames *frameQueue) (*realtime.SubscriptionHandle, error) {
		return h.router.OpenTicketList(ctx, actor, status, func(s realtime.TicketListSnapshot) {
			frames.push(dto.NewTicketResponses(s.Tickets))
		})
	})
}

type openFunc func(ctx context.Context, frames *frameQueue) (*realtime.SubscriptionHandle, error)

// serve opens the subscription before switching to streaming so that
// authorization and lookup failures still render as regular JSON errors.
func (h *StreamHandler) serve(c *fiber.Ctx, event string, open openFunc) error {
	// The stream outlives the handler call; detach from the request deadline.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.UserContext()))
	frames := newFrameQueue()

	handle, err := open(ctx, frames)
	if err != nil {
		cancel()
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	logger := h.logger.With(zap.String("stream", event), zap.String("path", c.Path()))
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		stream(w, event, frames, handle, streamKeepAlive, logger)
	}))
	return nil
}

// subscription is the part of a realtime handle a stream writer needs.
type subscription interface {
	Done() <-chan struct{}
	Close()
}

// stream owns sub for the lifetime of the response body and always closes it.
func stream(w *bufio.Writer, event string, frames *frameQueue, sub subscription, keepAlive time.Duration, logger *zap.Logger) {
	defer sub.Close()
	if err := pump(w, event, frames, sub.Done(), keepAlive); err != nil {
		logger.Debug("stream closed", zap.Error(err))
	}
}

// pump writes frames until the client disconnects or the subscription ends.
func pump(w *bufio.Writer, event string, frames *frameQueue, done <-chan struct{}, interval time.Duration) error {
	keepAlive := time.NewTicker(interval)
	defer keepAlive.Stop()

	for {
		select {
		case payload := <-frames.ch:
			data, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
				return err
			}
		case <-keepAlive.C:
			if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
				return err
			}
		case <-done:
			_, _ = w.WriteString("event: end\ndata: {}\n\n")
			return w.Flush()
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
}

// frameQueue holds at most one pending snapshot. A newer snapshot replaces an
// unsent one since every snapshot is a full replacement.
type frameQueue struct {
	ch chan any
}

func newFrameQueue() *frameQueue {
	return &frameQueue{ch: make(chan any, 1)}
}

func (q *frameQueue) push(payload any) {
	for {
		select {
		case q.ch <- payload:
			return
		default:
		}
		select {
		case <-q.ch:
		default:
		}
	}
}
