package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/repository"
	"github.com/spec-kit/support-desk/internal/service"
)

type roster []string

func (r roster) IsStaff(context.Context, string) (bool, error)          { return false, nil }
func (r roster) ListIDs(context.Context) ([]string, error)              { return r, nil }
func (r roster) List(context.Context) ([]repository.StaffMember, error) { return nil, nil }
func (r roster) Grant(context.Context, string) error                    { return nil }
func (r roster) Revoke(context.Context, string) error                   { return nil }

type captured struct {
	mu      sync.Mutex
	batches [][]*domain.Notification
}

func (c *captured) CreateBatch(_ context.Context, batch []*domain.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, batch)
	return nil
}
func (c *captured) MarkRead(context.Context, string, string) (int64, error) { return 0, nil }
func (c *captured) ListByActor(context.Context, string, bool, int) ([]domain.Notification, error) {
	return nil, nil
}

// blockingHandler parks every event until release is closed.
type blockingHandler struct {
	started chan events.Event
	release chan struct{}
}

func (b *blockingHandler) HandleEvent(_ context.Context, event events.Event) error {
	b.started <- event
	<-b.release
	return nil
}

func ticketCreated(id string) events.Event {
	ticket := domain.Ticket{ID: id, OwnerID: "cust", Subject: "Delivery issue"}
	return events.NewEvent(events.EventTicketCreated, ticket.ID, ticket.OwnerID, events.TicketCreatedPayload{Ticket: ticket})
}

func TestNotificationWorkerFansOut(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	sink := &captured{}
	svc := service.NewNotificationService(service.NotificationDependencies{
		NotificationRepo: sink,
		StaffRepo:        roster{"staff-1", "staff-2"},
		Feed:             events.NewMemoryFeed(),
		MaxAttempts:      1,
		WriteTimeout:     time.Second,
	})

	w := StartNotificationWorker(dispatcher, svc, Options{Workers: 1, QueueSize: 4})
	require.NoError(t, dispatcher.Publish(context.Background(), ticketCreated("t-1")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))

	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 2)
	assert.Equal(t, `New support ticket: "Delivery issue"`, sink.batches[0][0].Text)
}

func TestPublishDoesNotWaitForSlowFanout(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	handler := &blockingHandler{started: make(chan events.Event, 4), release: make(chan struct{})}
	w := StartNotificationWorker(dispatcher, handler, Options{Workers: 1, QueueSize: 1})

	publish := func(id string) time.Duration {
		start := time.Now()
		require.NoError(t, dispatcher.Publish(context.Background(), ticketCreated(id)))
		return time.Since(start)
	}

	assert.Less(t, publish("t-1"), 100*time.Millisecond)
	<-handler.started
	assert.Less(t, publish("t-2"), 100*time.Millisecond)
	// worker busy and queue full: dropped rather than blocking
	assert.Less(t, publish("t-3"), 100*time.Millisecond)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Stop(short), context.DeadlineExceeded)

	close(handler.release)
	second := <-handler.started
	assert.Equal(t, "t-2", second.TicketID)

	ctx, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	require.NoError(t, w.Stop(ctx))
	assert.Empty(t, handler.started)
}

func TestNotificationWorkerDropsAfterStop(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	w := StartNotificationWorker(dispatcher, &blockingHandler{}, Options{})
	require.NoError(t, w.Stop(context.Background()))

	assert.NotPanics(t, func() {
		assert.NoError(t, dispatcher.Publish(context.Background(), ticketCreated("t-1")))
	})
}
