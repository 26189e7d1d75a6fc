package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/observability"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

// EventHandler is the fan-out the worker runs for each queued event.
type EventHandler interface {
	HandleEvent(ctx context.Context, event events.Event) error
}

// Options sizes the worker pool. Zero values take defaults.
type Options struct {
	Workers   int
	QueueSize int
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// NotificationWorker moves notification fan-out off the request path.
// Publishing only enqueues; a full queue drops the event.
type NotificationWorker struct {
	handler EventHandler
	queue   chan events.Event
	metrics *observability.Metrics
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// StartNotificationWorker subscribes the worker to ticket and message events and starts its goroutines.
func StartNotificationWorker(dispatcher events.Dispatcher, handler EventHandler, opts Options) *NotificationWorker {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	w := &NotificationWorker{
		handler: handler,
		queue:   make(chan events.Event, opts.QueueSize),
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	for i := 0; i < opts.Workers; i++ {
		w.wg.Add(1)
		go w.run()
	}
	if dispatcher != nil {
		dispatcher.Subscribe(events.EventTicketCreated, w.enqueue)
		dispatcher.Subscribe(events.EventMessageAppended, w.enqueue)
	}
	w.logger.Info("notification worker started",
		zap.Int("workers", opts.Workers),
		zap.Int("queue_size", opts.QueueSize))
	return w
}

func (w *NotificationWorker) enqueue(_ context.Context, event events.Event) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped(event, "worker stopped")
		return nil
	}
	select {
	case w.queue <- event:
	default:
		w.dropped(event, "queue full")
	}
	return nil
}

func (w *NotificationWorker) dropped(event events.Event, reason string) {
	w.metrics.FanoutFailed()
	w.logger.Warn("notification event dropped",
		zap.String("reason", reason),
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID))
}

func (w *NotificationWorker) run() {
	defer w.wg.Done()
	for event := range w.queue {
		if err := w.handler.HandleEvent(context.Background(), event); err != nil {
			w.logger.Warn("notification event rejected",
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}
}

// Stop refuses new events and waits for queued ones until ctx ends.
func (w *NotificationWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
