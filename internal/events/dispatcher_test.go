package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDispatcherRunsEveryHandler(t *testing.T) {
	d := NewInMemoryDispatcher(zap.NewNop())
	var calls []string

	d.Subscribe(EventTicketCreated, func(_ context.Context, e Event) error {
		calls = append(calls, "first:"+e.TicketID)
		return errors.New("boom")
	})
	d.Subscribe(EventTicketCreated, func(_ context.Context, e Event) error {
		calls = append(calls, "second:"+e.TicketID)
		return nil
	})
	d.Subscribe(EventMessageAppended, func(context.Context, Event) error {
		calls = append(calls, "unrelated")
		return nil
	})

	err := d.Publish(context.Background(), NewEvent(EventTicketCreated, "t1", "u1", nil))
	assert.NoError(t, err)
	assert.Equal(t, []string{"first:t1", "second:t1"}, calls)
}

func TestDispatcherSurvivesHandlerPanic(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	ran := false

	d.Subscribe(EventMessageAppended, func(context.Context, Event) error {
		panic("nil map")
	})
	d.Subscribe(EventMessageAppended, func(context.Context, Event) error {
		ran = true
		return nil
	})

	assert.NotPanics(t, func() {
		assert.NoError(t, d.Publish(context.Background(), NewEvent(EventMessageAppended, "t1", "u1", nil)))
	})
	assert.True(t, ran)
}
