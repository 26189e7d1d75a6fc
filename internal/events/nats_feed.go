package events

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NatsFeed fans signals out across instances over core NATS subjects.
type NatsFeed struct {
	nc     *nats.Conn
	prefix string
}

// NewNatsFeed maps topic "ticket:<id>" to subject "<prefix>.ticket.<id>".
func NewNatsFeed(nc *nats.Conn, prefix string) *NatsFeed {
	return &NatsFeed{nc: nc, prefix: prefix}
}

func (f *NatsFeed) subject(topic Topic) string {
	subject := strings.ReplaceAll(string(topic), ":", ".")
	if f.prefix == "" {
		return subject
	}
	return f.prefix + "." + subject
}

func (f *NatsFeed) Publish(_ context.Context, topic Topic) error {
	return f.nc.Publish(f.subject(topic), []byte(uuid.NewString()))
}

func (f *NatsFeed) Subscribe(_ context.Context, topic Topic) (Subscription, error) {
	box := newSignalBox()
	natsSub, err := f.nc.Subscribe(f.subject(topic), func(*nats.Msg) {
		box.notify()
	})
	if err != nil {
		return nil, err
	}
	// make sure the server registered interest before returning
	if err := f.nc.Flush(); err != nil {
		_ = natsSub.Unsubscribe()
		return nil, err
	}
	return &natsSubscription{signalBox: box, sub: natsSub}, nil
}

// Close drains the connection.
func (f *NatsFeed) Close() error {
	return f.nc.Drain()
}

type natsSubscription struct {
	*signalBox
	sub *nats.Subscription
}

func (s *natsSubscription) Close() error {
	if !s.shut() {
		return nil
	}
	return s.sub.Unsubscribe()
}
