package events

import (
	"context"
	"sync"
)

// ChangeFeed carries "something changed" signals between writers and open views.
// Payloads are opaque; subscribers re-read state on every signal.
type ChangeFeed interface {
	Publish(ctx context.Context, topic Topic) error
	// Subscribe returns once the subscription is live, so later publishes are observed.
	Subscribe(ctx context.Context, topic Topic) (Subscription, error)
	Close() error
}

// Subscription is one live listener on a topic.
type Subscription interface {
	// Signals yields at least one value after each publish. Bursts may coalesce into one.
	Signals() <-chan struct{}
	Close() error
}

// signalBox is a coalescing signal channel shared by the feed implementations.
type signalBox struct {
	ch        chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func newSignalBox() *signalBox {
	return &signalBox{ch: make(chan struct{}, 1), done: make(chan struct{})}
}

func (b *signalBox) notify() {
	select {
	case <-b.done:
	case b.ch <- struct{}{}:
	default:
	}
}

func (b *signalBox) Signals() <-chan struct{} {
	return b.ch
}

// shut reports whether this call performed the close.
func (b *signalBox) shut() bool {
	closed := false
	b.closeOnce.Do(func() {
		close(b.done)
		closed = true
	})
	return closed
}

// MemoryFeed is a single-process change feed.
type MemoryFeed struct {
	mu     sync.Mutex
	nextID int
	subs   map[Topic]map[int]*signalBox
}

// NewMemoryFeed creates an empty feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[Topic]map[int]*signalBox)}
}

func (f *MemoryFeed) Publish(ctx context.Context, topic Topic) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, box := range f.subs[topic] {
		box.notify()
	}
	return nil
}

func (f *MemoryFeed) Subscribe(_ context.Context, topic Topic) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	box := newSignalBox()
	if f.subs[topic] == nil {
		f.subs[topic] = make(map[int]*signalBox)
	}
	f.subs[topic][id] = box
	return &memorySubscription{signalBox: box, feed: f, topic: topic, id: id}, nil
}

func (f *MemoryFeed) Close() error {
	return nil
}

// Subscribers returns the number of live subscriptions on topic.
func (f *MemoryFeed) Subscribers(topic Topic) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[topic])
}

type memorySubscription struct {
	*signalBox
	feed  *MemoryFeed
	topic Topic
	id    int
}

func (s *memorySubscription) Close() error {
	if !s.shut() {
		return nil
	}
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	delete(s.feed.subs[s.topic], s.id)
	if len(s.feed.subs[s.topic]) == 0 {
		delete(s.feed.subs, s.topic)
	}
	return nil
}
