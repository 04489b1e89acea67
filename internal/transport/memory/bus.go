// Package memory is an in-process publish/subscribe bus used for tests and
// single-process runs.
package memory

import (
	"context"
	"sync"

	"ordersaga/internal/event"
	"ordersaga/internal/transport"
)

// Bus delivers every published message to each subscription of its topic.
type Bus struct {
	mu     sync.Mutex
	subs   map[event.Topic][]*Subscription
	offset int64
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[event.Topic][]*Subscription)}
}

// Publish enqueues msg for every subscription of msg.Topic.
func (b *Bus) Publish(ctx context.Context, msg transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.offset++
	msg.Offset = b.offset
	subs := append([]*Subscription(nil), b.subs[msg.Topic]...)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.enqueue(msg)
	}
	return nil
}

// Subscribe returns a subscription that receives messages from topics.
func (b *Bus) Subscribe(topics ...event.Topic) *Subscription {
	sub := &Subscription{
		bus:    b,
		topics: topics,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	for _, topic := range topics {
		b.subs[topic] = append(b.subs[topic], sub)
	}
	b.mu.Unlock()
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range sub.topics {
		list := b.subs[topic]
		for i, s := range list {
			if s == sub {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// Subscription is a FIFO queue of messages for one consumer.
type Subscription struct {
	bus    *Bus
	topics []event.Topic

	mu      sync.Mutex
	pending []transport.Message
	commits int
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (s *Subscription) enqueue(msg transport.Message) {
	s.mu.Lock()
	s.pending = append(s.pending, msg)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Fetch blocks until a message is available, ctx ends, or the subscription closes.
func (s *Subscription) Fetch(ctx context.Context) (transport.Message, error) {
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			msg := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return msg, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return transport.Message{}, ctx.Err()
		case <-s.done:
			return transport.Message{}, transport.ErrClosed
		case <-s.notify:
		}
	}
}

// Commit records the acknowledgement.
func (s *Subscription) Commit(_ context.Context, _ transport.Message) error {
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return nil
}

// Pending reports how many messages are queued.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Commits reports how many messages were acknowledged.
func (s *Subscription) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Close detaches the subscription from the bus and unblocks Fetch.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.done)
	})
	return nil
}
