package pubsub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTransport fans messages out to in-process subscribers. Each
// subscription gets its own goroutine and an unbounded-by-count but ordered
// queue, so a slow handler never blocks the publisher or other subscriptions.
type MemoryTransport struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
	done   chan struct{}
}

type memorySub struct {
	mu     sync.Mutex
	queue  []Message
	notify chan struct{}
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		subs: map[string]map[*memorySub]struct{}{},
		done: make(chan struct{}),
	}
}

func (t *MemoryTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}
	for sub := range t.subs[channel] {
		sub.push(Message{
			ID:         uuid.NewString(),
			Channel:    channel,
			Payload:    append([]byte(nil), payload...),
			ReceivedAt: time.Now().UTC(),
		})
	}
	return nil
}

func (t *MemoryTransport) Subscribe(ctx context.Context, channel string, h Handler) error {
	sub := &memorySub{notify: make(chan struct{}, 1)}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.subs[channel] == nil {
		t.subs[channel] = map[*memorySub]struct{}{}
	}
	t.subs[channel][sub] = struct{}{}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.subs[channel], sub)
		t.mu.Unlock()
	}()

	h = traced("memory", h)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.done:
			return ErrClosed
		case <-sub.notify:
			for {
				msg, ok := sub.pop()
				if !ok {
					break
				}
				if ctx.Err() != nil {
					return nil
				}
				_ = h(ctx, msg)
			}
		}
	}
}

// Subscribers reports how many live subscriptions channel has.
func (t *MemoryTransport) Subscribers(channel string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs[channel])
}

func (t *MemoryTransport) Ping(context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}
	return nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("pubsub: memory transport already closed")
	}
	t.closed = true
	close(t.done)
	return nil
}

func (s *memorySub) push(msg Message) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySub) pop() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Message{}, false
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	return msg, true
}
