package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rune-org/rtes/common/models"
)

// Each subscription buffers up to this many messages before lagging.
const subscriptionBuffer = 100

// ErrClosed is returned from Recv once the bus is closed and the
// subscription buffer is drained.
var ErrClosed = errors.New("bus closed")

// LagError reports that a subscriber fell behind and lost messages. The
// subscription remains usable and resumes from the retained tail.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("subscription lagged, %d messages skipped", e.Skipped)
}

// Bus is a bounded single-producer-multi-consumer broadcast of worker
// messages. Every WebSocket session holds one subscription. Slow
// subscribers lose the oldest buffered messages and are told how many.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription is one receiver handle on the bus.
type Subscription struct {
	bus      *Bus
	ch       chan models.WorkerMessage
	done     chan struct{}
	doneOnce sync.Once
	skipped  atomic.Uint64
}

func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish broadcasts msg to every current subscriber. A subscriber with a
// full buffer has its oldest message evicted and its skip counter bumped so
// the next Recv reports the lag. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(msg models.WorkerMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for sub := range b.subs {
		select {
		case sub.ch <- msg:
			continue
		default:
		}

		// Buffer full: evict the oldest entry to make room. Only the
		// publisher sends on ch, so one eviction frees at least one slot.
		select {
		case <-sub.ch:
			sub.skipped.Add(1)
		default:
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// Subscribe registers a new receiver. On a closed bus the subscription is
// returned already closed.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		bus:  b,
		ch:   make(chan models.WorkerMessage, subscriptionBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.doneOnce.Do(func() { close(sub.done) })
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Close detaches all subscribers. Each of them drains its buffer and then
// receives ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.doneOnce.Do(func() { close(sub.done) })
	}
	b.subs = make(map[*Subscription]struct{})
}

// Recv returns the next message in publish order. A lag since the previous
// call is reported first, as a *LagError, before delivery resumes from the
// retained tail. After Close the buffered messages are still delivered,
// then ErrClosed.
func (s *Subscription) Recv(ctx context.Context) (models.WorkerMessage, error) {
	if skipped := s.skipped.Swap(0); skipped > 0 {
		return models.WorkerMessage{}, &LagError{Skipped: skipped}
	}

	select {
	case msg := <-s.ch:
		return msg, nil
	default:
	}

	select {
	case msg := <-s.ch:
		return msg, nil
	case <-ctx.Done():
		return models.WorkerMessage{}, ctx.Err()
	case <-s.done:
		select {
		case msg := <-s.ch:
			return msg, nil
		default:
			return models.WorkerMessage{}, ErrClosed
		}
	}
}

// Cancel detaches the subscription from the bus. Safe to call more than
// once and after Close.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}
