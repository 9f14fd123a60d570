package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Event is a push notification about one transfer. A terminal event carries
// either the final row count or the failure detail.
type Event struct {
	Handle  string    `json:"handle"`
	Rows    int64     `json:"rows"`
	Total   int64     `json:"total"`
	Batches int       `json:"batches"`
	Phase   Phase     `json:"phase"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Publisher receives events. Publish must not block the caller.
type Publisher interface {
	Publish(ev Event)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// Multi fans an event out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(ev Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ev)
		}
	}
}

// ErrClosed is returned by Subscription.Next after the subscription or its
// broker is closed.
var ErrClosed = errors.New("subscription closed")

// Broker fans events out to subscribers without ever blocking the publisher.
// Each subscriber holds at most one pending event per transfer: a newer event
// replaces an older one, except that a terminal event is never replaced.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[*Subscription]struct{})}
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// WithRate limits delivery to r events per second with the given burst.
// Pending events keep coalescing while the subscriber waits.
func WithRate(r rate.Limit, burst int) SubscribeOption {
	return func(s *Subscription) {
		s.limiter = rate.NewLimiter(r, burst)
	}
}

// Subscribe registers a new subscriber.
func (b *Broker) Subscribe(opts ...SubscribeOption) *Subscription {
	s := &Subscription{
		broker:  b,
		pending: make(map[string]Event),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closeLocked()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish offers ev to every subscriber.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		s.offer(ev)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for s := range b.subs {
		s.closeLocked()
		delete(b.subs, s)
	}
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// Subscription is one subscriber's view of the broker.
type Subscription struct {
	broker  *Broker
	limiter *rate.Limiter

	mu      sync.Mutex
	order   []string
	pending map[string]Event
	notify  chan struct{}

	once sync.Once
	done chan struct{}
}

func (s *Subscription) offer(ev Event) {
	s.mu.Lock()
	prev, queued := s.pending[ev.Handle]
	switch {
	case !queued:
		s.order = append(s.order, ev.Handle)
		s.pending[ev.Handle] = ev
	case !prev.Phase.Terminal():
		s.pending[ev.Handle] = ev
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is pending, ctx ends, or the subscription is
// closed. Events for different transfers come out in first-published order.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		if s.Pending() > 0 {
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					return Event{}, err
				}
			}
			if ev, ok := s.pop(); ok {
				return ev, nil
			}
		}
		select {
		case <-s.notify:
		case <-s.done:
			if ev, ok := s.pop(); ok {
				return ev, nil
			}
			return Event{}, ErrClosed
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

func (s *Subscription) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return Event{}, false
	}
	h := s.order[0]
	s.order = s.order[1:]
	ev := s.pending[h]
	delete(s.pending, h)
	return ev, true
}

// Pending returns the number of transfers with an undelivered event.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.broker.remove(s)
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	s.once.Do(func() { close(s.done) })
}
