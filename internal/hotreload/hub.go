package hotreload

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leslieo2/go-template-reload/internal/observability"
)

// ErrSubscriptionClosed is returned by Next once a subscription is closed.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Listener is invoked synchronously for every published event and must not block.
type Listener func(ctx context.Context, event Event) error

// Hub fans every published event out to all subscriptions and listeners.
// Each subscription has its own unbounded queue, so a slow reader never
// delays publishers or other readers.
type Hub struct {
	mu        sync.Mutex
	seq       uint64
	subs      map[string]*Subscription
	listeners map[string]Listener
	closed    bool

	ctx     context.Context
	cancel  context.CancelFunc
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(logger *observability.Logger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		subs:      make(map[string]*Subscription),
		listeners: make(map[string]Listener),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.WithComponent("hub"),
		metrics:   metrics,
	}
}

// Publish stamps the event with the next sequence number and delivers it.
// It never blocks on readers and is a no-op after Close.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.seq++
	event.Seq = h.seq
	for _, sub := range h.subs {
		sub.push(event)
	}
	listeners := make(map[string]Listener, len(h.listeners))
	for name, l := range h.listeners {
		listeners[name] = l
	}
	h.mu.Unlock()

	h.metrics.RecordChangeEvent()

	for name, l := range listeners {
		if err := l(h.ctx, event); err != nil {
			h.logger.Warn("Listener failed", zap.String("listener", name), zap.Uint64("seq", event.Seq), zap.Error(err))
		}
	}
}

// Subscribe registers a new subscription that receives every event
// published from now on. Subscribing to a closed hub yields a closed subscription.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		hub:    h,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.markClosed()
		return sub
	}
	h.subs[sub.id] = sub
	h.logger.Debug("Subscription added", zap.String("id", sub.id), zap.Int("subscribers", len(h.subs)))
	return sub
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; ok {
		delete(h.subs, id)
		h.logger.Debug("Subscription removed", zap.String("id", id), zap.Int("subscribers", len(h.subs)))
	}
}

// AddListener adds a listener with a unique name
func (h *Hub) AddListener(name string, listener Listener) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.listeners[name]; exists {
		return fmt.Errorf("listener %s already exists", name)
	}

	h.listeners[name] = listener
	h.logger.Debug("Added event listener", zap.String("name", name))
	return nil
}

// ListenerCount returns the number of registered listeners
func (h *Hub) ListenerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// SubscriberCount returns the number of open subscriptions
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscription, drops all listeners and rejects further
// publishes and subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.listeners = make(map[string]Listener)
	h.mu.Unlock()

	h.cancel()
	for _, sub := range subs {
		sub.markClosed()
	}
	h.logger.Debug("Event hub closed", zap.Int("subscriptions", len(subs)))
}

// Subscription is one reader's ordered, unbounded view of the event stream.
type Subscription struct {
	id  string
	hub *Hub

	mu     sync.Mutex
	queue  []Event
	closed bool
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Next blocks until an event is available, the subscription is closed, or
// ctx is done. Events are returned in publish order.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Event{}, ErrSubscriptionClosed
		}
		if len(s.queue) > 0 {
			event := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return event, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.done:
		case <-s.signal:
		}
	}
}

// Pending returns the number of queued, undelivered events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.id)
	s.markClosed()
}

func (s *Subscription) push(event Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) markClosed() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}
