package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	subscriberBuffer = 32
	jobStateTTL      = time.Hour
	pruneThreshold   = 1024
)

// Subscription receives the events of one brand
type Subscription struct {
	ID           string
	BrandID      string
	ConnectionID *uuid.UUID
	Events       <-chan Event

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
}

// Close ends the subscription
func (s *Subscription) Close() {
	s.cancel()
}

type jobState struct {
	processed int
	terminal  bool
	seenAt    time.Time
}

// Hub is an in-process, brand-scoped progress fan-out.
// Per job it forwards a non-decreasing processed count and nothing after a terminal status.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription
	jobsMu   sync.Mutex
	jobs     map[uuid.UUID]*jobState
	nextID   int64
	forward  func(Event)
	logger   *logrus.Entry
	observer func(subscribers int)
}

// NewHub creates a new progress hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]*Subscription),
		jobs:   make(map[uuid.UUID]*jobState),
		logger: logger.WithField("component", "progress.hub"),
	}
}

// SetForwarder installs a hook that receives every locally published event
func (h *Hub) SetForwarder(fn func(Event)) {
	h.mu.Lock()
	h.forward = fn
	h.mu.Unlock()
}

// SetSubscriberObserver installs a hook notified when the subscriber count changes
func (h *Hub) SetSubscriberObserver(fn func(subscribers int)) {
	h.mu.Lock()
	h.observer = fn
	h.mu.Unlock()
}

// Subscribe registers a listener for a brand, optionally narrowed to one connection.
// The subscription ends when ctx is done or Close is called.
func (h *Hub) Subscribe(ctx context.Context, brandID string, connectionID *uuid.UUID) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	events := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.nextID++
	sub := &Subscription{
		ID:           fmt.Sprintf("sub-%d", h.nextID),
		BrandID:      brandID,
		ConnectionID: connectionID,
		Events:       events,
		events:       events,
		ctx:          subCtx,
		cancel:       cancel,
	}
	h.subs[sub.ID] = sub
	count := len(h.subs)
	observer := h.observer
	h.mu.Unlock()

	if observer != nil {
		observer(count)
	}
	h.logger.WithFields(logrus.Fields{"subscription_id": sub.ID, "brand_id": brandID}).Debug("Progress subscription created")

	go func() {
		<-subCtx.Done()
		h.unsubscribe(sub.ID)
	}()

	return sub
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, id)
	close(sub.events)
	count := len(h.subs)
	observer := h.observer
	h.mu.Unlock()

	if observer != nil {
		observer(count)
	}
	h.logger.WithField("subscription_id", id).Debug("Progress subscription removed")
}

// Publish delivers a locally produced event and hands it to the forwarder
func (h *Hub) Publish(event Event) {
	event, ok := h.deliver(event)
	if !ok {
		return
	}
	h.mu.RLock()
	forward := h.forward
	h.mu.RUnlock()
	if forward != nil {
		forward(event)
	}
}

// Deliver fans an event out to matching local subscribers.
// It reports false when the event was dropped as a regression.
func (h *Hub) Deliver(event Event) bool {
	_, ok := h.deliver(event)
	return ok
}

func (h *Hub) deliver(event Event) (Event, bool) {
	event, ok := h.admit(event)
	if !ok {
		return event, false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.BrandID != event.BrandID {
			continue
		}
		if sub.ConnectionID != nil && *sub.ConnectionID != event.ConnectionID {
			continue
		}
		select {
		case sub.events <- event:
		case <-sub.ctx.Done():
		default:
			// slow consumer; the status endpoint remains authoritative
			h.logger.WithField("subscription_id", sub.ID).Warn("Subscriber buffer full, dropping progress event")
		}
	}
	return event, true
}

// SubscriberCount returns the number of live subscriptions
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// admit enforces per-job monotonic progress. A first terminal event always
// passes, with its count raised to the highest one already delivered.
func (h *Hub) admit(event Event) (Event, bool) {
	h.jobsMu.Lock()
	defer h.jobsMu.Unlock()

	now := time.Now()
	state, ok := h.jobs[event.JobID]
	if ok {
		if state.terminal {
			return event, false
		}
		if event.ProductsProcessed < state.processed {
			if !event.Status.IsTerminal() {
				return event, false
			}
			event.ProductsProcessed = state.processed
		}
	} else {
		state = &jobState{}
		h.jobs[event.JobID] = state
		if len(h.jobs) > pruneThreshold {
			h.pruneLocked(now)
		}
	}

	state.processed = event.ProductsProcessed
	state.terminal = event.Status.IsTerminal()
	state.seenAt = now
	return event, true
}

func (h *Hub) pruneLocked(now time.Time) {
	for id, state := range h.jobs {
		if now.Sub(state.seenAt) > jobStateTTL {
			delete(h.jobs, id)
		}
	}
}
