// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/agenthost/pkg/agent"
)

// DefaultDeliveryTimeout bounds each asynchronous event delivery.
const DefaultDeliveryTimeout = 5 * time.Second

// ErrBusClosed is returned when publishing on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// Deliverer hands an event to one agent.
type Deliverer interface {
	Dispatch(ctx context.Context, agentID string, event agent.Event) error
}

// subscription tracks which events an agent wants.
type subscription struct {
	agentID    string
	eventTypes map[string]bool // empty = all events
}

// waiter is a pending Request.
type waiter struct {
	requester string
	reply     chan agent.Event
}

// Bus fans published events out to subscribed agents and matches replies
// to pending requests by correlation id.
type Bus struct {
	target  Deliverer
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	subs    map[string]subscription
	waiters map[string][]*waiter
	closed  bool
	wg      sync.WaitGroup
}

// NewBus creates a bus delivering through target. A non-positive timeout
// uses DefaultDeliveryTimeout.
func NewBus(target Deliverer, timeout time.Duration, logger *slog.Logger) *Bus {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		target:  target,
		timeout: timeout,
		logger:  logger,
		subs:    make(map[string]subscription),
		waiters: make(map[string][]*waiter),
	}
}

// Subscribe registers agentID for eventTypes, replacing earlier
// registrations. No types, or the wildcard type, subscribes to everything.
func (b *Bus) Subscribe(agentID string, eventTypes []string) {
	set := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		if t == agent.WildcardEventType {
			clear(set)
			break
		}
		set[t] = true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[agentID] = subscription{agentID: agentID, eventTypes: set}
}

// Unsubscribe removes agentID.
func (b *Bus) Unsubscribe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, agentID)
}

// Publish delivers event to every subscriber other than its source and
// completes pending requests waiting on its correlation id. Delivery is
// asynchronous and outlives ctx's cancellation.
func (b *Bus) Publish(ctx context.Context, event agent.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	if event.CorrelationID != "" {
		for _, w := range b.waiters[event.CorrelationID] {
			if event.SourceAgentID == w.requester {
				continue
			}
			select {
			case w.reply <- event:
			default:
			}
		}
	}

	for _, sub := range b.subs {
		if sub.agentID == event.SourceAgentID {
			continue
		}
		if len(sub.eventTypes) > 0 && !sub.eventTypes[event.Type] {
			continue
		}
		b.deliverAsync(ctx, sub.agentID, event)
	}
	return nil
}

// Request publishes event and waits for the first event from another agent
// carrying the same correlation id.
func (b *Bus) Request(ctx context.Context, event agent.Event, timeout time.Duration) (agent.Event, error) {
	if event.CorrelationID == "" {
		event.CorrelationID = agent.NewID()
	}
	w := &waiter{requester: event.SourceAgentID, reply: make(chan agent.Event, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return agent.Event{}, ErrBusClosed
	}
	b.waiters[event.CorrelationID] = append(b.waiters[event.CorrelationID], w)
	b.mu.Unlock()
	defer b.removeWaiter(event.CorrelationID, w)

	if err := b.Publish(ctx, event); err != nil {
		return agent.Event{}, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case reply := <-w.reply:
		return reply, nil
	case <-ctx.Done():
		return agent.Event{}, oops.In("bus").
			With("event_type", event.Type).
			With("correlation_id", event.CorrelationID).
			Wrapf(ctx.Err(), "request %s", event.Type)
	}
}

func (b *Bus) removeWaiter(correlationID string, w *waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ws := b.waiters[correlationID]
	for i, candidate := range ws {
		if candidate == w {
			ws = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(ws) == 0 {
		delete(b.waiters, correlationID)
		return
	}
	b.waiters[correlationID] = ws
}

// Close rejects further publishing and waits for in-flight deliveries.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) deliverAsync(ctx context.Context, agentID string, event agent.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()

		err := b.target.Dispatch(ctx, agentID, event)
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded):
			b.logger.Warn("agent event delivery timed out",
				"agent", agentID,
				"event_type", event.Type,
				"correlation_id", event.CorrelationID,
				"timeout", b.timeout.String())
		case errors.Is(err, context.Canceled):
			b.logger.Debug("agent event delivery canceled",
				"agent", agentID,
				"event_type", event.Type)
		default:
			b.logger.Error("failed to deliver event to agent",
				"agent", agentID,
				"event_type", event.Type,
				"correlation_id", event.CorrelationID,
				"error", err)
		}
	}()
}
