// Package events provides the in-process typed publish/subscribe bus
// the monitor uses to notify the rest of the application about run
// lifecycle changes.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"agentdeck/internal/types"
	"agentdeck/log"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventRunCreated   EventType = "run.created"
	EventRunUpdated   EventType = "run.updated"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"
	EventRunPaused    EventType = "run.paused"
	EventRunResumed   EventType = "run.resumed"
	EventError        EventType = "error"
)

// Event is the envelope delivered to listeners. Run is the fetched
// representation for lifecycle events and nil for Error events, which
// carry the failing run/org ids and the error instead.
type Event struct {
	Type           EventType        `json:"type"`
	Run            *types.RunRecord `json:"run,omitempty"`
	RunId          string           `json:"run_id"`
	OrganizationId string           `json:"organization_id"`
	Err            error            `json:"-"`
	ErrMessage     string           `json:"error,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Listener receives published events. Listeners run synchronously on
// the publisher's goroutine, in subscription order.
type Listener func(Event)

// Subscription identifies a registered listener for removal. Go
// functions are not comparable, so removal is by handle rather than by
// callback value.
type Subscription struct {
	eventType EventType
	id        uint64
}

type registration struct {
	id uint64
	fn Listener
}

// Bus is a process-scoped typed pub/sub mechanism. There is no queuing
// or replay: listeners subscribed after an event fired never see it.
type Bus struct {
	mu        sync.RWMutex
	listeners map[EventType][]registration
	nextId    uint64
}

func NewBus() *Bus {
	return &Bus{
		listeners: make(map[EventType][]registration),
	}
}

// AddEventListener registers fn for events of the given type and
// returns the handle to remove it later. Multiple listeners per type
// are supported and invoked in subscription order.
func (b *Bus) AddEventListener(eventType EventType, fn Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextId++
	b.listeners[eventType] = append(b.listeners[eventType], registration{id: b.nextId, fn: fn})
	return Subscription{eventType: eventType, id: b.nextId}
}

// RemoveEventListener unregisters a listener. Removing an already
// removed subscription is a no-op.
func (b *Bus) RemoveEventListener(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.listeners[sub.eventType]
	for i, reg := range regs {
		if reg.id == sub.id {
			b.listeners[sub.eventType] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to every listener of its type,
// synchronously and in subscription order. A panicking listener is
// isolated and logged so it cannot starve the remaining listeners or
// propagate into the publisher.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Err != nil {
		event.ErrMessage = event.Err.Error()
	}

	b.mu.RLock()
	regs := make([]registration, len(b.listeners[event.Type]))
	copy(regs, b.listeners[event.Type])
	b.mu.RUnlock()

	for _, reg := range regs {
		b.invoke(reg.fn, event)
	}
}

func (b *Bus) invoke(fn Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.GetLogger().Error("[EventBus] listener panicked",
				zap.String("event_type", string(event.Type)),
				zap.String("run_id", event.RunId),
				zap.Any("panic", r))
		}
	}()
	fn(event)
}
