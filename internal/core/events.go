package core

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// MatchAll subscribes a listener to every event type.
const MatchAll = "*"

// Event types fired by the hub itself.
const (
	EventStateChanged      = "state_changed"
	EventServiceRegistered = "service_registered"
	EventServiceRemoved    = "service_removed"
	EventCallService       = "call_service"
	EventComponentLoaded   = "component_loaded"
	EventCoreConfigUpdate  = "core_config_updated"
	EventOppStart          = "openpeerpower_start"
	EventOppStarted        = "openpeerpower_started"
	EventOppStop           = "openpeerpower_stop"
)

// Origin says whether an event was raised inside this process or injected
// by a client.
type Origin string

// Event origins.
const (
	OriginLocal  Origin = "LOCAL"
	OriginRemote Origin = "REMOTE"
)

// Event is one occurrence on the bus. Data must be treated as read-only by
// listeners.
type Event struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Origin    Origin         `json:"origin"`
	TimeFired time.Time      `json:"time_fired"`
	Context   Context        `json:"context"`
}

// EventListener receives events. It runs on the firing goroutine.
type EventListener func(Event)

// EventBus is a synchronous publish/subscribe hub keyed by event type.
type EventBus struct {
	mu        sync.RWMutex
	listeners map[string]map[uint64]EventListener
	nextID    uint64
	logger    Logger
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		listeners: make(map[string]map[uint64]EventListener),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger used to report panicking listeners.
func (b *EventBus) SetLogger(logger Logger) {
	b.logger = logger
}

// Listen registers listener for eventType (or MatchAll) and returns a
// function that removes it. The returned function is safe to call more than
// once.
func (b *EventBus) Listen(eventType string, listener EventListener) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.listeners[eventType] == nil {
		b.listeners[eventType] = make(map[uint64]EventListener)
	}
	b.listeners[eventType][id] = listener
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners[eventType], id)
			if len(b.listeners[eventType]) == 0 {
				delete(b.listeners, eventType)
			}
		})
	}
}

// Fire delivers an event to the listeners registered for its type and to
// MatchAll listeners. A nil origin gets a fresh context.
func (b *EventBus) Fire(eventType string, data map[string]any, origin Origin, ctx *Context) Event {
	if data == nil {
		data = map[string]any{}
	}
	if origin == "" {
		origin = OriginLocal
	}
	event := Event{
		EventType: eventType,
		Data:      data,
		Origin:    origin,
		TimeFired: time.Now().UTC(),
		Context:   contextOrNew(ctx),
	}

	b.mu.RLock()
	targets := make([]EventListener, 0, len(b.listeners[eventType])+len(b.listeners[MatchAll]))
	for _, l := range b.listeners[eventType] {
		targets = append(targets, l)
	}
	if eventType != MatchAll {
		for _, l := range b.listeners[MatchAll] {
			targets = append(targets, l)
		}
	}
	b.mu.RUnlock()

	for _, l := range targets {
		b.invoke(l, event)
	}
	return event
}

// Listeners returns the number of listeners per event type.
func (b *EventBus) Listeners() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]int, len(b.listeners))
	for eventType, ls := range b.listeners {
		out[eventType] = len(ls)
	}
	return out
}

func (b *EventBus) invoke(l EventListener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				"event_type", event.EventType,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	l(event)
}
