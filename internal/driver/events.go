package driver

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"zwave-go-home/internal/cc"
	"zwave-go-home/internal/store"
)

// Event types
const (
	EventCommandReceived = "command_received"
	EventDecodeError     = "decode_error"
	EventValueUpdated    = "value_updated"
	EventWakeUp          = "wake_up"
)

// Event is one driver event. NodeID is the node it concerns; Data holds one
// of the *Event payload types below.
type Event struct {
	Type   string `json:"type"`
	NodeID uint8  `json:"node_id"`
	Data   any    `json:"data"`
}

// CommandEvent is the data of EventCommandReceived.
type CommandEvent struct {
	NodeID    uint8      `json:"node_id"`
	ClassID   uint8      `json:"class_id"`
	CommandID uint8      `json:"command_id"`
	Name      string     `json:"name"`
	Command   cc.Command `json:"command"`
}

// DecodeErrorEvent is the data of EventDecodeError.
type DecodeErrorEvent struct {
	NodeID    uint8  `json:"node_id"`
	ClassID   uint8  `json:"class_id"`
	CommandID uint8  `json:"command_id"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
}

// ValueEvent is the data of EventValueUpdated. Only public values are emitted.
type ValueEvent struct {
	NodeID uint8 `json:"node_id"`
	store.ValueRecord
}

// WakeUpEvent is the data of EventWakeUp. A sleeping node is listening
// until it is sent No More Information.
type WakeUpEvent struct {
	NodeID uint8     `json:"node_id"`
	At     time.Time `json:"at"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventFilter selects the events a subscriber receives. Empty Types matches
// every type and a zero NodeID matches every node.
type EventFilter struct {
	Types  []string
	NodeID uint8
}

// Match reports whether e passes the filter.
func (f EventFilter) Match(e Event) bool {
	if f.NodeID != 0 && f.NodeID != e.NodeID {
		return false
	}
	return len(f.Types) == 0 || slices.Contains(f.Types, e.Type)
}

type subscription struct {
	filter  EventFilter
	handler EventHandler
}

// EventBus fans driver events out to subscribers in subscription order.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64
	logger *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		subs:   make(map[uint64]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for events matching filter and returns the
// function that removes it.
func (eb *EventBus) Subscribe(filter EventFilter, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.subs[id] = subscription{filter: filter, handler: handler}
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.subs, id)
	}
}

// On subscribes to a single event type.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	return eb.Subscribe(EventFilter{Types: []string{eventType}}, handler)
}

// OnAll subscribes to every event.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	return eb.Subscribe(EventFilter{}, handler)
}

// Emit delivers event synchronously. A panicking handler is logged and the
// remaining handlers still run.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	var handlers []EventHandler
	for _, id := range slices.Sorted(maps.Keys(eb.subs)) {
		if s := eb.subs[id]; s.filter.Match(event) {
			handlers = append(handlers, s.handler)
		}
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		eb.call(h, event)
	}
}

func (eb *EventBus) call(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "type", event.Type, "node", event.NodeID, "panic", r)
		}
	}()
	h(event)
}
