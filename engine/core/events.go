package core

import (
	"sync"

	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

// EventContext is the payload handed to listeners.
type EventContext struct {
	Shader    string
	RequestID string
	State     metadata.ShaderState
	// Stage is set when the event concerns a single stage.
	Stage metadata.ShaderStage
	Err   error
}

// Shader pipeline event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// A load moved to a new state. Context usage: State, Stage (when per stage).
	EVENT_CODE_SHADER_STATE_CHANGED SystemEventCode = 0x01

	// A load finished in the Ready state.
	EVENT_CODE_SHADER_READY SystemEventCode = 0x02

	// A load stopped in a failure state. Context usage: State, Stage, Err.
	EVENT_CODE_SHADER_FAILED SystemEventCode = 0x03

	// A source file changed on disk. Context usage: Shader.
	EVENT_CODE_SOURCE_CHANGED SystemEventCode = 0x04

	// A source file was removed from disk. Context usage: Shader.
	EVENT_CODE_SOURCE_REMOVED SystemEventCode = 0x05

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches events to registered listeners. Each pipeline owns its
// own bus.
type EventBus struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]*registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[SystemEventCode][]*registeredEvent),
	}
}

/**
 * Register to listen for when events are sent with the provided code. A listener
 * can only be registered once per code; a duplicate returns false.
 */
func (b *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if onEvent == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.registered[code] {
		if e.listener == listener {
			return false
		}
	}
	b.registered[code] = append(b.registered[code], &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

/**
 * Unregister the listener for the code. Returns false if it was not registered.
 */
func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i:i], events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fires an event to listeners of the given code. If a handler returns true the
 * event is considered handled and is not passed on to any more listeners.
 */
func (b *EventBus) Fire(code SystemEventCode, sender interface{}, context EventContext) bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	events := make([]*registeredEvent, len(b.registered[code]))
	copy(events, b.registered[code])
	b.mu.RUnlock()

	for _, e := range events {
		if e.callback(code, sender, e.listener, context) {
			return true
		}
	}
	return false
}
