// Package actionbus is the process-wide channel tools use to emit OSActions
// out-of-band of the stream mapping loop. AgentSession subscribes once at
// construction under its own instance id; a tool handler running on any
// goroutine publishes against that same id and the action reaches exactly
// that agent.
package actionbus

import (
	"sort"
	"sync"
)

// Action is the payload published on the bus: an OSAction plus the instance
// id of the agent that should receive it.
type Action struct {
	InstanceID string
	Payload    any
}

// Handler receives actions published for the instance id it was registered
// under.
type Handler struct {
	ID       string
	Priority int
	Func     func(Action)
}

// Bus routes published actions to the handlers registered for their
// instance id, highest priority first.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]*Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]*Handler)}
}

// Subscribe registers handler under instanceID. Registering a second
// handler with the same ID under the same instance id replaces it.
func (b *Bus) Subscribe(instanceID string, handler *Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing := b.handlers[instanceID]
	for i, h := range existing {
		if h.ID == handler.ID {
			existing[i] = handler
			return
		}
	}
	b.handlers[instanceID] = append(existing, handler)
	sort.SliceStable(b.handlers[instanceID], func(i, j int) bool {
		return b.handlers[instanceID][i].Priority > b.handlers[instanceID][j].Priority
	})
}

// Unsubscribe removes handlerID from instanceID's subscriber list.
func (b *Bus) Unsubscribe(instanceID, handlerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers, ok := b.handlers[instanceID]
	if !ok {
		return
	}
	for i, h := range handlers {
		if h.ID == handlerID {
			b.handlers[instanceID] = append(handlers[:i], handlers[i+1:]...)
			if len(b.handlers[instanceID]) == 0 {
				delete(b.handlers, instanceID)
			}
			return
		}
	}
}

// Publish delivers an action to every handler subscribed under
// instanceID, in priority order. A tool may publish for an instance id with
// no subscribers (the agent has already been torn down); that is a no-op.
func (b *Bus) Publish(instanceID string, payload any) {
	b.mu.RLock()
	handlers := make([]*Handler, len(b.handlers[instanceID]))
	copy(handlers, b.handlers[instanceID])
	b.mu.RUnlock()

	action := Action{InstanceID: instanceID, Payload: payload}
	for _, h := range handlers {
		h.Func(action)
	}
}

// HasSubscribers reports whether instanceID currently has at least one
// handler registered.
func (b *Bus) HasSubscribers(instanceID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[instanceID]) > 0
}

// Clear removes every subscription; used on process shutdown in tests.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]*Handler)
}
