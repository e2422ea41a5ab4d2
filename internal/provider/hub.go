// Package provider defines the LLM provider interface and types.
package provider

import (
	"sync"

	"canopy/internal/limiter"
)

// Hub is the process-wide owner of one TurnLock per provider-process
// identity (a provider name, e.g. "ollama:llama3"). Every AgentSession that
// attaches to the same provider shares the same lock, so concurrent agents
// across every session never send two turns into the same provider
// subprocess at once.
type Hub struct {
	mu    sync.Mutex
	locks map[string]*limiter.TurnLock
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{locks: make(map[string]*limiter.TurnLock)}
}

// TurnLock returns providerName's lock, creating it on first use.
func (h *Hub) TurnLock(providerName string) *limiter.TurnLock {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.locks[providerName]
	if !ok {
		l = limiter.NewTurnLock()
		h.locks[providerName] = l
	}
	return l
}
