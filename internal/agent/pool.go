package agent

import (
	"fmt"
	"strings"
	"sync"

	"canopy/internal/actionbus"
	"canopy/internal/contexttape"
	"canopy/internal/limiter"
	"canopy/internal/provider"
)

// MaxMonitorAgents bounds the number of main agents a pool may hold, one
// per monitor.
const MaxMonitorAgents = 4

// Pool owns every agent instance for one session: a main agent per
// monitor, persistent per-window (or per-group) agents, and a bounded set
// of ephemeral agents gated by a process-wide limiter.
type Pool struct {
	mu         sync.Mutex
	mainAgents map[string]*Session // monitorId -> agent
	windowAgents map[string]*Session // agentKey -> agent
	ephemerals map[*Session]bool

	bus       *actionbus.Bus
	tape      *contexttape.Tape
	emit      EmitFunc
	threads   ThreadStore
	ephemeral *limiter.Semaphore
	hub       *provider.Hub

	sessionSeq int
}

// New creates an empty Pool. ephemeralLimiter bounds process-wide
// concurrent ephemeral agents (shared across every session's pool).
// providerHub is shared process-wide too, so an agent in this session and
// an agent in any other session attached to the same provider never turn
// at the same time; it may be nil to skip that serialization.
func New(bus *actionbus.Bus, tape *contexttape.Tape, emit EmitFunc, threads ThreadStore, ephemeralLimiter *limiter.Semaphore, providerHub *provider.Hub) *Pool {
	return &Pool{
		mainAgents:   make(map[string]*Session),
		windowAgents: make(map[string]*Session),
		ephemerals:   make(map[*Session]bool),
		bus:          bus,
		tape:         tape,
		emit:         emit,
		threads:      threads,
		ephemeral:    ephemeralLimiter,
		hub:          providerHub,
	}
}

// newInstanceIDLocked mints a unique agent instance id; caller must hold
// p.mu.
func (p *Pool) newInstanceIDLocked(prefix string) string {
	p.sessionSeq++
	return fmt.Sprintf("%s-%d", prefix, p.sessionSeq)
}

func (p *Pool) newAgentLocked(prefix string) *Session {
	return New(p.newInstanceIDLocked(prefix), p.bus, p.tape, p.emit, p.threads, p.hub)
}

// CreateMainAgent creates (or replaces) the main agent for monitor-0,
// attaching provider.
func (p *Pool) CreateMainAgent(prov provider.Provider) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.newAgentLocked("main")
	s.Initialize(prov, "")
	p.mainAgents["monitor-0"] = s
	return s
}

// CreateMonitorAgent creates a main agent for an additional monitor (up to
// MaxMonitorAgents total). If monitorID is already assigned, its existing
// agent is returned; otherwise returns nil if the cap is already reached.
func (p *Pool) CreateMonitorAgent(monitorID string, prov provider.Provider) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.mainAgents[monitorID]; exists {
		return p.mainAgents[monitorID]
	}
	if len(p.mainAgents) >= MaxMonitorAgents {
		return nil
	}

	s := p.newAgentLocked("main-" + monitorID)
	s.Initialize(prov, "")
	p.mainAgents[monitorID] = s
	return s
}

// GetMainAgent returns the agent for monitorID, or nil.
func (p *Pool) GetMainAgent(monitorID string) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mainAgents[monitorID]
}

// IsMainAgentBusy reports whether monitorID's main agent exists and is
// currently running a turn.
func (p *Pool) IsMainAgentBusy(monitorID string) bool {
	p.mu.Lock()
	s, ok := p.mainAgents[monitorID]
	p.mu.Unlock()
	return ok && s.Running()
}

// HasMainAgent reports whether monitorID has an assigned main agent.
func (p *Pool) HasMainAgent(monitorID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.mainAgents[monitorID]
	return ok
}

// GetOrCreateWindowAgent lazily creates the persistent agent for agentKey
// (a window id, or its group's root id).
func (p *Pool) GetOrCreateWindowAgent(agentKey string, prov provider.Provider) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.windowAgents[agentKey]; ok {
		return s
	}
	s := p.newAgentLocked("window-" + agentKey)
	s.Initialize(prov, "")
	p.windowAgents[agentKey] = s
	return s
}

// DisposeWindowAgent tears down and removes the agent for agentKey, if any.
func (p *Pool) DisposeWindowAgent(agentKey string) {
	p.mu.Lock()
	s, ok := p.windowAgents[agentKey]
	if ok {
		delete(p.windowAgents, agentKey)
	}
	p.mu.Unlock()
	if ok {
		s.Cleanup()
	}
}

// CreateEphemeral creates a one-shot agent gated by the process-wide
// ephemeral limiter; returns nil when the limiter is exhausted.
func (p *Pool) CreateEphemeral(prov provider.Provider) *Session {
	if !p.ephemeral.TryAcquire() {
		return nil
	}

	p.mu.Lock()
	s := p.newAgentLocked("ephemeral")
	s.Initialize(prov, "")
	p.ephemerals[s] = true
	p.mu.Unlock()
	return s
}

// DisposeEphemeral tears down and releases an ephemeral agent's limiter
// slot.
func (p *Pool) DisposeEphemeral(s *Session) {
	p.mu.Lock()
	_, ok := p.ephemerals[s]
	delete(p.ephemerals, s)
	p.mu.Unlock()
	if ok {
		s.Cleanup()
		p.ephemeral.Release()
	}
}

// HasRolePrefix reports whether any agent (main, window, or ephemeral)
// currently has a role starting with prefix.
func (p *Pool) HasRolePrefix(prefix string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.allLocked() {
		s.mu.Lock()
		role := s.role
		s.mu.Unlock()
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

// InterruptAll interrupts every agent held by the pool.
func (p *Pool) InterruptAll() {
	p.mu.Lock()
	agents := p.allLocked()
	p.mu.Unlock()
	for _, s := range agents {
		s.Interrupt()
	}
}

// InterruptByRole interrupts every agent whose current role equals role.
func (p *Pool) InterruptByRole(role string) {
	p.mu.Lock()
	agents := p.allLocked()
	p.mu.Unlock()
	for _, s := range agents {
		s.mu.Lock()
		match := s.role == role
		s.mu.Unlock()
		if match {
			s.Interrupt()
		}
	}
}

// allLocked returns every agent the pool holds; caller must hold p.mu.
func (p *Pool) allLocked() []*Session {
	out := make([]*Session, 0, len(p.mainAgents)+len(p.windowAgents)+len(p.ephemerals))
	for _, s := range p.mainAgents {
		out = append(out, s)
	}
	for _, s := range p.windowAgents {
		out = append(out, s)
	}
	for s := range p.ephemerals {
		out = append(out, s)
	}
	return out
}

// Cleanup tears down every agent the pool holds and resets it to empty.
func (p *Pool) Cleanup() {
	p.mu.Lock()
	agents := p.allLocked()
	ephemeralCount := len(p.ephemerals)
	p.mainAgents = make(map[string]*Session)
	p.windowAgents = make(map[string]*Session)
	p.ephemerals = make(map[*Session]bool)
	p.mu.Unlock()

	for _, s := range agents {
		s.Cleanup()
	}
	for i := 0; i < ephemeralCount; i++ {
		p.ephemeral.Release()
	}
}
