// Package agent drives AI provider workers: one AgentSession per logical
// worker (main, window, or ephemeral), pooled and owned per session by an
// AgentPool.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"canopy/internal/actionbus"
	"canopy/internal/contexttape"
	"canopy/internal/osaction"
	"canopy/internal/provider"
	"canopy/internal/transport"
	"canopy/pkg/logger"
)

// ThreadStore persists the provider thread id associated with a canonical
// agent name, so a restart (or a fresh ephemeral agent) can resume the
// same conversation the provider remembers.
type ThreadStore interface {
	SaveThread(canonicalAgent, threadID string)
	LoadThread(canonicalAgent string) (threadID string, ok bool)
	DeleteThread(canonicalAgent string)
}

// EmitFunc publishes one outbound event for the session that owns this
// agent; the caller (LiveSession) stamps it with a sequence number and
// fans it out.
type EmitFunc func(tag transport.OutboundTag, payload any)

// HandleOptions carries the per-turn parameters of handleMessage.
type HandleOptions struct {
	Role                 string
	Source               contexttape.Source
	MessageID            string
	Interactions         []osaction.Interaction
	ForkSession          bool
	ParentThreadID       string
	ResumeThreadID       string // consulted only on the agent's first turn
	MonitorID            string
	AllowedTools         []string
	SystemPromptOverride string
	CanonicalAgent       string // stable name used for thread-id persistence
	SkipTapeAppend       bool   // ephemeral turns: do not record into the shared tape
}

// Session drives one logical AI worker against one provider thread.
type Session struct {
	mu         sync.Mutex
	provider   provider.Provider
	threadID   string
	role       string
	instanceID string
	running    bool
	currentMessageID string
	recordedActions  []osaction.Action
	cancel     context.CancelFunc

	bus     *actionbus.Bus
	tape    *contexttape.Tape
	emit    EmitFunc
	threads ThreadStore
	hub     *provider.Hub
}

// New creates a Session identified by instanceID and subscribes it to the
// process-wide action bus under that id. hub may be nil, in which case the
// session does not serialize its turns against any other session's use of
// the same provider.
func New(instanceID string, bus *actionbus.Bus, tape *contexttape.Tape, emit EmitFunc, threads ThreadStore, hub *provider.Hub) *Session {
	s := &Session{
		instanceID: instanceID,
		bus:        bus,
		tape:       tape,
		emit:       emit,
		threads:    threads,
		hub:        hub,
	}
	bus.Subscribe(instanceID, &actionbus.Handler{
		ID:       instanceID,
		Priority: 0,
		Func:     s.onBusAction,
	})
	return s
}

// InstanceID returns the agent instance id this session subscribes under.
func (s *Session) InstanceID() string { return s.instanceID }

// Running reports whether a turn is currently in flight.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ThreadID returns the provider thread id this agent currently holds.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Initialize attaches a provider; warmThreadID, if non-empty, lets the
// agent resume a prior thread immediately instead of waiting for
// handleMessage's first-turn resume logic.
func (s *Session) Initialize(p provider.Provider, warmThreadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = p
	if warmThreadID != "" {
		s.threadID = warmThreadID
	}
}

// onBusAction receives a published Action; only those addressed to this
// agent's own instance id reach here (actionbus.Bus filters by key).
func (s *Session) onBusAction(a actionbus.Action) {
	action, ok := a.Payload.(osaction.Action)
	if !ok {
		return
	}
	s.mu.Lock()
	s.recordedActions = append(s.recordedActions, action)
	role := s.role
	s.mu.Unlock()

	action.AgentID = role
	s.emit(transport.TagActions, []osaction.Action{action})
}

// HandleMessage runs one turn to completion, interruption, or error.
// AGENT_THINKING (possibly empty) is emitted before the provider is
// engaged; AGENT_RESPONSE{isComplete:true} is emitted on every exit path
// once the turn has started. With no provider attached it returns an error
// before emitting anything.
func (s *Session) HandleMessage(ctx context.Context, prompt string, opts HandleOptions) error {
	s.mu.Lock()
	if s.provider == nil {
		s.mu.Unlock()
		return fmt.Errorf("agent %s: no provider attached", s.instanceID)
	}
	s.role = opts.Role
	s.currentMessageID = opts.MessageID
	s.recordedActions = nil
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
		s.emit(transport.TagAgentResponse, agentResponsePayload(opts.MessageID, "", true, opts.MonitorID))
	}()

	s.emit(transport.TagAgentThinking, agentThinkingPayload("", opts.MonitorID))

	threadID := s.resolveThreadID(opts)
	req := provider.ChatRequest{
		Messages:       []provider.Message{{Role: "user", Content: prompt}},
		ConversationID: threadID,
		Stream:         true,
	}

	s.mu.Lock()
	prov := s.provider
	s.mu.Unlock()

	if s.hub != nil {
		lock := s.hub.TurnLock(prov.Name())
		if err := lock.Acquire(runCtx); err != nil {
			s.emit(transport.TagError, errorPayload(err.Error(), opts.MonitorID))
			return err
		}
		defer lock.Release()
	}

	events, err := prov.Stream(runCtx, req)
	if err != nil {
		logger.Warn().Err(err).Str("agent", s.instanceID).Msg("provider stream failed to start")
		s.emit(transport.TagError, providerErrorPayload(err, opts.MonitorID))
		return err
	}

	var responseText, thinkingText string
	for ev := range events {
		switch {
		case ev.Error != nil:
			logger.Warn().Err(ev.Error).Str("agent", s.instanceID).Msg("provider stream error")
			s.emit(transport.TagError, providerErrorPayload(ev.Error, opts.MonitorID))
			return ev.Error
		case ev.Thinking != "":
			thinkingText += ev.Thinking
			s.emit(transport.TagAgentThinking, agentThinkingPayload(thinkingText, opts.MonitorID))
		case ev.ToolCall != nil:
			s.emit(transport.TagToolProgress, toolProgressPayload(ev.ToolCall.Name, "running", opts.MonitorID))
		case ev.ToolCallUpdate != nil && ev.ToolCallUpdate.Status == "completed":
			s.emit(transport.TagToolProgress, toolProgressPayload(ev.ToolCallUpdate.Name, "complete", opts.MonitorID))
		case ev.Delta != "":
			responseText += ev.Delta
			s.emit(transport.TagAgentResponse, agentResponsePayload(opts.MessageID, responseText, false, opts.MonitorID))
		}
	}

	if runCtx.Err() != nil {
		s.emit(transport.TagError, errorPayload("Turn was interrupted", opts.MonitorID))
	}

	if responseText != "" && !opts.SkipTapeAppend {
		s.tape.AppendAssistant(responseText, opts.Source)
	}

	s.persistThread(opts.CanonicalAgent, threadID)
	return nil
}

// resolveThreadID decides what ConversationID to send: a warm thread
// already held, else the saved thread for the canonical agent (first turn
// only), else a freshly minted one.
func (s *Session) resolveThreadID(opts HandleOptions) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.threadID != "" {
		return s.threadID
	}
	if opts.ResumeThreadID != "" {
		s.threadID = opts.ResumeThreadID
		return s.threadID
	}
	if opts.CanonicalAgent != "" && s.threads != nil {
		if saved, ok := s.threads.LoadThread(opts.CanonicalAgent); ok {
			s.threadID = saved
			return s.threadID
		}
	}
	s.threadID = uuid.NewString()
	return s.threadID
}

func (s *Session) persistThread(canonicalAgent, threadID string) {
	if canonicalAgent == "" || s.threads == nil {
		return
	}
	s.threads.SaveThread(canonicalAgent, threadID)
}

// Steer injects content mid-turn if the provider supports it. No wired
// provider currently supports mid-turn injection, so this is always a
// no-op returning false until one is wired in.
func (s *Session) Steer(content string) bool {
	return false
}

// Interrupt stops the in-flight turn, if any.
func (s *Session) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
}

// SetProvider replaces the current provider with p and clears the thread
// id so the next turn starts fresh against p.
func (s *Session) SetProvider(p provider.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = p
	s.threadID = ""
}

// RecordedActions returns the actions folded in via the action bus during
// the most recently completed turn.
func (s *Session) RecordedActions() []osaction.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]osaction.Action(nil), s.recordedActions...)
}

// Cleanup unsubscribes the agent from the action bus. Safe to call more
// than once.
func (s *Session) Cleanup() {
	s.bus.Unsubscribe(s.instanceID, s.instanceID)
}

func agentThinkingPayload(content, monitorID string) map[string]any {
	p := map[string]any{"content": content}
	addMonitor(p, monitorID)
	return p
}

func agentResponsePayload(messageID, content string, isComplete bool, monitorID string) map[string]any {
	p := map[string]any{"messageId": messageID, "content": content, "isComplete": isComplete}
	addMonitor(p, monitorID)
	return p
}

func toolProgressPayload(toolName, status, monitorID string) map[string]any {
	p := map[string]any{"toolName": toolName, "status": status}
	addMonitor(p, monitorID)
	return p
}

func errorPayload(message, monitorID string) map[string]any {
	p := map[string]any{"message": message}
	addMonitor(p, monitorID)
	return p
}

// providerErrorPayload classifies err the way the provider's own error
// codes intend: a context-window overflow and a flagged-retryable error are
// surfaced distinctly so the UI can decide whether to offer a retry.
func providerErrorPayload(err error, monitorID string) map[string]any {
	p := map[string]any{
		"message":            err.Error(),
		"contextWindowError": provider.IsContextWindowExceeded(err),
		"retryable":          provider.IsRetryable(err),
	}
	addMonitor(p, monitorID)
	return p
}

// addMonitor tags a payload with its originating monitor so LiveSession.broadcast
// can route it with PublishToMonitor instead of fanning out to the whole
// session; omitted (main/monitor-0 turns carry no distinguishing monitor).
func addMonitor(p map[string]any, monitorID string) {
	if monitorID != "" && monitorID != "monitor-0" {
		p["monitorId"] = monitorID
	}
}
