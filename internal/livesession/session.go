// Package livesession implements LiveSession, the glue object that owns one
// session's whole stack (agents, window state, context pool, reload cache)
// and routes every inbound transport event to it.
package livesession

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"canopy/internal/actionbus"
	"canopy/internal/agent"
	"canopy/internal/broadcast"
	"canopy/internal/contextpool"
	"canopy/internal/contexttape"
	"canopy/internal/limiter"
	"canopy/internal/osaction"
	"canopy/internal/provider"
	"canopy/internal/reloadcache"
	"canopy/internal/sequencer"
	"canopy/internal/storage"
	"canopy/internal/timeline"
	"canopy/internal/transport"
	"canopy/internal/windowgroup"
	"canopy/internal/windowstate"
	"canopy/pkg/logger"
)

// defaultMonitorID is the implicit monitor every session starts with.
const defaultMonitorID = "monitor-0"

// LiveSession owns C1-C11 for one session and implements transport.Router,
// dispatching every decoded inbound event against its ContextPool.
type LiveSession struct {
	ID string

	db      *storage.DB
	seq     *sequencer.Sequencer
	center  *broadcast.Center
	bus     *actionbus.Bus
	windows *windowstate.Registry
	groups  *windowgroup.Policy
	tape    *contexttape.Tape
	tl      *timeline.Timeline
	reload  *reloadcache.Cache
	threads agent.ThreadStore
	agents  *agent.Pool
	pool    *contextpool.Pool

	providers *provider.Pool

	mu sync.Mutex
}

// New wires a fresh LiveSession identified by id. db may be nil for a
// transient, unpersisted session (tests, or remote-less ephemeral use).
// providers resolves model names to a provider.Provider for SET_PROVIDER and
// the session's initial provider. ephemeralLimiter and providerHub are
// shared process-wide; providerHub may be nil to skip turn serialization.
func New(id string, db *storage.DB, providers *provider.Pool, ephemeralLimiter *limiter.Semaphore, providerHub *provider.Hub, center *broadcast.Center, seq *sequencer.Sequencer, initialModel string) (*LiveSession, error) {
	prov, err := providers.GetOrDefault(initialModel, "chat")
	if err != nil {
		return nil, fmt.Errorf("live session %s: resolve initial provider: %w", id, err)
	}

	bus := actionbus.New()
	tape := contexttape.New()
	tl := timeline.New()
	windows := windowstate.New()
	groups := windowgroup.New()
	reload := reloadcache.New(id, db)
	if err := reload.Load(); err != nil {
		logger.Warn().Err(err).Str("session_id", id).Msg("failed to load reload cache from disk")
	}

	var threads agent.ThreadStore
	if db != nil {
		threads = agent.NewDBThreadStore(id, db)
	}

	ls := &LiveSession{
		ID:        id,
		db:        db,
		seq:       seq,
		center:    center,
		bus:       bus,
		windows:   windows,
		groups:    groups,
		tape:      tape,
		tl:        tl,
		reload:    reload,
		threads:   threads,
		providers: providers,
	}

	ls.agents = agent.New(bus, tape, ls.emit, threads, ephemeralLimiter, providerHub)
	ls.pool = contextpool.New(id, ls.agents, reload, tl, tape, windows, groups, threads, ls.emit, prov)
	windows.SetOnWindowClose(ls.pool.HandleWindowClose)

	ls.restoreSnapshot()
	return ls, nil
}

func (ls *LiveSession) emit(tag transport.OutboundTag, payload any) {
	ls.broadcast(transport.OutboundMessage{Tag: tag, Payload: payload})
}

// broadcast stamps event via the sequencer and publishes it by monitor if the
// payload carries one, else by session.
func (ls *LiveSession) broadcast(msg transport.OutboundMessage) {
	stamped := ls.seq.Stamp(msg)
	msg.Seq = stamped.Seq

	if payload, ok := msg.Payload.(map[string]any); ok {
		if monitorID, ok := payload["monitorId"].(string); ok && monitorID != "" {
			ls.center.PublishToMonitor(ls.ID, monitorID, msg)
			return
		}
	}
	ls.center.PublishToSession(ls.ID, msg)
}

// Route implements transport.Router: the single dispatch switch for every
// inbound tag this session understands.
func (ls *LiveSession) Route(connID string, msg transport.InboundMessage) {
	switch msg.Tag {
	case transport.TagUserMessage:
		ls.handleUserMessage(msg)
	case transport.TagWindowMessage:
		ls.handleWindowMessage(msg)
	case transport.TagComponentAction:
		ls.handleComponentAction(msg)
	case transport.TagInterrupt:
		ls.agents.InterruptAll()
	case transport.TagInterruptAgent:
		ls.agents.InterruptByRole(msg.AgentID)
	case transport.TagReset:
		ls.pool.Reset()
	case transport.TagSetProvider:
		ls.handleSetProvider(msg)
	case transport.TagRenderingFeedback, transport.TagDialogFeedback, transport.TagAppProtocolResp:
		ls.resolveToolWait(msg)
	case transport.TagToastAction:
		ls.handleToastAction(msg)
	case transport.TagUserInteraction:
		ls.handleUserInteraction(msg)
	case transport.TagAppProtocolReady:
		ls.handleAppProtocolReady(msg)
	case transport.TagSubscribeMonitor:
		ls.center.SubscribeToMonitor(connID, msg.MonitorID)
	default:
		logger.Warn().Str("session_id", ls.ID).Str("tag", string(msg.Tag)).Msg("unhandled inbound tag")
	}
}

func (ls *LiveSession) handleUserMessage(msg transport.InboundMessage) {
	monitorID := msg.MonitorID
	if monitorID == "" {
		monitorID = defaultMonitorID
	}
	if monitorID != defaultMonitorID && !ls.agents.HasMainAgent(monitorID) {
		ls.agents.CreateMonitorAgent(monitorID, ls.pool.CurrentProvider())
	}

	ls.pool.SubmitMainTask(context.Background(), contextpool.Task{
		Kind:         contextpool.KindMain,
		MessageID:    msg.MessageID,
		Content:      msg.Content,
		Interactions: convertInteractions(msg.Interactions),
		MonitorID:    monitorID,
	})
}

func (ls *LiveSession) handleWindowMessage(msg transport.InboundMessage) {
	ls.pool.SubmitWindowTask(context.Background(), contextpool.Task{
		Kind:      contextpool.KindWindow,
		MessageID: msg.MessageID,
		WindowID:  msg.WindowID,
		Content:   msg.Content,
	})
}

func (ls *LiveSession) handleComponentAction(msg transport.InboundMessage) {
	content := fmt.Sprintf("<user_interaction:click>button %q in window %q</user_interaction:click>", msg.Action, msg.WindowTitle)
	if msg.ComponentPath != "" {
		content += fmt.Sprintf("\ncomponent: %s", msg.ComponentPath)
	}
	if len(msg.FormData) > 0 {
		content += fmt.Sprintf("\nform %s data: %s", msg.FormID, string(msg.FormData))
	}

	ls.pool.SubmitWindowTask(context.Background(), contextpool.Task{
		Kind:      contextpool.KindWindow,
		MessageID: msg.MessageID,
		WindowID:  msg.WindowID,
		Content:   content,
		ActionID:  msg.ActionID,
	})
}

func (ls *LiveSession) handleSetProvider(msg transport.InboundMessage) {
	prov, err := ls.providers.Get(msg.Provider)
	if err != nil {
		ls.emit(transport.TagError, map[string]any{"message": fmt.Sprintf("unknown provider %q: %v", msg.Provider, err)})
		return
	}
	ls.pool.SetProvider(prov)
}

// resolveToolWait publishes the feedback event on the action bus under its
// correlating id, waking whichever tool call registered a handler there.
func (ls *LiveSession) resolveToolWait(msg transport.InboundMessage) {
	key := msg.RequestID
	if key == "" {
		key = msg.DialogID
	}
	if key == "" {
		logger.Warn().Str("session_id", ls.ID).Str("tag", string(msg.Tag)).Msg("feedback event missing correlation id")
		return
	}
	ls.bus.Publish(key, msg)
}

func (ls *LiveSession) handleToastAction(msg transport.InboundMessage) {
	if _, err := ls.reload.MarkFailed(msg.EventID); err != nil {
		logger.Warn().Err(err).Str("session_id", ls.ID).Str("event_id", msg.EventID).Msg("failed to mark reload cache entry failed")
	}
}

func (ls *LiveSession) handleUserInteraction(msg transport.InboundMessage) {
	for _, ui := range msg.Interactions {
		logger.Info().Str("session_id", ls.ID).Str("kind", ui.Kind).Msg("user interaction")

		interaction := osaction.Interaction{
			Kind:        osaction.InteractionKind(ui.Kind),
			Timestamp:   time.Now().UnixMilli(),
			WindowID:    ui.WindowID,
			WindowTitle: ui.WindowTitle,
			Bounds:      ui.Bounds,
			Details:     ui.Data,
		}

		switch interaction.Kind {
		case osaction.InteractionWindowClose:
			ls.windows.HandleAction(osaction.Action{Kind: osaction.KindWindowClose, WindowID: interaction.WindowID})
		case osaction.InteractionWindowMove:
			act := osaction.Action{Kind: osaction.KindWindowMove, WindowID: interaction.WindowID}
			if interaction.Bounds != nil {
				act.X, act.Y = interaction.Bounds.X, interaction.Bounds.Y
			}
			ls.windows.HandleAction(act)
		case osaction.InteractionWindowResize:
			act := osaction.Action{Kind: osaction.KindWindowResize, WindowID: interaction.WindowID}
			if interaction.Bounds != nil {
				act.W, act.H = interaction.Bounds.W, interaction.Bounds.H
			}
			ls.windows.HandleAction(act)
		}

		if interaction.Kind != osaction.InteractionDraw {
			ls.tl.PushUser(interaction)
		}
	}
}

func (ls *LiveSession) handleAppProtocolReady(msg transport.InboundMessage) {
	w := ls.windows.GetWindow(msg.WindowID)
	wasReady := w != nil && w.AppProtocol
	ls.windows.SetAppProtocol(msg.WindowID)

	if wasReady {
		for _, cmd := range ls.windows.GetAppCommands(msg.WindowID) {
			ls.emit(transport.TagAppProtocolRequest, map[string]any{
				"requestId": uuid.NewString(),
				"windowId":  msg.WindowID,
				"payload":   cmd,
			})
		}
	}
}

// GenerateSnapshot emits synthetic window.create actions for every live
// window, for a newly joining connection to rebuild UI state from.
func (ls *LiveSession) GenerateSnapshot(connID string) {
	var actions []osaction.Action
	for _, w := range ls.windows.ListWindows() {
		b := w.Bounds
		actions = append(actions, osaction.Action{
			Kind: osaction.KindWindowCreate, WindowID: w.ID, Title: w.Title, Bounds: &b,
		})
	}
	if len(actions) == 0 {
		return
	}
	msg := transport.OutboundMessage{Tag: transport.TagActions, Payload: actions}
	stamped := ls.seq.Stamp(msg)
	msg.Seq = stamped.Seq
	ls.center.PublishToConnection(msg, connID)
}

// Cleanup tears down the session's ContextPool, releasing every agent and
// clearing in-memory state. The session itself is removed from SessionHub by
// the caller.
func (ls *LiveSession) Cleanup() {
	ls.pool.Cleanup()
	ls.bus.Clear()
}

// Persist writes the session's window list and tape to its snapshot row, for
// a later restore.
func (ls *LiveSession) Persist() {
	if ls.db == nil {
		return
	}
	windows := ls.windows.ListWindows()
	actions := make([]osaction.Action, len(windows))
	for i, w := range windows {
		b := w.Bounds
		actions[i] = osaction.Action{Kind: osaction.KindWindowCreate, WindowID: w.ID, Title: w.Title, Bounds: &b}
	}

	windowsJSON, err := json.Marshal(actions)
	if err != nil {
		logger.Warn().Err(err).Str("session_id", ls.ID).Msg("failed to marshal windows for snapshot")
		return
	}
	tapeJSON, err := json.Marshal(ls.tape.Messages())
	if err != nil {
		logger.Warn().Err(err).Str("session_id", ls.ID).Msg("failed to marshal tape for snapshot")
		return
	}

	if err := ls.db.SaveSessionSnapshot(storage.SessionSnapshot{SessionID: ls.ID, Windows: windowsJSON, Tape: tapeJSON}); err != nil {
		logger.Warn().Err(err).Str("session_id", ls.ID).Msg("failed to persist session snapshot")
	}
}

func (ls *LiveSession) restoreSnapshot() {
	if ls.db == nil {
		return
	}
	snap, err := ls.db.LoadSessionSnapshot(ls.ID)
	if err != nil {
		return
	}

	var actions []osaction.Action
	if err := json.Unmarshal(snap.Windows, &actions); err == nil {
		ls.windows.RestoreFromActions(actions)
	}

	var messages []contexttape.Message
	if err := json.Unmarshal(snap.Tape, &messages); err == nil {
		ls.tape.Restore(messages)
	}
}

func convertInteractions(in []transport.UserInteraction) []osaction.Interaction {
	if len(in) == 0 {
		return nil
	}
	out := make([]osaction.Interaction, len(in))
	for i, ui := range in {
		out[i] = osaction.Interaction{
			Kind:        osaction.InteractionKind(ui.Kind),
			Timestamp:   time.Now().UnixMilli(),
			WindowID:    ui.WindowID,
			WindowTitle: ui.WindowTitle,
			Bounds:      ui.Bounds,
			Details:     ui.Data,
		}
	}
	return out
}
