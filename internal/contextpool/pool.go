package contextpool

import (
	"context"
	"fmt"
	"sync"

	"canopy/internal/agent"
	"canopy/internal/contexttape"
	"canopy/internal/osaction"
	"canopy/internal/provider"
	"canopy/internal/queue"
	"canopy/internal/reloadcache"
	"canopy/internal/timeline"
	"canopy/internal/transport"
	"canopy/internal/windowgroup"
	"canopy/internal/windowstate"
	"canopy/pkg/logger"
)

// MainQueueCapacity bounds a monitor's pending main-task queue.
const MainQueueCapacity = 10

// WindowQueueCapacity bounds a single window/group agent's pending task
// queue.
const WindowQueueCapacity = 10

// Pool is the dispatcher owning the per-session collaborators a Task is
// routed through.
type Pool struct {
	sessionID string

	Agents   *agent.Pool
	Reload   *reloadcache.Cache
	Timeline *timeline.Timeline
	Tape     *contexttape.Tape
	Windows  *windowstate.Registry
	Groups   *windowgroup.Policy
	Threads  agent.ThreadStore

	mainQueue   *queue.Policy
	windowQueue *queue.Policy

	mu       sync.Mutex
	provider provider.Provider
	emit     agent.EmitFunc

	inflight sync.WaitGroup
}

// New wires a Pool for one session. emit publishes an outbound event
// (LiveSession stamps and fans it out); initialProvider attaches to the
// default main agent created eagerly, matching LiveSession's lazy
// agent initialization.
func New(sessionID string, agents *agent.Pool, reload *reloadcache.Cache, tl *timeline.Timeline, tape *contexttape.Tape, windows *windowstate.Registry, groups *windowgroup.Policy, threads agent.ThreadStore, emit agent.EmitFunc, initialProvider provider.Provider) *Pool {
	p := &Pool{
		sessionID:   sessionID,
		Agents:      agents,
		Reload:      reload,
		Timeline:    tl,
		Tape:        tape,
		Windows:     windows,
		Groups:      groups,
		Threads:     threads,
		mainQueue:   queue.NewPolicy(MainQueueCapacity, 0),
		windowQueue: queue.NewPolicy(WindowQueueCapacity, 0),
		emit:        emit,
		provider:    initialProvider,
	}
	p.Agents.CreateMainAgent(initialProvider)
	return p
}

// SetProvider switches the active provider for future turns; existing
// agents keep running against whatever they already hold until their
// current turn completes.
func (p *Pool) SetProvider(prov provider.Provider) {
	p.mu.Lock()
	p.provider = prov
	p.mu.Unlock()
}

func (p *Pool) currentProvider() provider.Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.provider
}

// CurrentProvider returns the provider future turns will attach to, used by
// LiveSession when lazily creating an additional monitor's main agent.
func (p *Pool) CurrentProvider() provider.Provider {
	return p.currentProvider()
}

func (p *Pool) emitEvent(tag transport.OutboundTag, payload any) {
	if p.emit != nil {
		p.emit(tag, payload)
	}
}

// SubmitMainTask implements the main-task dispatch algorithm of
// ContextPool: run on an idle main agent, else an ephemeral, else enqueue.
func (p *Pool) SubmitMainTask(ctx context.Context, task Task) {
	monitorID := task.monitorID()

	if p.Agents.HasMainAgent(monitorID) && !p.Agents.IsMainAgentBusy(monitorID) {
		p.emitEvent(transport.TagMessageAccepted, map[string]any{"agentId": fmt.Sprintf("main-%s", task.MessageID)})
		p.inflight.Add(1)
		go func() {
			defer p.inflight.Done()
			p.processMainTask(ctx, task)
			p.processMainQueue(ctx, monitorID)
		}()
		return
	}

	if eph := p.Agents.CreateEphemeral(p.currentProvider()); eph != nil {
		p.emitEvent(transport.TagMessageAccepted, map[string]any{"agentId": fmt.Sprintf("ephemeral-%s", task.MessageID)})
		p.inflight.Add(1)
		go func() {
			defer p.inflight.Done()
			defer p.Agents.DisposeEphemeral(eph)
			p.processEphemeralTask(ctx, eph, task)
		}()
		return
	}

	if _, err := p.mainQueue.Enqueue(monitorID, ctx, func(taskCtx context.Context) error {
		p.processMainTask(taskCtx, task)
		p.processMainQueue(taskCtx, monitorID)
		return nil
	}); err != nil {
		logger.Warn().Err(err).Str("session_id", p.sessionID).Str("monitor_id", monitorID).
			Msg("main queue rejected task")
		p.emitEvent(transport.TagError, map[string]any{"message": "main queue is full, try again shortly"})
		return
	}
	p.emitEvent(transport.TagMessageAccepted, map[string]any{"agentId": fmt.Sprintf("main-%s", task.MessageID)})
}

// processMainQueue runs the next pending task for monitorID, if the main
// agent is free and anything is queued; queue.Policy already serializes
// this per key, so this simply lets the worker continue draining.
func (p *Pool) processMainQueue(ctx context.Context, monitorID string) {
	// queue.Policy's own worker drains its FIFO as tasks are enqueued; no
	// extra bookkeeping is required here beyond having enqueued via
	// SubmitMainTask. Kept as an explicit step and as the extension point
	// for an idle-agent requeue policy, should one be added later.
}

func (p *Pool) processMainTask(ctx context.Context, task Task) {
	monitorID := task.monitorID()
	agentSession := p.Agents.GetMainAgent(monitorID)
	if agentSession == nil {
		agentSession = p.Agents.CreateMonitorAgent(monitorID, p.currentProvider())
	}
	if agentSession == nil {
		p.emitEvent(transport.TagError, map[string]any{"message": "no main agent available for monitor " + monitorID})
		return
	}

	openWindows := p.windowIDs()
	fp := reloadcache.BuildFingerprint(task.Content, monitorID, openWindows, "")
	matches := p.Reload.FindMatches(fp, reloadcache.DefaultMatchLimit)
	reloadBlock := reloadcache.FormatReloadOptions(matches)

	timelineBlock := formatTimeline(p.Timeline.DrainForMain())

	p.Tape.AppendUser(task.Content, contexttape.Source{})

	canonical := fmt.Sprintf("default/%s", monitorID)
	resumeThreadID := ""
	if agentSession.ThreadID() == "" {
		if saved, ok := p.Threads.LoadThread(canonical); ok {
			resumeThreadID = saved
			p.Threads.DeleteThread(canonical)
		}
	}

	prompt := assemblePrompt(reloadBlock, timelineBlock, task.Content)

	_ = agentSession.HandleMessage(ctx, prompt, agent.HandleOptions{
		Role:           fmt.Sprintf("main-%s", task.MessageID),
		Source:         contexttape.Source{},
		MessageID:      task.MessageID,
		Interactions:   task.Interactions,
		ResumeThreadID: resumeThreadID,
		MonitorID:      monitorID,
		CanonicalAgent: canonical,
	})

	recorded := agentSession.RecordedActions()
	p.handleRecordedWindowActions(recorded, "")
	if len(recorded) > 0 {
		p.Reload.MaybeRecord(fp, recorded, "")
	}
}

// processEphemeralTask mirrors processMainTask but never records into the
// shared tape as the turn's own response; instead, once it completes, it
// pushes an AIEntry so the persistent main agent learns of the side effect
// on its next turn.
func (p *Pool) processEphemeralTask(ctx context.Context, eph *agent.Session, task Task) {
	monitorID := task.monitorID()

	openWindows := p.windowIDs()
	fp := reloadcache.BuildFingerprint(task.Content, monitorID, openWindows, "")
	matches := p.Reload.FindMatches(fp, reloadcache.DefaultMatchLimit)
	reloadBlock := reloadcache.FormatReloadOptions(matches)

	prompt := assemblePrompt(reloadBlock, "", task.Content)

	_ = eph.HandleMessage(ctx, prompt, agent.HandleOptions{
		Role:           fmt.Sprintf("ephemeral-%s", task.MessageID),
		Source:         contexttape.Source{},
		MessageID:      task.MessageID,
		Interactions:   task.Interactions,
		MonitorID:      monitorID,
		SkipTapeAppend: true,
	})

	recorded := eph.RecordedActions()
	p.handleRecordedWindowActions(recorded, "")
	if len(recorded) > 0 {
		p.Reload.MaybeRecord(fp, recorded, "")
	}

	summary := task.Content
	if len(summary) > 100 {
		summary = summary[:100]
	}
	p.Timeline.PushAI("ephemeral-"+task.MessageID, summary, recorded, "")
}

// handleRecordedWindowActions folds window.create actions surfaced by a
// turn into the window registry and, for any child window created while
// processing a window task, joins it to originWindowID's group.
func (p *Pool) handleRecordedWindowActions(actions []osaction.Action, originWindowID string) {
	for _, a := range actions {
		p.Windows.HandleAction(a)
		if originWindowID != "" && a.Kind == osaction.KindWindowCreate && a.WindowID != "" && a.WindowID != originWindowID {
			p.Groups.ConnectWindow(originWindowID, a.WindowID)
		}
	}
}

func (p *Pool) windowIDs() []string {
	windows := p.Windows.ListWindows()
	ids := make([]string, len(windows))
	for i, w := range windows {
		ids[i] = w.ID
	}
	return ids
}

// awaitInflight blocks until every in-flight task function has returned.
func (p *Pool) awaitInflight() {
	p.inflight.Wait()
}
