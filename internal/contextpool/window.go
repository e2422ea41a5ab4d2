package contextpool

import (
	"context"
	"fmt"

	"canopy/internal/agent"
	"canopy/internal/contexttape"
	"canopy/internal/reloadcache"
	"canopy/internal/transport"
	"canopy/pkg/logger"
)

// mainExcerptMessages bounds how many recent main-conversation messages are
// prepended to a window agent's very first turn.
const mainExcerptMessages = 6

// SubmitWindowTask implements the window-task dispatch algorithm: resolve
// the group's agent key, bypass the queue entirely for actionId-bearing
// (parallel) tasks, and otherwise serialize through the window queue.
func (p *Pool) SubmitWindowTask(ctx context.Context, task Task) {
	agentKey := p.Groups.GetGroupID(task.WindowID)
	if agentKey == "" {
		agentKey = task.WindowID
	}
	processingKey := task.ActionID
	if processingKey == "" {
		processingKey = agentKey
	}

	role := fmt.Sprintf("window-%s", task.WindowID)
	if task.ActionID != "" {
		role = fmt.Sprintf("window-%s/%s", task.WindowID, task.ActionID)
	}

	if task.ActionID != "" {
		p.emitEvent(transport.TagMessageAccepted, map[string]any{"agentId": role})
		p.inflight.Add(1)
		go func() {
			defer p.inflight.Done()
			p.runWindowTask(ctx, task, agentKey, processingKey)
		}()
		return
	}

	if pending := p.windowQueue.Pending(processingKey); pending > 0 {
		p.emitEvent(transport.TagMessageQueued, map[string]any{"windowId": task.WindowID, "position": pending + 1})
	}

	if _, err := p.windowQueue.Enqueue(processingKey, ctx, func(taskCtx context.Context) error {
		p.runWindowTask(taskCtx, task, agentKey, processingKey)
		return nil
	}); err != nil {
		logger.Warn().Err(err).Str("session_id", p.sessionID).Str("window_id", task.WindowID).
			Msg("window queue rejected task")
		p.emitEvent(transport.TagError, map[string]any{"message": "window queue is full, try again shortly"})
		return
	}
	p.emitEvent(transport.TagMessageAccepted, map[string]any{"agentId": role})
}

func (p *Pool) runWindowTask(ctx context.Context, task Task, agentKey, processingKey string) {
	windowAgent := p.Agents.GetOrCreateWindowAgent(agentKey, p.currentProvider())

	role := fmt.Sprintf("window-%s", task.WindowID)
	if task.ActionID != "" {
		role = fmt.Sprintf("window-%s/%s", task.WindowID, task.ActionID)
	}

	p.emitEvent(transport.TagWindowAgentStatus, map[string]any{"windowId": task.WindowID, "status": "assigned"})
	p.emitEvent(transport.TagWindowAgentStatus, map[string]any{"windowId": task.WindowID, "status": "active"})
	defer p.emitEvent(transport.TagWindowAgentStatus, map[string]any{"windowId": task.WindowID, "status": "released"})

	source := contexttape.Source{WindowID: task.WindowID}
	openWindows := p.windowIDs()
	fp := reloadcache.BuildFingerprint(task.Content, task.MonitorID, openWindows, task.WindowID)
	matches := p.Reload.FindMatches(fp, reloadcache.DefaultMatchLimit)
	reloadBlock := reloadcache.FormatReloadOptions(matches)

	p.Tape.AppendUser(task.Content, source)

	canonical := "window-" + agentKey
	resumeThreadID := ""
	firstTurn := windowAgent.ThreadID() == ""
	if firstTurn {
		if saved, ok := p.Threads.LoadThread(canonical); ok {
			resumeThreadID = saved
			firstTurn = false
		}
	}

	prompt := task.Content
	if reloadBlock != "" {
		prompt = reloadBlock + "\n" + prompt
	}
	if firstTurn {
		prompt = p.mainExcerpt() + "\n" + prompt
	}

	_ = windowAgent.HandleMessage(ctx, prompt, agent.HandleOptions{
		Role:           role,
		Source:         source,
		MessageID:      task.MessageID,
		Interactions:   task.Interactions,
		ResumeThreadID: resumeThreadID,
		MonitorID:      task.MonitorID,
		CanonicalAgent: canonical,
	})

	recorded := windowAgent.RecordedActions()
	p.handleRecordedWindowActions(recorded, task.WindowID)
	if len(recorded) > 0 {
		p.Reload.MaybeRecord(fp, recorded, task.WindowID)
	}

	summary := task.Content
	if len(summary) > 100 {
		summary = summary[:100]
	}
	p.Timeline.PushAI(role, summary, recorded, task.WindowID)
}

// mainExcerpt renders the last mainExcerptMessages main-conversation
// messages, used to bootstrap a window agent's first turn.
func (p *Pool) mainExcerpt() string {
	all := p.Tape.Messages()
	var main []string
	for _, m := range all {
		if !m.Source.IsMain() {
			continue
		}
		main = append(main, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	if len(main) > mainExcerptMessages {
		main = main[len(main)-mainExcerptMessages:]
	}
	if len(main) == 0 {
		return ""
	}
	out := "Recent main conversation:\n"
	for _, line := range main {
		out += line + "\n"
	}
	return out
}

// HandleWindowClose runs the close bookkeeping shared by an AI-emitted
// window.close action and a user window.close interaction: resolve the
// group before mutation, record a timeline entry, ask the group policy
// whether the agent should be disposed, and prune the tape / reload cache.
func (p *Pool) HandleWindowClose(windowID string) {
	agentKey := p.Groups.GetGroupID(windowID)
	if agentKey == "" {
		agentKey = windowID
	}

	p.Timeline.PushAI("system", "window "+windowID+" closed", nil, windowID)

	if p.Groups.HandleClose(windowID) {
		p.Agents.DisposeWindowAgent(agentKey)
	}
	p.Tape.PruneWindow(windowID)
	p.Reload.InvalidateForWindow(windowID)
}
