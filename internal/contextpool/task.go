// Package contextpool is the dispatcher: it receives a Task, chooses the
// agent class and path, invokes AgentSession.HandleMessage, and performs
// the bookkeeping (reload cache, tape, timeline, window groups) around it.
package contextpool

import "canopy/internal/osaction"

// Kind discriminates a Task.
type Kind string

const (
	KindMain   Kind = "main"
	KindWindow Kind = "window"
)

// Task is one unit of dispatchable work, immutable once enqueued.
type Task struct {
	Kind         Kind
	MessageID    string
	WindowID     string
	Content      string
	Interactions []osaction.Interaction
	ActionID     string
	MonitorID    string
}

func (t Task) monitorID() string {
	if t.MonitorID == "" {
		return "monitor-0"
	}
	return t.MonitorID
}
