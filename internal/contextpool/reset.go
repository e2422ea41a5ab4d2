package contextpool

import (
	"context"
	"time"

	"canopy/internal/osaction"
	"canopy/internal/queue"
	"canopy/internal/transport"
)

// resetQueueTimeout bounds how long Reset/Cleanup wait for queue workers
// to drain before giving up.
const resetQueueTimeout = 5 * time.Second

// Reset clears all queues, interrupts every agent, waits for in-flight
// task functions to return, disposes agents, emits a window.close for
// every tracked window, clears the tape/timeline/registries, and finally
// recreates the default main agent.
func (p *Pool) Reset() {
	p.teardown()
	p.Agents.CreateMainAgent(p.currentProvider())
}

// Cleanup is Reset without recreating the default main agent, used when
// the session itself is being torn down.
func (p *Pool) Cleanup() {
	p.teardown()
}

func (p *Pool) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), resetQueueTimeout)
	defer cancel()
	_ = p.mainQueue.Shutdown(ctx)
	_ = p.windowQueue.Shutdown(ctx)
	// Shutdown permanently closes a Policy, so Reset/Cleanup replace both
	// with fresh ones rather than trying to reopen them.
	p.mainQueue = queue.NewPolicy(MainQueueCapacity, 0)
	p.windowQueue = queue.NewPolicy(WindowQueueCapacity, 0)

	p.Agents.InterruptAll()
	p.awaitInflight()
	p.Agents.Cleanup()

	for _, w := range p.Windows.ListWindows() {
		p.emitEvent(transport.TagActions, []osaction.Action{{Kind: osaction.KindWindowClose, WindowID: w.ID}})
	}

	p.Tape.Clear()
	p.Timeline.Clear()
	p.Groups.Clear()
	p.Windows.Clear()
}
