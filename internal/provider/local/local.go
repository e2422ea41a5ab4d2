// Package local implements a deterministic Provider backed by no network
// call at all — good enough to drive the rest of the orchestrator end to
// end in tests and in a demo CLI mode without an external model daemon
// running.
package local

import (
	"context"
	"fmt"
	"strings"
	"time"

	"canopy/internal/provider"
)

// ModelName is the single model this provider reports and accepts.
const ModelName = "local-echo"

// Provider echoes the last user message back with a fixed preamble,
// simulating a brief "thinking" pause and a token-by-token stream so
// callers exercise the same event shapes a real model would produce.
type Provider struct {
	// ThinkDelay is slept before the first delta is emitted by Stream. Zero
	// (the test default) disables the pause.
	ThinkDelay time.Duration
}

// New returns a ready-to-use local Provider.
func New() *Provider {
	return &Provider{}
}

// Name returns the provider name.
func (p *Provider) Name() string { return "local" }

// Models returns the single model this provider serves.
func (p *Provider) Models() []string { return []string{ModelName} }

// Chat returns the full canned response in one call.
func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{
		Content:      p.reply(req),
		FinishReason: provider.FinishReasonStop,
	}, nil
}

// Stream emits the canned response one word at a time, with a thinking
// delta first, then a final done event.
func (p *Provider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	ch := make(chan provider.ChatEvent)

	go func() {
		defer close(ch)

		if p.ThinkDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.ThinkDelay):
			}
		}

		select {
		case ch <- provider.ChatEvent{Thinking: "considering the request"}:
		case <-ctx.Done():
			return
		}

		words := strings.Fields(p.reply(req))
		for i, w := range words {
			delta := w
			if i < len(words)-1 {
				delta += " "
			}
			select {
			case ch <- provider.ChatEvent{Type: provider.EventTypeContent, Delta: delta}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case ch <- provider.ChatEvent{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonStop}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// Ping implements provider.HealthCheckable; the local provider makes no
// network call, so it is always reachable.
func (p *Provider) Ping(ctx context.Context) error { return nil }

// GetState implements provider.HealthCheckable.
func (p *Provider) GetState() provider.ProviderState {
	return provider.ProviderState{
		Name:      p.Name(),
		Status:    provider.StatusConnected,
		LastCheck: time.Now(),
		Models:    p.Models(),
	}
}

// reply synthesizes a deterministic response from the last user message.
func (p *Provider) reply(req provider.ChatRequest) string {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == provider.RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	if last == "" {
		return "local provider ready"
	}
	return fmt.Sprintf("you said: %s", last)
}
