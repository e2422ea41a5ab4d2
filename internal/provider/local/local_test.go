package local

import (
	"context"
	"testing"

	"canopy/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Name(t *testing.T) {
	p := New()
	assert.Equal(t, "local", p.Name())
}

func TestProvider_Models(t *testing.T) {
	p := New()
	assert.Equal(t, []string{ModelName}, p.Models())
}

func TestProvider_ChatEchoesLastUserMessage(t *testing.T) {
	p := New()
	resp, err := p.Chat(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "be terse"},
			{Role: provider.RoleUser, Content: "ping"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "you said: ping", resp.Content)
	assert.Equal(t, provider.FinishReasonStop, resp.FinishReason)
}

func TestProvider_ChatWithNoUserMessageReturnsFallback(t *testing.T) {
	p := New()
	resp, err := p.Chat(context.Background(), provider.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "local provider ready", resp.Content)
}

func TestProvider_StreamEmitsThinkingThenContentThenDone(t *testing.T) {
	p := New()
	events, err := p.Stream(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "hello world"}},
	})
	require.NoError(t, err)

	var thinking, content string
	var sawDone bool
	for ev := range events {
		switch {
		case ev.Thinking != "":
			thinking = ev.Thinking
		case ev.Type == provider.EventTypeDone:
			sawDone = true
		default:
			content += ev.Delta
		}
	}

	assert.NotEmpty(t, thinking)
	assert.Equal(t, "you said: hello world", content)
	assert.True(t, sawDone)
}

func TestProvider_GetStateReportsConnected(t *testing.T) {
	p := New()
	state := p.GetState()
	assert.Equal(t, provider.StatusConnected, state.Status)
	assert.Equal(t, []string{ModelName}, state.Models)
	require.NoError(t, p.Ping(context.Background()))
}

func TestProvider_StreamStopsOnCanceledContext(t *testing.T) {
	p := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, err := p.Stream(ctx, provider.ChatRequest{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)

	for range events {
	}
}
