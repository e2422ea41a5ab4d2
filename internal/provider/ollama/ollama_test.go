package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"canopy/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderName(t *testing.T) {
	p := New(DefaultConfig())
	assert.Equal(t, "ollama", p.Name())
}

func TestProviderChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "Hello", req.Messages[0].Content)

		resp := chatResponse{
			Model:           "test-model",
			Message:         chatMessage{Role: "assistant", Content: "Hello! How can I help you?"},
			Done:            true,
			PromptEvalCount: 5,
			EvalCount:       10,
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := New(Config{Endpoint: server.URL, Model: "test-model", Timeout: 10 * time.Second})

	resp, err := p.Chat(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{{Role: "user", Content: "Hello"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello! How can I help you?", resp.Content)
	assert.Equal(t, provider.FinishReasonStop, resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestProviderChatErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "internal error"}`))
	}))
	defer server.Close()

	p := New(Config{Endpoint: server.URL})

	_, err := p.Chat(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{{Role: "user", Content: "test"}},
	})

	require.Error(t, err)
	var pe *provider.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.ErrCodeUnknown, pe.Code)
}

func TestProviderModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			json.NewEncoder(w).Encode(modelsResponse{Models: []modelInfo{
				{Name: "llama3.2:latest"}, {Name: "mistral:latest"},
			}})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p := New(Config{Endpoint: server.URL})
	models := p.Models()

	assert.Len(t, models, 2)
	assert.Contains(t, models, "llama3.2:latest")
}

func TestProviderConnectionFailed(t *testing.T) {
	p := New(Config{Endpoint: "http://127.0.0.1:1", Timeout: 1 * time.Second})

	_, err := p.Chat(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{{Role: "user", Content: "test"}},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestProviderGetStateUnavailable(t *testing.T) {
	p := New(Config{Endpoint: "http://127.0.0.1:1", Timeout: 1 * time.Second})
	state := p.GetState()
	assert.Equal(t, provider.StatusUnavailable, state.Status)
	assert.NotEmpty(t, state.LastError)
}

func TestProviderGetStateConnected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(modelsResponse{Models: []modelInfo{{Name: "llama3.2:latest"}}})
	}))
	defer server.Close()

	p := New(Config{Endpoint: server.URL})
	state := p.GetState()
	assert.Equal(t, provider.StatusConnected, state.Status)
	assert.Contains(t, state.Models, "llama3.2:latest")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultEndpoint, cfg.Endpoint)
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultKeepAlive, cfg.KeepAlive)
}

func TestBuildRequest(t *testing.T) {
	p := &Provider{model: "default-model", keepAlive: "5m"}

	req := provider.ChatRequest{
		Model:       "custom-model",
		Messages:    []provider.Message{{Role: "user", Content: "Hello"}},
		Temperature: 0.7,
		MaxTokens:   100,
	}

	wireReq := p.buildRequest(req, true)

	assert.Equal(t, "custom-model", wireReq.Model)
	assert.True(t, wireReq.Stream)
	assert.Equal(t, "5m", wireReq.KeepAlive)
	require.NotNil(t, wireReq.Options)
	assert.Equal(t, 0.7, wireReq.Options.Temperature)
	assert.Equal(t, 100, wireReq.Options.NumPredict)
}

func TestBuildRequestDefaultModel(t *testing.T) {
	p := &Provider{model: "default-model", keepAlive: "5m"}

	wireReq := p.buildRequest(provider.ChatRequest{
		Messages: []provider.Message{{Role: "user", Content: "Hello"}},
	}, false)

	assert.Equal(t, "default-model", wireReq.Model)
}
