package provider

import (
	"context"
	"testing"
)

type mockProvider struct {
	name       string
	pingErr    error
	healthOnce bool
}

func (m *mockProvider) Name() string     { return m.name }
func (m *mockProvider) Models() []string { return []string{m.name + "-model"} }
func (m *mockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Content: "mock"}, nil
}
func (m *mockProvider) Stream(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error) {
	ch := make(chan ChatEvent)
	close(ch)
	return ch, nil
}
func (m *mockProvider) Ping(ctx context.Context) error { return m.pingErr }
func (m *mockProvider) GetState() ProviderState {
	if m.pingErr != nil {
		return ProviderState{Name: m.name, Status: StatusUnavailable, LastError: m.pingErr.Error()}
	}
	return ProviderState{Name: m.name, Status: StatusConnected, Models: m.Models()}
}

func TestPoolGetCachesByModel(t *testing.T) {
	calls := 0
	pool := NewPool(func(model string) (Provider, error) {
		calls++
		return &mockProvider{name: model}, nil
	})

	first, err := pool.Get("llama3.2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := pool.Get("llama3.2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("Get should return the cached provider for a repeated model")
	}
	if calls != 1 {
		t.Errorf("factory called %d times, want 1", calls)
	}
}

func TestPoolGetOrDefaultFallsBackToScenario(t *testing.T) {
	pool := NewPool(func(model string) (Provider, error) {
		return &mockProvider{name: model}, nil
	})
	pool.SetDefault("chat", "local-echo")

	prov, err := pool.GetOrDefault("", "chat")
	if err != nil {
		t.Fatalf("GetOrDefault: %v", err)
	}
	if prov.Name() != "local-echo" {
		t.Errorf("Name() = %q, want local-echo", prov.Name())
	}
}

func TestPoolHealthSnapshotUsesHealthCheckableWhenAvailable(t *testing.T) {
	pool := NewPool(func(model string) (Provider, error) {
		if model == "broken" {
			return &mockProvider{name: model, pingErr: errUnavailable}, nil
		}
		return &mockProvider{name: model}, nil
	})

	if _, err := pool.Get("healthy"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := pool.Get("broken"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	snapshot := pool.HealthSnapshot()
	if len(snapshot.Providers) != 2 {
		t.Fatalf("Providers = %+v, want 2 entries", snapshot.Providers)
	}

	byName := map[string]ProviderState{}
	for _, s := range snapshot.Providers {
		byName[s.Name] = s
	}
	if byName["healthy"].Status != StatusConnected {
		t.Errorf("healthy status = %s, want %s", byName["healthy"].Status, StatusConnected)
	}
	if byName["broken"].Status != StatusUnavailable {
		t.Errorf("broken status = %s, want %s", byName["broken"].Status, StatusUnavailable)
	}
}

var errUnavailable = &ProviderError{Code: ErrCodeServiceUnavailable, Message: "down", Provider: "mock"}
