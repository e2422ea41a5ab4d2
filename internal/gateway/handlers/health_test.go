package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"canopy/internal/provider"
)

type fakeProvider struct{ name string }

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Models() []string { return []string{"fake-model"} }
func (f *fakeProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{}, nil
}
func (f *fakeProvider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	return nil, nil
}

func TestHealthHandlerWithoutProviders(t *testing.T) {
	InitStartTime()

	handler := HealthHandler("v1.0.0", nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %s, want ok", resp.Status)
	}
	if resp.Version != "v1.0.0" {
		t.Errorf("version = %s, want v1.0.0", resp.Version)
	}
	if resp.Uptime < 0 {
		t.Errorf("uptime = %d, want >= 0", resp.Uptime)
	}
	if resp.Providers != nil {
		t.Errorf("providers = %v, want nil when no pool is given", resp.Providers)
	}
}

func TestHealthHandlerWithProviders(t *testing.T) {
	InitStartTime()

	pool := provider.NewPool(func(model string) (provider.Provider, error) {
		return &fakeProvider{name: model}, nil
	})
	if _, err := pool.Get("fake"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	handler := HealthHandler("v1.0.0", pool)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(resp.Providers) != 1 {
		t.Fatalf("providers = %+v, want 1 entry", resp.Providers)
	}
	if resp.Providers[0].Status != provider.StatusConnected {
		t.Errorf("status = %s, want %s", resp.Providers[0].Status, provider.StatusConnected)
	}
}
