package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"canopy/internal/provider"
	"canopy/pkg/logger"
)

// Sentinel errors a caller can match with errors.Is.
var (
	ErrConnectionFailed = errors.New("failed to connect to ollama server")
	ErrModelNotFound    = errors.New("model not found")
	ErrInvalidResponse  = errors.New("invalid response from ollama")
	ErrRequestTimeout   = errors.New("request timeout")
)

// Provider implements provider.Provider against a single Ollama endpoint;
// the model name is resolved per-request, falling back to cfg.Model.
type Provider struct {
	endpoint     string
	model        string
	httpClient   *http.Client
	streamClient *http.Client // no overall timeout: http.Client.Timeout kills long NDJSON streams
	keepAlive    string

	modelsMu    sync.RWMutex
	modelsCache []string
	modelsTime  time.Time
}

// New builds a Provider bound to cfg, filling in defaults for any zero field.
func New(cfg Config) *Provider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.KeepAlive == "" {
		cfg.KeepAlive = DefaultKeepAlive
	}

	return &Provider{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ResponseHeaderTimeout: cfg.Timeout, // wait for model load
				IdleConnTimeout:       90 * time.Second,
			},
		},
		keepAlive: cfg.KeepAlive,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return "ollama" }

// Models returns the locally pulled model list, refreshed at most every
// five minutes.
func (p *Provider) Models() []string {
	p.modelsMu.RLock()
	if time.Since(p.modelsTime) < 5*time.Minute && len(p.modelsCache) > 0 {
		models := p.modelsCache
		p.modelsMu.RUnlock()
		return models
	}
	p.modelsMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	models, err := p.fetchModels(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to fetch ollama models, returning cached list")
		p.modelsMu.RLock()
		defer p.modelsMu.RUnlock()
		return p.modelsCache
	}

	p.modelsMu.Lock()
	p.modelsCache = models
	p.modelsTime = time.Now()
	p.modelsMu.Unlock()

	return models
}

// Chat sends a non-streaming chat completion request, retrying once if
// Ollama reports the model not found (it may still be loading).
func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	wireReq := p.buildRequest(req, false)

	resp, err := p.doRequest(ctx, p.httpClient, wireReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ollama response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := p.handleErrorResponse(resp.StatusCode, body)
		var pe *provider.ProviderError
		if !errors.As(apiErr, &pe) || pe.Code != provider.ErrCodeModelNotFound {
			return nil, apiErr
		}

		logger.Info().Str("model", wireReq.Model).Msg("ollama model not found, retrying after a short delay")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
		}
		resp2, err2 := p.doRequest(ctx, p.httpClient, wireReq)
		if err2 != nil {
			return nil, apiErr
		}
		defer resp2.Body.Close()
		body2, err2 := io.ReadAll(resp2.Body)
		if err2 != nil {
			return nil, apiErr
		}
		if resp2.StatusCode != http.StatusOK {
			return nil, p.handleErrorResponse(resp2.StatusCode, body2)
		}
		body = body2
	}

	var wireResp chatResponse
	if err := json.Unmarshal(body, &wireResp); err != nil {
		return nil, ErrInvalidResponse
	}
	return convertResponse(&wireResp), nil
}

// Stream sends a streaming chat completion request and returns the decoded
// event channel; uses streamClient so a long-running NDJSON body isn't cut
// off by an overall request timeout.
func (p *Provider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	wireReq := p.buildRequest(req, true)

	resp, err := p.doRequest(ctx, p.streamClient, wireReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, p.handleErrorResponse(resp.StatusCode, body)
	}

	return processStream(resp.Body), nil
}

// buildRequest converts a provider.ChatRequest to Ollama's wire shape.
func (p *Provider) buildRequest(req provider.ChatRequest, stream bool) *chatRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	model = strings.TrimPrefix(model, "ollama:")

	wireReq := &chatRequest{
		Model:     model,
		Messages:  make([]chatMessage, 0, len(req.Messages)),
		Stream:    stream,
		KeepAlive: p.keepAlive,
	}

	for _, msg := range req.Messages {
		wm := chatMessage{Role: msg.Role, Content: msg.Content}
		for _, att := range req.Attachments {
			if att.Type == "image_url" && att.ImageURL != nil {
				if idx := strings.Index(att.ImageURL.URL, ","); idx != -1 {
					wm.Images = append(wm.Images, att.ImageURL.URL[idx+1:])
				}
			}
		}
		wireReq.Messages = append(wireReq.Messages, wm)
	}

	if req.Temperature > 0 || req.MaxTokens > 0 {
		wireReq.Options = &chatOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}

	return wireReq
}

func (p *Provider) doRequest(ctx context.Context, client *http.Client, wireReq *chatRequest) (*http.Response, error) {
	data, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrRequestTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return resp, nil
}

// handleErrorResponse classifies a non-200 Ollama response into a
// provider.ProviderError the core's retry/backoff logic can inspect.
func (p *Provider) handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &errResp)

	switch {
	case statusCode == http.StatusNotFound:
		return &provider.ProviderError{
			Code:      provider.ErrCodeModelNotFound,
			Message:   fmt.Sprintf("ollama model not found: %s", errResp.Error),
			Provider:  "ollama",
			Retryable: true,
		}
	case statusCode == http.StatusServiceUnavailable:
		return &provider.ProviderError{
			Code:      provider.ErrCodeServiceUnavailable,
			Message:   "ollama service unavailable",
			Provider:  "ollama",
			Retryable: true,
		}
	case provider.IsContextWindowExceeded(errors.New(errResp.Error)):
		return &provider.ProviderError{
			Code:      provider.ErrCodeContextWindowExceeded,
			Message:   errResp.Error,
			Provider:  "ollama",
			Retryable: false,
		}
	default:
		return &provider.ProviderError{
			Code:      provider.ErrCodeUnknown,
			Message:   fmt.Sprintf("ollama returned status %d: %s", statusCode, strings.TrimSpace(string(body))),
			Provider:  "ollama",
			Retryable: false,
		}
	}
}

func convertResponse(resp *chatResponse) *provider.ChatResponse {
	result := &provider.ChatResponse{
		Content:      resp.Message.Content,
		FinishReason: provider.FinishReasonStop,
	}
	if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
		result.Usage = &provider.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		}
	}
	return result
}

func (p *Provider) fetchModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build ollama tags request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch ollama models: status %d", resp.StatusCode)
	}

	var listResp modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("decode ollama models response: %w", err)
	}

	models := make([]string, 0, len(listResp.Models))
	for _, m := range listResp.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// Ping implements provider.HealthCheckable.
func (p *Provider) Ping(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(checkCtx, http.MethodGet, p.endpoint+"/api/tags", nil)
	if err != nil {
		return &provider.ProviderError{Code: provider.ErrCodeNetworkError, Message: err.Error(), Provider: "ollama", Retryable: true}
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return &provider.ProviderError{Code: provider.ErrCodeServiceUnavailable, Message: "ollama is not reachable", Provider: "ollama", Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &provider.ProviderError{
			Code:      provider.ErrCodeServiceUnavailable,
			Message:   fmt.Sprintf("ollama returned status %d", resp.StatusCode),
			Provider:  "ollama",
			Retryable: true,
		}
	}
	return nil
}

// GetState implements provider.HealthCheckable.
func (p *Provider) GetState() provider.ProviderState {
	state := provider.ProviderState{Name: "ollama", LastCheck: time.Now()}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		state.Status = provider.StatusUnavailable
		var pe *provider.ProviderError
		if errors.As(err, &pe) {
			state.LastError = pe.Message
		} else {
			state.LastError = err.Error()
		}
		return state
	}

	state.Status = provider.StatusConnected
	state.Models = p.Models()
	return state
}
