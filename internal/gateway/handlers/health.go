package handlers

import (
	"net/http"
	"sync"
	"time"

	"canopy/internal/provider"
)

var (
	startTime time.Time
	startOnce sync.Once
)

// InitStartTime initializes the server start time.
// Should be called when the server starts.
func InitStartTime() {
	startOnce.Do(func() {
		startTime = time.Now()
	})
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version"`
	Uptime    int64                    `json:"uptime"`
	Providers []provider.ProviderState `json:"providers,omitempty"`
}

// HealthHandler returns a health check handler. providers may be nil, in
// which case the response omits the provider status breakdown.
func HealthHandler(version string, providers *provider.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(0)
		if !startTime.IsZero() {
			uptime = int64(time.Since(startTime).Seconds())
		}

		resp := HealthResponse{Status: "ok", Version: version, Uptime: uptime}
		if providers != nil {
			resp.Providers = providers.HealthSnapshot().Providers
		}
		SendJSON(w, http.StatusOK, resp)
	}
}
