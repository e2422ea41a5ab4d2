// Package windowstate is the authoritative server-side view of window
// existence, title, bounds, and app-protocol readiness.
package windowstate

import (
	"sync"

	"canopy/internal/osaction"
)

// Window is one tracked window.
type Window struct {
	ID          string
	Title       string
	Bounds      osaction.Bounds
	AppProtocol bool
}

// Registry folds OSActions into a live window map.
type Registry struct {
	mu          sync.RWMutex
	windows     map[string]*Window
	appCommands map[string][]string
	onClose     func(windowID string)
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		windows:     make(map[string]*Window),
		appCommands: make(map[string][]string),
	}
}

// SetOnWindowClose installs cb, invoked synchronously whenever
// HandleAction processes a window.close for a window that was tracked.
func (r *Registry) SetOnWindowClose(cb func(windowID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClose = cb
}

// HandleAction folds one OSAction into the map. Unknown kinds are ignored;
// closing an unknown window is a no-op (idempotent close).
func (r *Registry) HandleAction(action osaction.Action) {
	switch action.Kind {
	case osaction.KindWindowCreate:
		r.mu.Lock()
		r.windows[action.WindowID] = &Window{
			ID:     action.WindowID,
			Title:  action.Title,
			Bounds: boundsOrZero(action.Bounds),
		}
		r.mu.Unlock()

	case osaction.KindWindowClose:
		r.mu.Lock()
		_, existed := r.windows[action.WindowID]
		delete(r.windows, action.WindowID)
		delete(r.appCommands, action.WindowID)
		cb := r.onClose
		r.mu.Unlock()
		if existed && cb != nil {
			cb(action.WindowID)
		}

	case osaction.KindWindowMove:
		r.mu.Lock()
		if w, ok := r.windows[action.WindowID]; ok {
			w.Bounds.X, w.Bounds.Y = action.X, action.Y
		}
		r.mu.Unlock()

	case osaction.KindWindowResize:
		r.mu.Lock()
		if w, ok := r.windows[action.WindowID]; ok {
			w.Bounds.W, w.Bounds.H = action.W, action.H
		}
		r.mu.Unlock()
	}
}

func boundsOrZero(b *osaction.Bounds) osaction.Bounds {
	if b == nil {
		return osaction.Bounds{}
	}
	return *b
}

// ListWindows returns a snapshot of every tracked window.
func (r *Registry) ListWindows() []*Window {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Window, 0, len(r.windows))
	for _, w := range r.windows {
		cp := *w
		out = append(out, &cp)
	}
	return out
}

// GetWindow returns the tracked window, or nil if unknown.
func (r *Registry) GetWindow(id string) *Window {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.windows[id]
	if !ok {
		return nil
	}
	cp := *w
	return &cp
}

// RestoreFromActions replays a saved action list (session restore on
// reconnect) without invoking the close callback — no connection is
// watching yet.
func (r *Registry) RestoreFromActions(actions []osaction.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range actions {
		switch a.Kind {
		case osaction.KindWindowCreate:
			r.windows[a.WindowID] = &Window{ID: a.WindowID, Title: a.Title, Bounds: boundsOrZero(a.Bounds)}
		case osaction.KindWindowClose:
			delete(r.windows, a.WindowID)
			delete(r.appCommands, a.WindowID)
		case osaction.KindWindowMove:
			if w, ok := r.windows[a.WindowID]; ok {
				w.Bounds.X, w.Bounds.Y = a.X, a.Y
			}
		case osaction.KindWindowResize:
			if w, ok := r.windows[a.WindowID]; ok {
				w.Bounds.W, w.Bounds.H = a.W, a.H
			}
		}
	}
}

// SetAppProtocol marks a window as app-protocol ready.
func (r *Registry) SetAppProtocol(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.windows[id]; ok {
		w.AppProtocol = true
	}
}

// GetAppCommands returns the last recorded app-protocol command list for a
// window, memory-only and cleared on Clear.
func (r *Registry) GetAppCommands(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.appCommands[id]...)
}

// SetAppCommands records the latest app-protocol command list for a window.
func (r *Registry) SetAppCommands(id string, commands []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appCommands[id] = append([]string(nil), commands...)
}

// Clear drops every tracked window and app command list.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = make(map[string]*Window)
	r.appCommands = make(map[string][]string)
}
