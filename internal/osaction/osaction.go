// Package osaction defines the tagged records that flow between the AI
// provider, the core, and the UI: actions the AI instructs the UI to
// perform, and interactions the end user generates in the UI.
package osaction

import "encoding/json"

// Kind discriminates an OSAction. The core must understand the window
// lifecycle kinds below; any other kind is opaque pass-through it still
// folds into the registry and replays, but never interprets.
type Kind string

const (
	KindWindowCreate           Kind = "window.create"
	KindWindowClose            Kind = "window.close"
	KindWindowMove             Kind = "window.move"
	KindWindowResize           Kind = "window.resize"
	KindWindowLock             Kind = "window.lock"
	KindWindowUnlock           Kind = "window.unlock"
	KindWindowShowNotification Kind = "window.show_notification"
	KindWindowDismissNotif     Kind = "window.dismiss_notification"
)

// Bounds is a window's position and size.
type Bounds struct {
	X, Y, W, H int
}

// Action is one OSAction the AI instructs the UI to perform.
type Action struct {
	Kind     Kind            `json:"kind"`
	WindowID string          `json:"windowId,omitempty"`
	Title    string          `json:"title,omitempty"`
	Bounds   *Bounds         `json:"bounds,omitempty"`
	Content  string          `json:"content,omitempty"`
	X        int             `json:"x,omitempty"`
	Y        int             `json:"y,omitempty"`
	W        int             `json:"w,omitempty"`
	H        int             `json:"h,omitempty"`
	AgentID  string          `json:"agentId,omitempty"`
	Extra    json.RawMessage `json:"extra,omitempty"` // opaque pass-through kinds
}

// InteractionKind discriminates a UserInteraction.
type InteractionKind string

const (
	InteractionWindowClose       InteractionKind = "window.close"
	InteractionWindowFocus       InteractionKind = "window.focus"
	InteractionWindowMove        InteractionKind = "window.move"
	InteractionWindowResize      InteractionKind = "window.resize"
	InteractionWindowMinimize    InteractionKind = "window.minimize"
	InteractionWindowMaximize    InteractionKind = "window.maximize"
	InteractionToastDismiss      InteractionKind = "toast.dismiss"
	InteractionNotifDismiss      InteractionKind = "notification.dismiss"
	InteractionIconClick         InteractionKind = "icon.click"
	InteractionIconDrag          InteractionKind = "icon.drag"
	InteractionSelectionAction   InteractionKind = "selection.action"
	InteractionRegionSelect      InteractionKind = "region.select"
	InteractionDraw              InteractionKind = "draw"
)

// Interaction is a single end-user UI event.
type Interaction struct {
	Kind         InteractionKind `json:"kind"`
	Timestamp    int64           `json:"timestamp"`
	WindowID     string          `json:"windowId,omitempty"`
	WindowTitle  string          `json:"windowTitle,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	Instruction  string          `json:"instruction,omitempty"`
	SelectedText string          `json:"selectedText,omitempty"`
	Region       json.RawMessage `json:"region,omitempty"`
	Bounds       *Bounds         `json:"bounds,omitempty"`
	ImageData    string          `json:"imageData,omitempty"`
}
