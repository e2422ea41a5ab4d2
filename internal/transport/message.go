// Package transport implements the WebSocket boundary: the wire envelope for
// inbound/outbound events and the connection that bridges a socket to a
// session router. The bearer-token gate is in internal/gateway/middleware.
package transport

import (
	"encoding/json"

	"canopy/internal/osaction"
)

// InboundMessage is the tagged-record envelope for every client->server
// event. Only the fields relevant to Tag are populated; unused fields are
// omitted on the wire.
type InboundMessage struct {
	Tag InboundTag `json:"tag"`

	MessageID string `json:"messageId,omitempty"`
	Content   string `json:"content,omitempty"`
	MonitorID string `json:"monitorId,omitempty"`

	WindowID string `json:"windowId,omitempty"`

	Action        string          `json:"action,omitempty"`
	ActionID      string          `json:"actionId,omitempty"`
	FormID        string          `json:"formId,omitempty"`
	FormData      json.RawMessage `json:"formData,omitempty"`
	ComponentPath string          `json:"componentPath,omitempty"`
	WindowTitle   string          `json:"windowTitle,omitempty"`

	AgentID string `json:"agentId,omitempty"`

	Provider string `json:"provider,omitempty"`

	RequestID string `json:"requestId,omitempty"`
	Renderer  string `json:"renderer,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Error     string `json:"error,omitempty"`
	URL       string `json:"url,omitempty"`
	Locked    bool   `json:"locked,omitempty"`
	ImageData string `json:"imageData,omitempty"`

	DialogID       string `json:"dialogId,omitempty"`
	Confirmed      bool   `json:"confirmed,omitempty"`
	RememberChoice bool   `json:"rememberChoice,omitempty"`

	ToastID string `json:"toastId,omitempty"`
	EventID string `json:"eventId,omitempty"`

	Interactions []UserInteraction `json:"interactions,omitempty"`

	Response json.RawMessage `json:"response,omitempty"`
}

// InboundTag discriminates the inbound event catalogue.
type InboundTag string

const (
	TagUserMessage        InboundTag = "USER_MESSAGE"
	TagWindowMessage      InboundTag = "WINDOW_MESSAGE"
	TagComponentAction    InboundTag = "COMPONENT_ACTION"
	TagInterrupt          InboundTag = "INTERRUPT"
	TagInterruptAgent     InboundTag = "INTERRUPT_AGENT"
	TagReset              InboundTag = "RESET"
	TagSetProvider        InboundTag = "SET_PROVIDER"
	TagRenderingFeedback  InboundTag = "RENDERING_FEEDBACK"
	TagDialogFeedback     InboundTag = "DIALOG_FEEDBACK"
	TagToastAction        InboundTag = "TOAST_ACTION"
	TagUserInteraction    InboundTag = "USER_INTERACTION"
	TagAppProtocolResp    InboundTag = "APP_PROTOCOL_RESPONSE"
	TagAppProtocolReady   InboundTag = "APP_PROTOCOL_READY"
	TagSubscribeMonitor   InboundTag = "SUBSCRIBE_MONITOR"
)

// UserInteraction is a single client-observed interaction (click, drag,
// form submit, draw, ...). Window-lifecycle interactions (close/move/resize)
// carry WindowID so the registry can fold them against the right window;
// everything beyond that stays opaque in Data and is passed through verbatim.
type UserInteraction struct {
	Kind        string          `json:"kind"`
	WindowID    string          `json:"windowId,omitempty"`
	WindowTitle string          `json:"windowTitle,omitempty"`
	Bounds      *osaction.Bounds `json:"bounds,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// OutboundTag discriminates the outbound event catalogue.
type OutboundTag string

const (
	TagActions            OutboundTag = "ACTIONS"
	TagAgentThinking      OutboundTag = "AGENT_THINKING"
	TagAgentResponse      OutboundTag = "AGENT_RESPONSE"
	TagConnectionStatus   OutboundTag = "CONNECTION_STATUS"
	TagToolProgress       OutboundTag = "TOOL_PROGRESS"
	TagError              OutboundTag = "ERROR"
	TagWindowAgentStatus  OutboundTag = "WINDOW_AGENT_STATUS"
	TagMessageAccepted    OutboundTag = "MESSAGE_ACCEPTED"
	TagMessageQueued      OutboundTag = "MESSAGE_QUEUED"
	TagApprovalRequest    OutboundTag = "APPROVAL_REQUEST"
	TagAppProtocolRequest OutboundTag = "APP_PROTOCOL_REQUEST"
)

// OutboundMessage is the envelope every outbound event is serialized as.
// Seq is assigned by the sequencer before Send; Payload carries the
// tag-specific fields.
type OutboundMessage struct {
	Seq     uint64      `json:"seq"`
	Tag     OutboundTag `json:"tag"`
	Payload any         `json:"payload,omitempty"`
}
