package domain

import "context"

// StatusEvent describes a session status transition.
type StatusEvent struct {
	WorkflowID string
	SessionID  string
	From       SessionStatus
	To         SessionStatus
	Reason     string
}

// MessageEvent describes an event crossing the session boundary.
type MessageEvent struct {
	WorkflowID string
	Event      SessionEvent
	Duplicate  bool
}

// LifecycleHooks defines callbacks for protocol observability.
// Any hook may be nil.
type LifecycleHooks struct {
	OnStatusChange   func(context.Context, *StatusEvent)
	OnEventSent      func(context.Context, *MessageEvent)
	OnEventReceived  func(context.Context, *MessageEvent)
	OnEventDelivered func(context.Context, *MessageEvent)
}
