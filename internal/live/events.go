package live

import (
	"github.com/google/uuid"

	"github.com/classcast/backend/internal/models"
)

// Wire event names used by the connection gateway.
const (
	EventNameJoined          = "joined"
	EventNameLeft            = "left"
	EventNameChatMessage     = "chat_message"
	EventNameReaction        = "reaction"
	EventNameMessageRejected = "message_rejected"
	EventNameMessageHeld     = "message_held"
	EventNameSessionEnded    = "session_ended"
)

// LeaveReason distinguishes why a viewer left a session.
type LeaveReason string

const (
	LeaveExplicit LeaveReason = "leave"
	LeaveTimeout  LeaveReason = "timeout"
	LeaveEnded    LeaveReason = "session_ended"
)

// Event is one outbound event delivered to a connected viewer. The set is
// closed: every implementation lives in this package so dispatch over it
// is exhaustive.
type Event interface {
	EventName() string
	sealed()
}

// JoinedEvent announces a viewer joining.
type JoinedEvent struct {
	ViewerID  uuid.UUID   `json:"viewer_id"`
	Role      models.Role `json:"role"`
	LiveCount int         `json:"live_count"`
}

// LeftEvent announces a viewer leaving, explicitly or by liveness timeout.
type LeftEvent struct {
	ViewerID  uuid.UUID   `json:"viewer_id"`
	LiveCount int         `json:"live_count"`
	Reason    LeaveReason `json:"reason"`
}

// MessageEvent carries one broadcast chat message.
type MessageEvent struct {
	Message models.ChatMessage `json:"message"`
}

// ReactionEvent carries one reaction plus the count of reactions with the
// same emoji inside the display aggregation window.
type ReactionEvent struct {
	Emoji       string    `json:"emoji"`
	SenderID    uuid.UUID `json:"sender_id"`
	RecentCount int       `json:"recent_count"`
}

// RejectedEvent is delivered to the sender only when their message was not
// broadcast.
type RejectedEvent struct {
	Reason models.VerdictReason `json:"reason"`
}

// HeldEvent is delivered to the host only, carrying a message queued for review.
type HeldEvent struct {
	Held models.HeldMessage `json:"held"`
}

// SessionEndedEvent is the terminal event delivered to every viewer when the
// session ends.
type SessionEndedEvent struct {
	SessionID uuid.UUID `json:"session_id"`
}

func (JoinedEvent) EventName() string       { return EventNameJoined }
func (LeftEvent) EventName() string         { return EventNameLeft }
func (MessageEvent) EventName() string      { return EventNameChatMessage }
func (ReactionEvent) EventName() string     { return EventNameReaction }
func (RejectedEvent) EventName() string     { return EventNameMessageRejected }
func (HeldEvent) EventName() string         { return EventNameMessageHeld }
func (SessionEndedEvent) EventName() string { return EventNameSessionEnded }

func (JoinedEvent) sealed()       {}
func (LeftEvent) sealed()         {}
func (MessageEvent) sealed()      {}
func (ReactionEvent) sealed()     {}
func (RejectedEvent) sealed()     {}
func (HeldEvent) sealed()         {}
func (SessionEndedEvent) sealed() {}
