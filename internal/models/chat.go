package models

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is the moderation outcome for one inbound message.
type Verdict string

const (
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
	VerdictHeld     Verdict = "held"
)

// VerdictReason explains a rejected or held verdict.
type VerdictReason string

const (
	ReasonBannedTerm     VerdictReason = "banned_term"
	ReasonRoleRestricted VerdictReason = "role_restricted"
	ReasonSlowMode       VerdictReason = "slow_mode"
	ReasonRateLimited    VerdictReason = "rate_limited"
)

// ChatMessage is one broadcast chat message. Immutable once created; the
// ordering ID is assigned at admission by the broadcaster, not at arrival.
type ChatMessage struct {
	ID        int64     `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// HeldMessage is a message held for host review. It has no ordering ID
// until released for broadcast.
type HeldMessage struct {
	ID        uuid.UUID     `json:"id"`
	SessionID uuid.UUID     `json:"session_id"`
	SenderID  uuid.UUID     `json:"sender_id"`
	Body      string        `json:"body"`
	Reason    VerdictReason `json:"reason"`
	HeldAt    time.Time     `json:"held_at"`
}

// Reaction is an ephemeral emoji reaction. Not persisted beyond the
// in-memory display aggregation window.
type Reaction struct {
	Emoji     string    `json:"emoji"`
	SenderID  uuid.UUID `json:"sender_id"`
	SessionID uuid.UUID `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}
