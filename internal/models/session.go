package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a live session.
type SessionState string

const (
	SessionScheduled SessionState = "scheduled"
	SessionLive      SessionState = "live"
	SessionEnded     SessionState = "ended"
)

// Session represents one livestream session of a course.
type Session struct {
	ID                uuid.UUID    `json:"id"`
	CourseID          uuid.UUID    `json:"course_id"`
	Title             string       `json:"title"`
	HostID            uuid.UUID    `json:"host_id"`
	State             SessionState `json:"state"`
	ScheduledAt       time.Time    `json:"scheduled_at"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	EndedAt           *time.Time   `json:"ended_at,omitempty"`
	PeakViewers       int          `json:"peak_viewers"`
	TotalJoined       int          `json:"total_joined"`
	TotalWatchSeconds int64        `json:"total_watch_seconds"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// ViewerConnection is one viewer's live connection to a session.
// A viewer holds at most one active connection per session; a reconnect
// replaces the prior entry.
type ViewerConnection struct {
	ConnID      uuid.UUID `json:"conn_id"`
	ViewerID    uuid.UUID `json:"viewer_id"`
	SessionID   uuid.UUID `json:"session_id"`
	Role        Role      `json:"role"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}
