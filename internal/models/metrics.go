package models

import (
	"time"

	"github.com/google/uuid"
)

// EngagementMetrics holds post-session aggregates computed by the analytics worker.
type EngagementMetrics struct {
	ID               uuid.UUID `json:"id"`
	SessionID        uuid.UUID `json:"session_id"`
	TotalJoined      int       `json:"total_joined"`
	DistinctViewers  int       `json:"distinct_viewers"`
	PeakLiveViewers  int       `json:"peak_live_viewers"`
	AvgWatchSeconds  int64     `json:"avg_watch_seconds"`
	TotalWatchSeconds int64    `json:"total_watch_seconds"`
	RecordedAt       time.Time `json:"recorded_at"`
}
