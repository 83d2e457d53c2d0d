package sessionlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AttendeeRow is one row for GET /sessions/:id/attendees.
type AttendeeRow struct {
	ViewerID     uuid.UUID  `json:"viewer_id"`
	JoinedAt     time.Time  `json:"joined_at"`
	LeftAt       *time.Time `json:"left_at,omitempty"`
	WatchSeconds int64      `json:"watch_seconds"`
}

// Repository handles viewer_session_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogJoin inserts a row when a viewer connects to a session.
func (r *Repository) LogJoin(ctx context.Context, sessionID, viewerID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO viewer_session_logs (session_id, viewer_id, joined_at) VALUES ($1, $2, NOW())`,
		sessionID, viewerID)
	return err
}

// LogLeave closes the most recent open log for this viewer in this session.
func (r *Repository) LogLeave(ctx context.Context, sessionID, viewerID uuid.UUID, _ time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE viewer_session_logs v SET left_at = NOW(), watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM (NOW() - v.joined_at))::BIGINT)
		 FROM (SELECT id FROM viewer_session_logs WHERE session_id = $1 AND viewer_id = $2 AND left_at IS NULL ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE v.id = sub.id`,
		sessionID, viewerID)
	return err
}

// WatchTimeAggregates holds sum of watch_seconds and distinct viewer count
// for one session.
type WatchTimeAggregates struct {
	TotalWatchSeconds int64
	DistinctViewers   int
	TotalJoins        int
}

// GetWatchTimeAggregates returns watch time and viewer counts from closed logs.
func (r *Repository) GetWatchTimeAggregates(ctx context.Context, sessionID uuid.UUID) (*WatchTimeAggregates, error) {
	const q = `SELECT COALESCE(SUM(watch_seconds), 0), COUNT(DISTINCT viewer_id), COUNT(*)
		FROM viewer_session_logs WHERE session_id = $1 AND left_at IS NOT NULL`
	var agg WatchTimeAggregates
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&agg.TotalWatchSeconds, &agg.DistinctViewers, &agg.TotalJoins)
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// ListBySession returns attendees for a session (join time, leave time, watch duration).
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]AttendeeRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT viewer_id, joined_at, left_at, watch_seconds
		 FROM viewer_session_logs WHERE session_id = $1 ORDER BY joined_at DESC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []AttendeeRow
	for rows.Next() {
		var row AttendeeRow
		if err := rows.Scan(&row.ViewerID, &row.JoinedAt, &row.LeftAt, &row.WatchSeconds); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}
