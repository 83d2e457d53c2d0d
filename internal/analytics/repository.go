package analytics

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classcast/backend/internal/models"
)

// Repository handles engagement_metrics persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an engagement metrics repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert records computed engagement metrics for a session. Re-running the
// analytics job replaces the previous row.
func (r *Repository) Upsert(ctx context.Context, m *models.EngagementMetrics) error {
	const q = `INSERT INTO engagement_metrics (id, session_id, total_joined, distinct_viewers, peak_live_viewers, avg_watch_seconds, total_watch_seconds, recorded_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			total_joined = EXCLUDED.total_joined,
			distinct_viewers = EXCLUDED.distinct_viewers,
			peak_live_viewers = EXCLUDED.peak_live_viewers,
			avg_watch_seconds = EXCLUDED.avg_watch_seconds,
			total_watch_seconds = EXCLUDED.total_watch_seconds,
			recorded_at = NOW()
		RETURNING id, recorded_at`
	return r.pool.QueryRow(ctx, q, m.SessionID, m.TotalJoined, m.DistinctViewers, m.PeakLiveViewers, m.AvgWatchSeconds, m.TotalWatchSeconds).
		Scan(&m.ID, &m.RecordedAt)
}

// GetBySession returns the engagement metrics for a session, or nil when
// the analytics job has not run yet.
func (r *Repository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*models.EngagementMetrics, error) {
	const q = `SELECT id, session_id, total_joined, distinct_viewers, peak_live_viewers, avg_watch_seconds, total_watch_seconds, recorded_at
		FROM engagement_metrics WHERE session_id = $1`
	var m models.EngagementMetrics
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&m.ID, &m.SessionID, &m.TotalJoined, &m.DistinctViewers, &m.PeakLiveViewers, &m.AvgWatchSeconds, &m.TotalWatchSeconds, &m.RecordedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}
