package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classcast/backend/internal/models"
)

// Repository handles live_sessions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, course_id, title, host_id, state, scheduled_at, started_at, ended_at,
	peak_viewers, total_joined, total_watch_seconds, created_at, updated_at`

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.CourseID, &s.Title, &s.HostID, &s.State, &s.ScheduledAt, &s.StartedAt, &s.EndedAt,
		&s.PeakViewers, &s.TotalJoined, &s.TotalWatchSeconds, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new scheduled session.
func (r *Repository) Create(ctx context.Context, s *models.Session) error {
	const q = `INSERT INTO live_sessions (id, course_id, title, host_id, state, scheduled_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, s.CourseID, s.Title, s.HostID, models.SessionScheduled, s.ScheduledAt).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// GetByID returns a session by ID, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM live_sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// List returns sessions, optionally filtered by course.
func (r *Repository) List(ctx context.Context, courseID *uuid.UUID) ([]models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions`
	var args []interface{}
	if courseID != nil {
		q += ` WHERE course_id = $1`
		args = append(args, *courseID)
	}
	q += ` ORDER BY scheduled_at DESC`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// MarkLive transitions a scheduled session row to live. Returns false when
// the row was not in the scheduled state (the in-memory manager remains the
// state machine authority; this keeps the durable record in step).
func (r *Repository) MarkLive(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	const q = `UPDATE live_sessions SET state = $1, started_at = $2, updated_at = NOW()
		WHERE id = $3 AND state = $4`
	tag, err := r.pool.Exec(ctx, q, models.SessionLive, startedAt, id, models.SessionScheduled)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkEnded transitions a live session row to ended and records final stats.
// Sessions are soft-ended: the row is retained for stats, never deleted.
func (r *Repository) MarkEnded(ctx context.Context, id uuid.UUID, endedAt time.Time, peak, totalJoined int, watchSeconds int64) (bool, error) {
	const q = `UPDATE live_sessions SET state = $1, ended_at = $2,
		peak_viewers = $3, total_joined = $4, total_watch_seconds = $5, updated_at = NOW()
		WHERE id = $6 AND state = $7`
	tag, err := r.pool.Exec(ctx, q, models.SessionEnded, endedAt, peak, totalJoined, watchSeconds, id, models.SessionLive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdatePeakViewers raises peak_viewers when the current count exceeds it.
func (r *Repository) UpdatePeakViewers(ctx context.Context, id uuid.UUID, peak int) error {
	const q = `UPDATE live_sessions SET peak_viewers = $1, updated_at = NOW()
		WHERE id = $2 AND $1 > peak_viewers`
	_, err := r.pool.Exec(ctx, q, peak, id)
	return err
}
