package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/classcast/backend/internal/analytics"
	"github.com/classcast/backend/internal/models"
	"github.com/classcast/backend/internal/sessionlog"
	"github.com/classcast/backend/internal/sessions"
	"github.com/classcast/backend/pkg/queue"
)

// AnalyticsProcessor computes post-session engagement metrics from the
// durable session record and the per-viewer session logs.
type AnalyticsProcessor struct {
	sessionRepo *sessions.Repository
	logRepo     *sessionlog.Repository
	metricsRepo *analytics.Repository
	queue       *queue.Queue
	logger      *zap.Logger
}

// NewAnalyticsProcessor creates an analytics job processor.
func NewAnalyticsProcessor(sessionRepo *sessions.Repository, logRepo *sessionlog.Repository, metricsRepo *analytics.Repository, q *queue.Queue, logger *zap.Logger) *AnalyticsProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsProcessor{
		sessionRepo: sessionRepo,
		logRepo:     logRepo,
		metricsRepo: metricsRepo,
		queue:       q,
		logger:      logger,
	}
}

// Process executes one analytics job.
func (p *AnalyticsProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeAnalytics {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.AnalyticsPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	sess, err := p.sessionRepo.GetByID(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("session not found: %s", payload.SessionID)
	}
	if sess.State != models.SessionEnded {
		return fmt.Errorf("session not ended: %s", payload.SessionID)
	}

	agg, err := p.logRepo.GetWatchTimeAggregates(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("aggregate session logs: %w", err)
	}

	var avg int64
	if sess.TotalJoined > 0 {
		avg = sess.TotalWatchSeconds / int64(sess.TotalJoined)
	}
	m := &models.EngagementMetrics{
		SessionID:         payload.SessionID,
		TotalJoined:       sess.TotalJoined,
		DistinctViewers:   agg.DistinctViewers,
		PeakLiveViewers:   sess.PeakViewers,
		AvgWatchSeconds:   avg,
		TotalWatchSeconds: sess.TotalWatchSeconds,
	}
	if err := p.metricsRepo.Upsert(ctx, m); err != nil {
		return fmt.Errorf("store engagement metrics: %w", err)
	}

	p.logger.Info("engagement metrics recorded",
		zap.String("session_id", payload.SessionID.String()),
		zap.Int("total_joined", m.TotalJoined),
		zap.Int64("avg_watch_seconds", m.AvgWatchSeconds))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *AnalyticsProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("analytics worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
