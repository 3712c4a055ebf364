package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tokotalk/tokotalk/pkg/cache"
	"github.com/tokotalk/tokotalk/pkg/config"
	"github.com/tokotalk/tokotalk/pkg/models"
)

// JobService tracks AI processing jobs. Postgres is authoritative; the
// hot status is mirrored into the cache so pollers never touch the
// database. A cache write failure is logged and tolerated because the
// mirror is an optimisation, not the source of truth.
type JobService struct {
	db     *gorm.DB
	store  cache.Store
	cfg    config.JobConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewJobService creates a new JobService.
func NewJobService(db *gorm.DB, store cache.Store, cfg config.JobConfig, logger *slog.Logger) *JobService {
	return &JobService{
		db:     db,
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "jobs"),
		now:    time.Now,
	}
}

// JobStatusView is the cached, poll-friendly projection of a job.
type JobStatusView struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	RetryCount  int            `json:"retry_count"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// SubmitJob persists a queued job.
func (s *JobService) SubmitJob(httpCtx context.Context, tenantID, jobType string, payload models.JSONMap) (*models.Job, error) {
	if jobType == "" {
		return nil, NewValidationError("type", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	job := &models.Job{
		TenantID:   tenantID,
		Type:       jobType,
		Status:     models.JobQueued,
		Payload:    payload,
		MaxRetries: s.cfg.DefaultMaxRetries,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	s.mirror(ctx, job)
	return job, nil
}

// GetJob returns the poll view, serving from the cache when possible.
func (s *JobService) GetJob(httpCtx context.Context, id string) (*JobStatusView, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var view JobStatusView
	err := s.store.GetJSON(ctx, cache.JobKey(id), &view)
	if err == nil {
		return &view, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn("Job cache read failed, falling back to database", "job_id", id, "error", err)
	}

	var job models.Job
	err = s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	s.mirror(ctx, &job)
	v := viewOf(&job)
	return &v, nil
}

// MarkProcessing transitions a job to processing. Jobs already terminal
// report ErrIllegalTransition so late redeliveries are dropped.
func (s *JobService) MarkProcessing(httpCtx context.Context, id string) (*models.Job, error) {
	return s.transition(httpCtx, id, func(job *models.Job) error {
		if !job.Status.CanTransition(models.JobProcessing) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, job.Status, models.JobProcessing)
		}
		job.Status = models.JobProcessing
		return nil
	})
}

// Complete transitions a job to completed with its result.
func (s *JobService) Complete(httpCtx context.Context, id string, result models.JSONMap) (*models.Job, error) {
	return s.transition(httpCtx, id, func(job *models.Job) error {
		if !job.Status.CanTransition(models.JobCompleted) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, job.Status, models.JobCompleted)
		}
		now := s.now()
		job.Status = models.JobCompleted
		job.Result = result
		job.Error = ""
		job.CompletedAt = &now
		return nil
	})
}

// Fail records a processing failure. While retry budget remains the job
// moves to retrying with the next attempt's delay; otherwise it fails
// terminally. The returned delay is zero when no retry is due.
func (s *JobService) Fail(httpCtx context.Context, id string, jobErr error) (*models.Job, time.Duration, error) {
	var delay time.Duration
	job, err := s.transition(httpCtx, id, func(job *models.Job) error {
		if job.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, job.Status)
		}
		job.RetryCount++
		if jobErr != nil {
			job.Error = jobErr.Error()
		}
		if job.RetryCount > job.MaxRetries {
			now := s.now()
			job.Status = models.JobFailed
			job.CompletedAt = &now
			job.NextRetryAt = nil
			return nil
		}
		delay = s.retryDelay(job.RetryCount)
		next := s.now().Add(delay)
		job.Status = models.JobRetrying
		job.NextRetryAt = &next
		return nil
	})
	return job, delay, err
}

// Requeue moves a retrying job back to queued once its delayed message
// is republished.
func (s *JobService) Requeue(httpCtx context.Context, id string) (*models.Job, error) {
	return s.transition(httpCtx, id, func(job *models.Job) error {
		if !job.Status.CanTransition(models.JobQueued) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, job.Status, models.JobQueued)
		}
		job.Status = models.JobQueued
		return nil
	})
}

// retryDelay doubles from the configured floor per attempt, capped at
// the ceiling. Attempt 1 waits the floor.
func (s *JobService) retryDelay(attempt int) time.Duration {
	delay := s.cfg.RetryDelayMin
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.cfg.RetryDelayMax {
			return s.cfg.RetryDelayMax
		}
	}
	if delay > s.cfg.RetryDelayMax {
		return s.cfg.RetryDelayMax
	}
	return delay
}

func (s *JobService) transition(httpCtx context.Context, id string, mutate func(*models.Job) error) (*models.Job, error) {
	ctx, cancel := context.WithTimeout(httpCtx, dbTimeout)
	defer cancel()

	var job models.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&job, "id = ?", id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock job: %w", err)
		}
		if err := mutate(&job); err != nil {
			return err
		}
		return tx.Save(&job).Error
	})
	if err != nil {
		return nil, err
	}
	s.mirror(ctx, &job)
	return &job, nil
}

// mirror writes the poll view to the cache with the hot-state TTL.
func (s *JobService) mirror(ctx context.Context, job *models.Job) {
	view := viewOf(job)
	if err := s.store.SetJSON(ctx, cache.JobKey(job.ID), view, s.cfg.RedisTTL); err != nil {
		s.logger.Warn("Failed to mirror job status to cache", "job_id", job.ID, "error", err)
	}
}

func viewOf(job *models.Job) JobStatusView {
	return JobStatusView{
		ID:          job.ID,
		Status:      string(job.Status),
		Result:      job.Result,
		Error:       job.Error,
		RetryCount:  job.RetryCount,
		CompletedAt: job.CompletedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}
