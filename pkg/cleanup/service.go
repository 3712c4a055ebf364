// Package cleanup enforces data retention on the relational store.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/tokotalk/tokotalk/pkg/config"
	"github.com/tokotalk/tokotalk/pkg/models"
)

// Service periodically purges rows past their retention window:
//   - terminal jobs (completed, failed) older than the job retention
//   - closed tickets older than the ticket retention
//
// Orders and payments are financial records and are never purged.
// All operations are idempotent and safe to run from multiple workers.
type Service struct {
	db     *gorm.DB
	cfg    config.RetentionConfig
	logger *slog.Logger
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention sweeper.
func NewService(db *gorm.DB, cfg config.RetentionConfig, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		cfg:    cfg,
		logger: logger.With("component", "cleanup"),
		now:    time.Now,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Retention sweeper started",
		"job_retention", s.cfg.JobRetention,
		"ticket_retention", s.cfg.TicketRetention,
		"interval", s.cfg.SweepInterval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Retention sweeper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one retention pass.
func (s *Service) Sweep(ctx context.Context) {
	s.purgeJobs(ctx)
	s.purgeTickets(ctx)
}

func (s *Service) purgeJobs(ctx context.Context) {
	if s.cfg.JobRetention <= 0 {
		return
	}
	cutoff := s.now().Add(-s.cfg.JobRetention)
	res := s.db.WithContext(ctx).
		Where("status IN ? AND completed_at < ?",
			[]models.JobStatus{models.JobCompleted, models.JobFailed}, cutoff).
		Delete(&models.Job{})
	if res.Error != nil {
		s.logger.Error("Retention: job purge failed", "error", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		s.logger.Info("Retention: purged old jobs", "count", res.RowsAffected)
	}
}

func (s *Service) purgeTickets(ctx context.Context) {
	if s.cfg.TicketRetention <= 0 {
		return
	}
	cutoff := s.now().Add(-s.cfg.TicketRetention)
	res := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.TicketClosed, cutoff).
		Delete(&models.Ticket{})
	if res.Error != nil {
		s.logger.Error("Retention: ticket purge failed", "error", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		s.logger.Info("Retention: purged closed tickets", "count", res.RowsAffected)
	}
}
