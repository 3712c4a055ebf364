package cleanup

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tokotalk/tokotalk/pkg/config"
	"github.com/tokotalk/tokotalk/pkg/models"
	"github.com/tokotalk/tokotalk/test/util"
)

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := util.SetupTestDatabase(t)
	svc := NewService(db, config.RetentionConfig{
		JobRetention:    30 * 24 * time.Hour,
		TicketRetention: 90 * 24 * time.Hour,
		SweepInterval:   time.Hour,
	}, slog.Default())
	return svc, db
}

func seedJob(t *testing.T, db *gorm.DB, status models.JobStatus, completedAgo time.Duration) string {
	t.Helper()
	job := models.Job{TenantID: "t1", Type: "summary", Status: status}
	if completedAgo > 0 {
		done := time.Now().Add(-completedAgo)
		job.CompletedAt = &done
	}
	require.NoError(t, db.Create(&job).Error)
	return job.ID
}

func TestSweepPurgesOldTerminalJobs(t *testing.T) {
	svc, db := newService(t)

	old := seedJob(t, db, models.JobCompleted, 45*24*time.Hour)
	recent := seedJob(t, db, models.JobCompleted, 24*time.Hour)
	oldButRunning := seedJob(t, db, models.JobProcessing, 0)

	svc.Sweep(context.Background())

	var ids []string
	require.NoError(t, db.Model(&models.Job{}).Pluck("id", &ids).Error)
	assert.NotContains(t, ids, old)
	assert.Contains(t, ids, recent)
	assert.Contains(t, ids, oldButRunning)
}

func TestSweepPurgesOldClosedTickets(t *testing.T) {
	svc, db := newService(t)

	oldTicket := models.Ticket{
		TenantID: "t1", CustomerID: "c1", Subject: "barang rusak",
		Status: models.TicketClosed,
	}
	require.NoError(t, db.Create(&oldTicket).Error)
	require.NoError(t, db.Model(&oldTicket).
		UpdateColumn("updated_at", time.Now().Add(-120*24*time.Hour)).Error)

	openTicket := models.Ticket{
		TenantID: "t1", CustomerID: "c1", Subject: "belum sampai",
		Status: models.TicketOpen,
	}
	require.NoError(t, db.Create(&openTicket).Error)

	svc.Sweep(context.Background())

	var count int64
	require.NoError(t, db.Model(&models.Ticket{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSweepDisabledByZeroRetention(t *testing.T) {
	svc, db := newService(t)
	svc.cfg.JobRetention = 0

	seedJob(t, db, models.JobFailed, 365*24*time.Hour)
	svc.Sweep(context.Background())

	var count int64
	require.NoError(t, db.Model(&models.Job{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
