package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokotalk/tokotalk/pkg/cache"
	"github.com/tokotalk/tokotalk/pkg/config"
	"github.com/tokotalk/tokotalk/pkg/models"
	"github.com/tokotalk/tokotalk/test/util"
)

func newJobService(t *testing.T) (*JobService, *cache.MemoryStore) {
	t.Helper()
	db := util.SetupTestDatabase(t)
	store := cache.NewMemoryStore()
	cfg := config.JobConfig{
		DefaultMaxRetries: 3,
		RetryDelayMin:     5 * time.Second,
		RetryDelayMax:     60 * time.Second,
		RedisTTL:          24 * time.Hour,
	}
	return NewJobService(db, store, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestJobLifecycle(t *testing.T) {
	svc, store := newJobService(t)
	ctx := context.Background()

	job, err := svc.SubmitJob(ctx, "t1", "ai_response", models.JSONMap{"chat_id": "628111@c.us"})
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, job.Status)
	assert.Equal(t, 3, job.MaxRetries)

	t.Run("poll view served from cache", func(t *testing.T) {
		view, err := svc.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "queued", view.Status)

		var raw models.JSONMap
		require.NoError(t, store.GetJSON(ctx, cache.JobKey(job.ID), &raw))
	})

	t.Run("processing then completed", func(t *testing.T) {
		_, err := svc.MarkProcessing(ctx, job.ID)
		require.NoError(t, err)
		done, err := svc.Complete(ctx, job.ID, models.JSONMap{"reply": "Siap kak!"})
		require.NoError(t, err)
		assert.Equal(t, models.JobCompleted, done.Status)
		require.NotNil(t, done.CompletedAt)

		view, err := svc.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "completed", view.Status)
		assert.Equal(t, "Siap kak!", view.Result["reply"])
	})

	t.Run("completed job rejects reprocessing", func(t *testing.T) {
		_, err := svc.MarkProcessing(ctx, job.ID)
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})
}

func TestJobRetryBudget(t *testing.T) {
	svc, _ := newJobService(t)
	ctx := context.Background()

	job, err := svc.SubmitJob(ctx, "t1", "ai_response", nil)
	require.NoError(t, err)

	boom := errors.New("llm unavailable")

	// Delays double from the floor and the queue round-trips through
	// retrying → queued → processing.
	wantDelays := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	for attempt, want := range wantDelays {
		_, err = svc.MarkProcessing(ctx, job.ID)
		require.NoError(t, err, "attempt %d", attempt+1)

		failed, delay, err := svc.Fail(ctx, job.ID, boom)
		require.NoError(t, err)
		assert.Equal(t, models.JobRetrying, failed.Status)
		assert.Equal(t, want, delay)
		require.NotNil(t, failed.NextRetryAt)

		_, err = svc.Requeue(ctx, job.ID)
		require.NoError(t, err)
	}

	// Fourth failure exhausts the budget.
	_, err = svc.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	failed, delay, err := svc.Fail(ctx, job.ID, boom)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, failed.Status)
	assert.Zero(t, delay)
	assert.Equal(t, "llm unavailable", failed.Error)
	require.NotNil(t, failed.CompletedAt)

	_, _, err = svc.Fail(ctx, job.ID, boom)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestJobDelayCap(t *testing.T) {
	svc, _ := newJobService(t)
	assert.Equal(t, 5*time.Second, svc.retryDelay(1))
	assert.Equal(t, 40*time.Second, svc.retryDelay(4))
	assert.Equal(t, 60*time.Second, svc.retryDelay(5))
	assert.Equal(t, 60*time.Second, svc.retryDelay(10))
}
