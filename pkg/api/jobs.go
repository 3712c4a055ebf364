package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokotalk/tokotalk/pkg/events"
	"github.com/tokotalk/tokotalk/pkg/models"
	"github.com/tokotalk/tokotalk/pkg/orchestrator"
)

type submitJobRequest struct {
	TenantID string         `json:"tenant_id" binding:"required"`
	Type     string         `json:"type" binding:"required"`
	Payload  models.JSONMap `json:"payload"`
}

// SubmitJob persists a queued job and hands it to the worker. The
// response carries the job id for polling.
func (s *Server) SubmitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := s.jobs.SubmitJob(c.Request.Context(), req.TenantID, req.Type, req.Payload)
	if err != nil {
		s.respondError(c, err)
		return
	}

	envelope := orchestrator.TaskEnvelope{Kind: orchestrator.TaskKindJob, JobID: job.ID}
	if err := s.pub.PublishTask(c.Request.Context(), s.cfg.Broker.TaskQueue, envelope); err != nil {
		s.logger.Error("Failed to enqueue job", "job_id", job.ID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue job"})
		return
	}
	s.emitter.Job(c.Request.Context(), events.EventJobSubmitted,
		job.TenantID, job.ID, job.Type, string(job.Status), "")

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// GetJob serves the poll view, usually straight from the cache.
func (s *Server) GetJob(c *gin.Context) {
	view, err := s.jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
