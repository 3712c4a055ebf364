package models

import (
	"time"

	"gorm.io/gorm"
)

// JobStatus is the AI job lifecycle state.
type JobStatus string

// Job statuses. completed and failed are terminal; retrying re-enters
// queued via delayed redelivery.
const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobRetrying   JobStatus = "retrying"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobQueued:     {JobProcessing},
	JobProcessing: {JobCompleted, JobFailed, JobRetrying},
	JobRetrying:   {JobQueued, JobProcessing, JobFailed},
}

// CanTransition reports whether from → to is a legal job transition.
func (from JobStatus) CanTransition(to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is one AI processing request, durable in Postgres with hot status
// mirrored to the cache for fast polling.
type Job struct {
	Base
	TenantID    string     `gorm:"index" json:"tenant_id"`
	Type        string     `gorm:"not null" json:"type"`
	Status      JobStatus  `gorm:"default:queued;index" json:"status"`
	Payload     JSONMap    `gorm:"type:jsonb" json:"payload"`
	Result      JSONMap    `gorm:"type:jsonb" json:"result"`
	Error       string     `gorm:"type:text" json:"error"`
	RetryCount  int        `gorm:"default:0" json:"retry_count"`
	MaxRetries  int        `gorm:"default:3" json:"max_retries"`
	NextRetryAt *time.Time `json:"next_retry_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// BeforeCreate assigns the UUID primary key.
func (j *Job) BeforeCreate(_ *gorm.DB) error {
	j.EnsureID()
	return nil
}
