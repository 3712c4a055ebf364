package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tokotalk/tokotalk/pkg/agent"
	"github.com/tokotalk/tokotalk/pkg/broker"
	"github.com/tokotalk/tokotalk/pkg/events"
	"github.com/tokotalk/tokotalk/pkg/llm"
	"github.com/tokotalk/tokotalk/pkg/metrics"
	"github.com/tokotalk/tokotalk/pkg/models"
	"github.com/tokotalk/tokotalk/pkg/payments"
	"github.com/tokotalk/tokotalk/pkg/services"
)

// Task kinds carried on the ai_tasks queue.
const (
	TaskKindJob            = "job"
	TaskKindPaymentWebhook = "payment_webhook"
)

// TaskEnvelope multiplexes the ai_tasks queue: direct AI jobs and
// deferred payment webhook verification share it.
type TaskEnvelope struct {
	Kind           string              `json:"kind"`
	JobID          string              `json:"job_id,omitempty"`
	PaymentWebhook *PaymentWebhookTask `json:"payment_webhook,omitempty"`
}

// PaymentWebhookTask carries a raw gateway callback for verification on
// the worker, so the HTTP path can acknowledge immediately.
type PaymentWebhookTask struct {
	Provider   string            `json:"provider"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
	ReceivedAt time.Time         `json:"received_at"`
}

// DelayedPublisher schedules a redelivery after a delay.
type DelayedPublisher interface {
	PublishDelayed(ctx context.Context, queue string, body any, delay time.Duration) error
}

// TaskWorker consumes ai_tasks.
type TaskWorker struct {
	orch     *Orchestrator
	gateways *payments.Registry
	payments *services.PaymentService
	orders   *services.OrderService
	jobs     *services.JobService
	emitter  *events.Emitter
	delayed  DelayedPublisher
	queue    string
	logger   *slog.Logger
}

// NewTaskWorker wires the ai_tasks handler.
func NewTaskWorker(orch *Orchestrator, gateways *payments.Registry, paySvc *services.PaymentService,
	orders *services.OrderService, jobs *services.JobService, emitter *events.Emitter,
	delayed DelayedPublisher, queue string, logger *slog.Logger) *TaskWorker {
	return &TaskWorker{
		orch:     orch,
		gateways: gateways,
		payments: paySvc,
		orders:   orders,
		jobs:     jobs,
		emitter:  emitter,
		delayed:  delayed,
		queue:    queue,
		logger:   logger,
	}
}

// HandleTask is the broker.Handler for ai_tasks.
func (w *TaskWorker) HandleTask(ctx context.Context, delivery amqp.Delivery) error {
	var envelope TaskEnvelope
	if err := json.Unmarshal(delivery.Body, &envelope); err != nil {
		return fmt.Errorf("%w: decode task envelope: %v", broker.ErrBadMessage, err)
	}

	switch envelope.Kind {
	case TaskKindJob:
		return w.handleJob(ctx, envelope.JobID)
	case TaskKindPaymentWebhook:
		if envelope.PaymentWebhook == nil {
			return fmt.Errorf("%w: payment webhook task without payload", broker.ErrBadMessage)
		}
		return w.handlePaymentWebhook(ctx, envelope.PaymentWebhook)
	default:
		return fmt.Errorf("%w: unknown task kind %q", broker.ErrBadMessage, envelope.Kind)
	}
}

// handlePaymentWebhook verifies the callback against the gateway and
// applies the resulting status transition.
func (w *TaskWorker) handlePaymentWebhook(ctx context.Context, task *PaymentWebhookTask) error {
	log := w.logger.With("provider", task.Provider)

	gateway, err := w.gateways.Get(task.Provider)
	if err != nil {
		return fmt.Errorf("%w: %v", broker.ErrBadMessage, err)
	}

	header := make(http.Header, len(task.Headers))
	for k, v := range task.Headers {
		header.Set(k, v)
	}
	note, err := gateway.VerifyWebhook(header, task.Body)
	if err != nil {
		// Forged or garbled callbacks are dropped, not retried.
		log.Warn("Rejected payment notification", "error", err)
		metrics.PaymentNotifications.WithLabelValues(task.Provider, "rejected").Inc()
		return nil
	}

	payment, fromStatus, changed, err := w.payments.ApplyNotification(ctx, task.Provider, note)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			log.Warn("Notification for unknown payment", "order_id", note.OrderID)
			metrics.PaymentNotifications.WithLabelValues(task.Provider, "unknown").Inc()
			return nil
		}
		return fmt.Errorf("apply %s notification: %w", task.Provider, err)
	}
	if !changed {
		metrics.PaymentNotifications.WithLabelValues(task.Provider, "stale").Inc()
		return nil
	}

	metrics.PaymentNotifications.WithLabelValues(task.Provider, "applied").Inc()
	w.emitter.Payment(ctx, events.EventPaymentStatusChanged, payment.TenantID, payment.ID,
		payment.OrderID, task.Provider, string(payment.Status), string(fromStatus), payment.Amount)

	if payment.Status == models.PaymentPaid {
		if order, err := w.orders.UpdateStatus(ctx, payment.TenantID, payment.OrderID, models.OrderProcessing); err != nil {
			log.Warn("Paid order not moved to processing", "order_id", payment.OrderID, "error", err)
		} else {
			w.emitter.Order(ctx, events.EventOrderStatusChanged, order.TenantID, order.ID,
				order.CustomerID, string(order.Status), string(models.OrderConfirmed), order.Total)
		}
	}
	return nil
}

// handleJob runs one queued AI job through the agent graph. Late retries
// for jobs that already finished are dropped by the status machine.
func (w *TaskWorker) handleJob(ctx context.Context, jobID string) error {
	log := w.logger.With("job_id", jobID)

	job, err := w.jobs.MarkProcessing(ctx, jobID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrIllegalTransition) {
			log.Info("Skipping stale job delivery", "error", err)
			return nil
		}
		return fmt.Errorf("mark job processing: %w", err)
	}

	result, runErr := w.runJob(ctx, job)
	if runErr == nil {
		if _, err := w.jobs.Complete(ctx, jobID, result); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		metrics.JobsProcessed.WithLabelValues(string(models.JobCompleted)).Inc()
		w.emitter.Job(ctx, events.EventJobCompleted, job.TenantID, jobID, job.Type,
			string(models.JobCompleted), "")
		return nil
	}

	failed, delay, err := w.jobs.Fail(ctx, jobID, runErr)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if failed.Status == models.JobFailed {
		log.Error("Job failed permanently", "error", runErr, "retries", failed.RetryCount)
		metrics.JobsProcessed.WithLabelValues(string(models.JobFailed)).Inc()
		w.emitter.Job(ctx, events.EventJobFailed, job.TenantID, jobID, job.Type,
			string(models.JobFailed), runErr.Error())
		return nil
	}

	log.Warn("Job will retry", "error", runErr, "attempt", failed.RetryCount, "delay", delay)
	if err := w.delayed.PublishDelayed(ctx, w.queue, TaskEnvelope{Kind: TaskKindJob, JobID: jobID}, delay); err != nil {
		return fmt.Errorf("schedule job retry: %w", err)
	}
	if _, err := w.jobs.Requeue(ctx, jobID); err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// runJob executes the job's prompt through the agent graph without a
// conversation attached.
func (w *TaskWorker) runJob(ctx context.Context, job *models.Job) (models.JSONMap, error) {
	prompt, _ := job.Payload["prompt"].(string)
	if prompt == "" {
		return nil, fmt.Errorf("job %s has no prompt", job.ID)
	}

	result, err := w.orch.RunPrompt(ctx, job.TenantID, prompt)
	if err != nil {
		return nil, err
	}
	return models.JSONMap{
		"response":   result.Response,
		"agent_type": string(result.AgentType),
		"tokens":     result.Usage.TotalTokens,
	}, nil
}

// RunPrompt runs a bare prompt through a tenant's agent configuration.
// Used for direct AI jobs; no conversation state or tools are involved.
func (o *Orchestrator) RunPrompt(ctx context.Context, tenantID, prompt string) (agent.Result, error) {
	tenant, err := o.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return agent.Result{}, fmt.Errorf("resolve tenant: %w", err)
	}
	cfg, err := o.tenants.ResolveLLMConfig(ctx, tenant)
	if err != nil {
		return agent.Result{}, fmt.Errorf("resolve llm config: %w", err)
	}
	runner, err := o.runnerFor(*cfg)
	if err != nil {
		return agent.Result{}, fmt.Errorf("build llm client: %w", err)
	}

	result := runner.Run(ctx, agent.Input{
		TenantID:    tenant.ID,
		AgentPrompt: tenant.AgentPrompt,
		State:       models.StateCompleted, // exposes no tools
		History:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	return result, nil
}
