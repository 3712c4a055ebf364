// Package agent runs the per-turn LLM graph: moderation, routing, the
// tool-calling agent nodes, and the fallback path that guarantees the
// customer always gets a reply.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/tokotalk/tokotalk/pkg/config"
	"github.com/tokotalk/tokotalk/pkg/llm"
	"github.com/tokotalk/tokotalk/pkg/models"
	"github.com/tokotalk/tokotalk/pkg/resilience"
	"github.com/tokotalk/tokotalk/pkg/tools"
)

// Replies of last resort. Indonesian first because that is where the
// customers are; the model handles language in every healthier path.
const (
	ApologyResponse = "Maaf, kami sedang mengalami kendala teknis. Mohon coba lagi dalam beberapa saat. " +
		"(Sorry, we are having technical difficulties. Please try again shortly.)"
	UnavailableResponse = "Maaf, layanan sedang tidak tersedia untuk sementara. Silakan coba lagi nanti. " +
		"(Sorry, the service is temporarily unavailable. Please try again later.)"
)

// DefaultMaxToolRounds caps tool-calling rounds per agent invocation.
const DefaultMaxToolRounds = 8

// Result is the outcome of one graph run. It is always usable: degraded
// paths fill Response with a canned reply instead of failing.
type Result struct {
	Response  string
	AgentType Route
	Verdict   Verdict
	ToolsUsed []string
	Usage     llm.Usage
}

// Runner executes the agent graph for one LLM configuration. It is safe
// for concurrent use; per-run state lives in the run struct.
type Runner struct {
	client   llm.Client
	cfg      models.LLMConfig
	tools    *tools.Registry
	breakers *resilience.Registry
	logger   *slog.Logger

	nodeRetry      resilience.RetryPolicy
	graphRetry     resilience.RetryPolicy
	defaultTimeout time.Duration
	maxToolRounds  int
	minResponse    int
}

// NewRunner wires a runner. defaults carries the process-wide timeout
// and backoff settings; cfg carries the tenant's model settings and may
// override the timeout per config row.
func NewRunner(client llm.Client, cfg models.LLMConfig, defaults config.LLMConfig,
	registry *tools.Registry, breakers *resilience.Registry, logger *slog.Logger) *Runner {
	nodeRetry := resilience.RetryPolicyFor(defaults)
	graphRetry := nodeRetry
	graphRetry.MaxAttempts = 2
	return &Runner{
		client:         client,
		cfg:            cfg,
		tools:          registry,
		breakers:       breakers,
		logger:         logger,
		nodeRetry:      nodeRetry,
		graphRetry:     graphRetry,
		defaultTimeout: defaults.DefaultTimeout,
		maxToolRounds:  DefaultMaxToolRounds,
		minResponse:    DefaultMinResponseLength,
	}
}

// Run executes the graph for one turn. Transport failures are retried
// with backoff; exhaustion degrades to the apology and an open circuit
// to the unavailable notice, so the caller always has something to send.
func (r *Runner) Run(ctx context.Context, input Input) Result {
	var result Result
	err := r.graphRetry.Retry(ctx, "agent-graph", func(ctx context.Context) error {
		res, runErr := r.runOnce(ctx, input)
		if runErr != nil {
			return runErr
		}
		result = res
		return nil
	})
	if err == nil {
		return result
	}

	var open *resilience.CircuitOpenError
	if errors.As(err, &open) {
		r.logger.Warn("Agent graph rejected by open circuit", "circuit", open.Name)
		return Result{Response: UnavailableResponse, AgentType: RouteFallback}
	}
	r.logger.Error("Agent graph exhausted retries", "error", err)
	return Result{Response: ApologyResponse, AgentType: RouteFallback}
}

// run carries the mutable state of one graph execution.
type run struct {
	*Runner
	input     Input
	usage     llm.Usage
	toolsUsed []string
}

func (r *Runner) runOnce(ctx context.Context, input Input) (Result, error) {
	rn := &run{Runner: r, input: input}

	verdict := rn.moderate(ctx)
	rt := route(verdict, input)
	if !verdict.IsSafe {
		rn.logger.Info("Message flagged by moderation",
			"conversation_id", input.ConversationID, "violations", verdict.Violations)
	}

	var content string
	var err error
	switch rt {
	case RouteFallback:
		content, err = rn.fallback(ctx)
	default:
		content, err = rn.agentNode(ctx, rt)
		if err != nil {
			// Transport errors bubble so the graph-level backoff can have
			// another go; a model that answered badly gets the fallback.
			return Result{}, err
		}
		if !Validate(content, r.minResponse).Valid {
			rn.logger.Warn("Agent response failed validation, falling back",
				"agent", rt, "conversation_id", input.ConversationID)
			rt = RouteFallback
			content, err = rn.fallback(ctx)
		}
	}
	if err != nil {
		return Result{}, err
	}

	return Result{
		Response:  content,
		AgentType: rt,
		Verdict:   verdict,
		ToolsUsed: rn.toolsUsed,
		Usage:     rn.usage,
	}, nil
}

// agentNode runs the main or followup node: system prompt, tool loop,
// validation with one re-ask for transient failure modes.
func (rn *run) agentNode(ctx context.Context, rt Route) (string, error) {
	defs := rn.tools.DefinitionsFor(rn.input.State)
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}

	messages := make([]llm.Message, 0, len(rn.input.History)+1)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: systemPrompt(rn.input.AgentPrompt, rn.input, rt, names),
	})
	messages = append(messages, rn.input.History...)

	var last Validation
	for attempt := 0; attempt < 2; attempt++ {
		content, err := rn.toolLoop(ctx, string(rt), messages, defs)
		if err != nil {
			return "", err
		}
		last = Validate(content, rn.minResponse)
		if last.Valid {
			return content, nil
		}
		if !IsRetryableFailure(last) {
			break
		}
		rn.logger.Warn("Re-asking after unusable response", "agent", rt, "quality", last.Quality)
	}
	return "", nil
}

// toolLoop calls the model and executes any requested tools, feeding the
// results back until the model answers in plain content or the round cap
// is hit.
func (rn *run) toolLoop(ctx context.Context, component string, messages []llm.Message, defs []llm.ToolDefinition) (string, error) {
	msgs := slices.Clone(messages)
	for round := 0; ; round++ {
		resp, err := rn.callLLM(ctx, component, llm.Request{
			Messages:    msgs,
			Tools:       defs,
			Temperature: rn.cfg.Temperature,
			MaxTokens:   rn.cfg.MaxTokens,
		})
		if err != nil {
			return "", err
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}
		if round >= rn.maxToolRounds-1 {
			rn.logger.Warn("Tool round cap reached",
				"component", component, "conversation_id", rn.input.ConversationID)
			return resp.Content, nil
		}

		msgs = append(msgs, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		// Sequential on purpose: later tools may depend on earlier tools'
		// side effects (create_order then add_to_order).
		for _, call := range resp.ToolCalls {
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				Content:    rn.executeToolCall(ctx, call),
				ToolCallID: call.ID,
			})
		}
	}
}

func (rn *run) executeToolCall(ctx context.Context, call llm.ToolCall) string {
	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			raw, _ := json.Marshal(map[string]string{
				"error": fmt.Sprintf("invalid tool arguments: %v", err),
			})
			return string(raw)
		}
	}
	rn.toolsUsed = append(rn.toolsUsed, call.Name)
	return rn.tools.Execute(ctx, call.Name, tools.Invocation{
		TenantID:       rn.input.TenantID,
		CustomerID:     rn.input.CustomerID,
		ConversationID: rn.input.ConversationID,
		Args:           args,
	})
}

// fallback answers without tools. An open circuit bubbles; any other
// failure collapses into the canned apology so this node cannot fail.
func (rn *run) fallback(ctx context.Context) (string, error) {
	resp, err := rn.callLLM(ctx, "fallback", llm.Request{
		Messages: append([]llm.Message{
			{Role: llm.RoleSystem, Content: fallbackPrompt},
		}, rn.input.History...),
		Temperature: rn.cfg.Temperature,
		MaxTokens:   rn.cfg.MaxTokens,
	})
	if err != nil {
		var open *resilience.CircuitOpenError
		if errors.As(err, &open) {
			return "", err
		}
		rn.logger.Error("Fallback agent failed, using canned apology", "error", err)
		return ApologyResponse, nil
	}
	if v := Validate(resp.Content, rn.minResponse); !v.Valid {
		return ApologyResponse, nil
	}
	return resp.Content, nil
}

// callLLM is the per-call resilience sandwich: node retry around the
// component circuit breaker around the per-config timeout. A timeout is
// retried until the breaker opens, after which attempts fail fast.
func (rn *run) callLLM(ctx context.Context, component string, req llm.Request) (llm.Response, error) {
	breaker := rn.breakers.Get(component + "-" + rn.cfg.Name)
	timeout := rn.llmTimeout()

	var resp llm.Response
	err := rn.nodeRetry.Retry(ctx, component, func(ctx context.Context) error {
		return breaker.Call(ctx, func(ctx context.Context) error {
			var callErr error
			resp, callErr = resilience.WithTimeout(ctx, timeout, component,
				func(ctx context.Context) (llm.Response, error) {
					return rn.client.Complete(ctx, req)
				})
			return callErr
		})
	})
	if err != nil {
		return llm.Response{}, err
	}
	rn.usage.Add(resp.Usage)
	return resp, nil
}

// llmTimeout prefers the per-config row, then the process default.
func (r *Runner) llmTimeout() time.Duration {
	if r.cfg.TimeoutSeconds > 0 {
		return time.Duration(r.cfg.TimeoutSeconds) * time.Second
	}
	if r.defaultTimeout > 0 {
		return r.defaultTimeout
	}
	return 30 * time.Second
}
