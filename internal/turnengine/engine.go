// Package turnengine implements the agent turn loop: given a session and a
// pending turn, it snapshots workspace context, resolves a model, then
// iterates model calls and tool executions (brokering human approval for
// dangerous tools) until the model goes quiet or an iteration budget is
// exhausted.
package turnengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentharness/agentd/internal/cancel"
	"github.com/agentharness/agentd/internal/config"
	"github.com/agentharness/agentd/internal/contextbundle"
	"github.com/agentharness/agentd/internal/idgen"
	"github.com/agentharness/agentd/internal/modelkit"
	"github.com/agentharness/agentd/internal/observability"
	"github.com/agentharness/agentd/internal/specpath"
	"github.com/agentharness/agentd/internal/store"
	"github.com/agentharness/agentd/internal/tools"
)

// maxIterations bounds a turn's plan/act rounds before it fails with "max
// turn iterations reached".
const maxIterations = 8

// Providers maps a model's provider identifier (e.g. "anthropic", "stub") to
// the concrete backend that serves it.
type Providers map[string]modelkit.Provider

// Options configures an Engine beyond what the Store and tool registry
// factory already know.
type Options struct {
	ApprovalPolicy config.ApprovalPolicy
	ModelPolicy    config.ModelPolicy
	VerifyCommands []string
	VerifyTimeout  time.Duration
	AutoVerify     bool
}

// Engine runs turns for sessions backed by a Store. It is safe for
// concurrent use: only one turn may run per session at a time, enforced by
// an internal admission set.
type Engine struct {
	store        *store.Store
	router       *modelkit.Router
	providers    Providers
	modelRecords []modelkit.ModelRecord
	metrics      *observability.Metrics
	gatherer     *contextbundle.Gatherer
	opts         Options

	mu      sync.Mutex
	running map[string]bool
}

// New returns an Engine. modelRecords is the full catalog the router
// resolves against; providers must contain an entry for every provider
// named in modelRecords.
func New(st *store.Store, router *modelkit.Router, providers Providers, modelRecords []modelkit.ModelRecord, metrics *observability.Metrics, opts Options) *Engine {
	if opts.ApprovalPolicy.RequireForKinds == nil {
		opts.ApprovalPolicy.RequireForKinds = []string{"write", "exec"}
	}
	return &Engine{
		store:        st,
		router:       router,
		providers:    providers,
		modelRecords: modelRecords,
		metrics:      metrics,
		gatherer:     contextbundle.NewGatherer(),
		opts:         opts,
		running:      map[string]bool{},
	}
}

// SetModelPolicy replaces the policy used for model resolution in turns
// started after this call; in-flight turns keep whatever policy they
// resolved against at start.
func (e *Engine) SetModelPolicy(policy config.ModelPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts.ModelPolicy = policy
}

// StartTurn admits turnID for sessionID (erroring if the session already has
// a turn in flight) and runs it on a new goroutine.
func (e *Engine) StartTurn(sessionID, turnID string) error {
	e.mu.Lock()
	if e.running[sessionID] {
		e.mu.Unlock()
		return fmt.Errorf("session already running: %s", sessionID)
	}
	e.running[sessionID] = true
	e.mu.Unlock()

	token := cancel.New()
	e.store.SetSessionCancel(sessionID, token)
	go e.executeTurn(sessionID, turnID, token)
	return nil
}

func (e *Engine) executeTurn(sessionID, turnID string, token *cancel.Token) {
	defer func() {
		e.mu.Lock()
		delete(e.running, sessionID)
		e.mu.Unlock()
	}()

	start := time.Now()
	outcome := "failed"
	iterations := 0
	if e.metrics != nil {
		e.metrics.TurnStarted()
		defer func() {
			e.metrics.TurnCompleted(outcome, time.Since(start).Seconds(), iterations)
		}()
	}

	ctx, stop := contextFromToken(token)
	defer stop()

	if err := e.runTurn(ctx, sessionID, turnID, token, &iterations); err != nil {
		if token.Canceled() {
			outcome = "canceled"
			e.cancelTurn(sessionID, turnID, err)
			return
		}
		outcome = "failed"
		e.failTurn(sessionID, turnID, err)
		return
	}
	outcome = "completed"
}

// contextFromToken derives a cancellable context.Context from a cancel.Token
// so tool execution and model calls observe the same signal the approval
// waiters poll.
func contextFromToken(token *cancel.Token) (context.Context, func()) {
	ctx, cancelFn := context.WithCancel(context.Background())
	go func() {
		select {
		case <-token.Done():
			cancelFn()
		case <-ctx.Done():
		}
	}()
	return ctx, cancelFn
}

func (e *Engine) runTurn(ctx context.Context, sessionID, turnID string, token *cancel.Token, iterations *int) error {
	session, err := e.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	turnIdx := turnIndex(session.Turns, turnID)
	if turnIdx == -1 {
		return fmt.Errorf("turn not found: %s", turnID)
	}

	now := time.Now().UTC()
	session.Status = "active"
	session.LastTurnID = turnID
	session.Turns[turnIdx].Status = "running"
	session.Turns[turnIdx].StartedAt = &now
	session.Turns[turnIdx].Error = ""
	if err := e.store.UpdateSession(&session); err != nil {
		return err
	}
	e.emit(sessionID, turnID, "turn_started", "", nil)

	bundle := e.gatherer.Gather(ctx, session.WorkspacePath)

	record, provider, err := e.resolveModel()
	if err != nil {
		return err
	}
	e.emit(sessionID, turnID, "model_resolved", "", map[string]any{"model": record.ModelID})

	toolCfg := tools.Config{
		Workspace:      session.WorkspacePath,
		VerifyCommands: e.opts.VerifyCommands,
		VerifyTimeout:  e.opts.VerifyTimeout,
	}

	if session.Mode == "spec" {
		if strings.TrimSpace(session.SpecPath) == "" {
			specPath, err := specpath.Default(session.WorkspacePath, fmt.Sprintf("session-%s", session.ID))
			if err != nil {
				return err
			}
			session.SpecPath = specPath
			if err := e.store.UpdateSession(&session); err != nil {
				return err
			}
			e.emit(sessionID, turnID, "spec_path_set", "", map[string]any{"spec_path": specPath})
		}
		created, err := specpath.EnsureFile(session.SpecPath)
		if err != nil {
			return err
		}
		if created {
			e.emit(sessionID, turnID, "spec_created", "", map[string]any{"spec_path": session.SpecPath})
		}
		toolCfg.SpecPath = session.SpecPath
	}

	registry, err := tools.DefaultRegistry(toolCfg)
	if err != nil {
		return err
	}

	workspaceDirty := false
	toolCallCounts := map[string]int{}

	for iter := 0; iter < maxIterations; iter++ {
		*iterations = iter + 1
		if token.Canceled() {
			return fmt.Errorf("canceled: %s", token.Reason())
		}

		messages := e.composeMessages(session, bundle, provider.SupportsTools())
		output, err := e.callModel(ctx, sessionID, turnID, record, provider, messages, registry.Definitions())
		if err != nil {
			return err
		}
		e.recordCost(&session, record, output)

		callsToRun, skipped := dedupCalls(output.ToolCalls, toolCallCounts)
		for _, call := range skipped {
			e.appendSkippedTool(sessionID, turnID, call, "duplicate tool call: no new info")
		}

		assistantParts := buildAssistantParts(output.Text, callsToRun)
		if len(assistantParts) > 0 {
			msg := store.Message{Role: "assistant", Parts: assistantParts}
			saved, err := e.store.AppendMessage(sessionID, msg)
			if err != nil {
				return err
			}
			e.emit(sessionID, turnID, "message_added", "", map[string]any{"message_id": saved.ID, "role": saved.Role})
			session.Messages = append(session.Messages, saved)
		}

		if len(output.ToolCalls) == 0 {
			if e.opts.AutoVerify && workspaceDirty {
				ok, err := e.invokeVerify(ctx, sessionID, turnID, registry, &session, token)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
			}
			return e.completeTurn(sessionID, turnID)
		}

		newToolCalls := 0
		for _, call := range callsToRun {
			newToolCalls++
			tool, ok := registry.Get(call.Name)
			if !ok {
				return fmt.Errorf("unknown tool: %s", call.Name)
			}
			def := tools.Definition{
				Name: tool.Name(), Kind: tool.Kind(),
				RequiresApproval: tool.RequiresApproval(), AllowWithoutApproval: tool.AllowWithoutApproval(),
			}
			if approvalRequired(def, e.opts.ApprovalPolicy) {
				if err := e.brokerApproval(sessionID, turnID, turnIdx, &session, call, token); err != nil {
					return err
				}
			}

			e.emit(sessionID, turnID, "tool_call_started", "", map[string]any{"tool": call.Name, "tool_call_id": call.ID})
			result, execErr := registry.Invoke(ctx, tools.Call{ID: call.ID, Name: call.Name, Input: call.Input})
			if execErr != nil {
				result = tools.ErrorResult(execErr.Error())
			}
			e.recordToolMetric(tool.Name(), result)
			e.emit(sessionID, turnID, "tool_call_completed", "", map[string]any{
				"tool": call.Name, "tool_call_id": call.ID, "ok": !result.IsError, "error": errString(result),
			})

			toolMsg := store.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Parts:      []store.MessagePart{{Type: "text", Text: result.Content}},
			}
			saved, err := e.store.AppendMessage(sessionID, toolMsg)
			if err != nil {
				return err
			}
			e.emit(sessionID, turnID, "message_added", "", map[string]any{"message_id": saved.ID, "role": saved.Role})
			session.Messages = append(session.Messages, saved)

			isSpecWrite := session.Mode == "spec" && call.Name == "write_spec"
			if (tool.Kind() == tools.KindWrite || tool.Kind() == tools.KindExec) && !isSpecWrite {
				workspaceDirty = true
			}

			if isSpecWrite {
				ok, err := e.invokeSpecValidate(ctx, sessionID, turnID, registry, &session)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
			}

			if result.IsError {
				break
			}
		}

		if newToolCalls == 0 {
			if e.opts.AutoVerify && workspaceDirty {
				ok, err := e.invokeVerify(ctx, sessionID, turnID, registry, &session, token)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
			}
			return e.completeTurn(sessionID, turnID)
		}
	}

	return fmt.Errorf("max turn iterations reached")
}

func (e *Engine) resolveModel() (modelkit.ModelRecord, modelkit.Provider, error) {
	resolution, err := e.router.Resolve(e.modelRecords, modelkit.ResolutionRequest{
		Constraints: modelkit.Constraints{
			RequireTools:  e.opts.ModelPolicy.RequireTools,
			RequireVision: e.opts.ModelPolicy.RequireVision,
			MaxCostUSD:    e.opts.ModelPolicy.MaxCostUSD,
		},
		PreferredModels: e.opts.ModelPolicy.PreferredModels,
	})
	if err != nil {
		return modelkit.ModelRecord{}, nil, err
	}
	provider, ok := e.providers[resolution.Primary.Provider]
	if !ok {
		return modelkit.ModelRecord{}, nil, fmt.Errorf("no provider registered for %q", resolution.Primary.Provider)
	}
	return resolution.Primary, provider, nil
}

func (e *Engine) callModel(ctx context.Context, sessionID, turnID string, record modelkit.ModelRecord, provider modelkit.Provider, messages []modelkit.Message, defs []tools.Definition) (*modelkit.GenerateOutput, error) {
	start := time.Now()
	system, rest := splitSystem(messages)
	output, err := provider.Generate(ctx, modelkit.GenerateInput{
		Provider: record.Provider,
		Model:    record.ModelID,
		System:   system,
		Messages: rest,
		Tools:    toModelToolDefs(defs),
	})
	status := "success"
	if err != nil {
		status = "error"
	}
	if e.metrics != nil {
		if output != nil {
			e.metrics.RecordModelRequest(record.Provider, record.ModelID, status, time.Since(start).Seconds(), output.Usage.PromptTokens, output.Usage.CompletionTokens)
		} else {
			e.metrics.RecordModelRequest(record.Provider, record.ModelID, status, time.Since(start).Seconds(), 0, 0)
		}
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(output.Text) != "" {
		e.emit(sessionID, turnID, "model_output_delta", "", map[string]any{"delta": output.Text})
	}
	e.emit(sessionID, turnID, "model_output_completed", "", map[string]any{"finish_reason": string(output.FinishReason)})
	return output, nil
}

func toModelToolDefs(defs []tools.Definition) []modelkit.ToolDefinition {
	out := make([]modelkit.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, modelkit.ToolDefinition{Name: d.Name, Description: d.Description, Schema: d.Schema})
	}
	return out
}

func (e *Engine) recordCost(session *store.Session, record modelkit.ModelRecord, output *modelkit.GenerateOutput) {
	cost := output.CostUSD
	if cost == nil {
		cost = modelkit.EstimateCostUSD(record.Provider, record.ModelID, output.Usage)
	}
	if cost == nil {
		return
	}
	session.Cost.TotalUSD = round6(session.Cost.TotalUSD + *cost)
	if output.CostUSD == nil {
		session.Cost.Estimated = true
	}
	e.store.UpdateSession(session)
	if e.metrics != nil {
		e.metrics.RecordModelCost(record.Provider, record.ModelID, *cost)
	}
}

func round6(v float64) float64 {
	return float64(int64(v*1e6+0.5)) / 1e6
}

func (e *Engine) recordToolMetric(name string, result *tools.Result) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	if result.IsError {
		outcome = "error"
	}
	e.metrics.RecordToolExecution(name, outcome, 0)
}

func errString(result *tools.Result) string {
	if !result.IsError {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(result.Content), &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return result.Content
}

func turnIndex(turns []store.Turn, turnID string) int {
	for i, t := range turns {
		if t.ID == turnID {
			return i
		}
	}
	return -1
}

func (e *Engine) emit(sessionID, turnID, eventType, message string, data map[string]any) {
	e.store.AppendSessionEvent(sessionID, store.SessionEvent{
		SessionID: sessionID,
		TurnID:    turnID,
		Type:      eventType,
		Message:   message,
		Data:      data,
	})
}

func (e *Engine) appendSkippedTool(sessionID, turnID string, call modelkit.ToolCall, reason string) {
	e.emit(sessionID, turnID, "tool_call_skipped", "", map[string]any{"tool": call.Name, "tool_call_id": call.ID, "reason": reason})
	e.emit(sessionID, turnID, "tool_call_completed", "", map[string]any{
		"tool": call.Name, "tool_call_id": call.ID, "ok": false, "error": reason, "skipped": true,
	})
}

func (e *Engine) brokerApproval(sessionID, turnID string, turnIdx int, session *store.Session, call modelkit.ToolCall, token *cancel.Token) error {
	session.Status = "waiting_approval"
	session.Turns[turnIdx].Status = "waiting_approval"
	if err := e.store.UpdateSession(session); err != nil {
		return err
	}
	if err := e.store.RequireSessionApproval(sessionID, call.ID); err != nil {
		return err
	}
	e.emit(sessionID, turnID, "approval_requested", "", map[string]any{"tool": call.Name, "tool_call_id": call.ID})

	decision, err := e.store.WaitForSessionApproval(sessionID, call.ID, token)
	if err != nil {
		return err
	}
	if decision.Action == "deny" {
		e.emit(sessionID, turnID, "approval_denied", "", map[string]any{"tool": call.Name, "tool_call_id": call.ID, "reason": decision.Reason})
		if e.metrics != nil {
			e.metrics.RecordApproval("deny")
		}
		return fmt.Errorf("approval denied")
	}
	if e.metrics != nil {
		e.metrics.RecordApproval("approve")
	}
	session.Status = "active"
	session.Turns[turnIdx].Status = "running"
	if err := e.store.UpdateSession(session); err != nil {
		return err
	}
	e.emit(sessionID, turnID, "approval_granted", "", map[string]any{"tool": call.Name, "tool_call_id": call.ID, "reason": decision.Reason})
	return nil
}

func (e *Engine) invokeVerify(ctx context.Context, sessionID, turnID string, registry *tools.Registry, session *store.Session, token *cancel.Token) (bool, error) {
	tool, ok := registry.Get("verify")
	if !ok {
		return false, fmt.Errorf("verify tool not configured")
	}
	call := modelkit.ToolCall{ID: idgen.NewToolCall(), Name: "verify", Input: json.RawMessage("{}")}
	def := tools.Definition{Name: tool.Name(), Kind: tool.Kind(), RequiresApproval: tool.RequiresApproval(), AllowWithoutApproval: tool.AllowWithoutApproval()}
	if approvalRequired(def, e.opts.ApprovalPolicy) {
		if err := e.store.RequireSessionApproval(sessionID, call.ID); err != nil {
			return false, err
		}
		e.emit(sessionID, turnID, "approval_requested", "", map[string]any{"tool": "verify", "tool_call_id": call.ID})
		decision, err := e.store.WaitForSessionApproval(sessionID, call.ID, token)
		if err != nil {
			return false, err
		}
		if decision.Action == "deny" {
			return false, fmt.Errorf("verification denied")
		}
	}
	return e.runSyntheticTool(ctx, sessionID, turnID, registry, session, "verify", call)
}

func (e *Engine) invokeSpecValidate(ctx context.Context, sessionID, turnID string, registry *tools.Registry, session *store.Session) (bool, error) {
	call := modelkit.ToolCall{ID: idgen.NewToolCall(), Name: "validate_spec", Input: json.RawMessage("{}")}
	ok, err := e.runSyntheticTool(ctx, sessionID, turnID, registry, session, "validate_spec", call)
	if err != nil {
		return false, err
	}
	e.emit(sessionID, turnID, "spec_validated", "", map[string]any{"ok": ok})
	return ok, nil
}

func (e *Engine) runSyntheticTool(ctx context.Context, sessionID, turnID string, registry *tools.Registry, session *store.Session, name string, call modelkit.ToolCall) (bool, error) {
	e.emit(sessionID, turnID, "tool_call_started", "", map[string]any{"tool": name, "tool_call_id": call.ID})
	result, err := registry.Invoke(ctx, tools.Call{ID: call.ID, Name: call.Name, Input: call.Input})
	if err != nil {
		result = tools.ErrorResult(err.Error())
	}
	e.emit(sessionID, turnID, "tool_call_completed", "", map[string]any{
		"tool": name, "tool_call_id": call.ID, "ok": !result.IsError, "error": errString(result),
	})
	msg := store.Message{Role: "tool", ToolCallID: call.ID, Parts: []store.MessagePart{{Type: "text", Text: result.Content}}}
	saved, err := e.store.AppendMessage(sessionID, msg)
	if err != nil {
		return false, err
	}
	e.emit(sessionID, turnID, "message_added", "", map[string]any{"message_id": saved.ID, "role": saved.Role})
	session.Messages = append(session.Messages, saved)
	return !result.IsError, nil
}

func (e *Engine) completeTurn(sessionID, turnID string) error {
	session, err := e.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	session.Status = "active"
	session.Error = ""
	if idx := turnIndex(session.Turns, turnID); idx != -1 {
		now := time.Now().UTC()
		session.Turns[idx].Status = "succeeded"
		session.Turns[idx].CompletedAt = &now
	}
	if err := e.store.UpdateSession(&session); err != nil {
		return err
	}
	e.emit(sessionID, turnID, "turn_completed", "", nil)
	return nil
}

func (e *Engine) failTurn(sessionID, turnID string, cause error) {
	session, err := e.store.GetSession(sessionID)
	if err != nil {
		return
	}
	session.Status = "failed"
	session.Error = cause.Error()
	if idx := turnIndex(session.Turns, turnID); idx != -1 {
		now := time.Now().UTC()
		session.Turns[idx].Status = "failed"
		session.Turns[idx].CompletedAt = &now
		session.Turns[idx].Error = cause.Error()
	}
	e.store.UpdateSession(&session)
	e.emit(sessionID, turnID, "turn_failed", cause.Error(), nil)
}

func (e *Engine) cancelTurn(sessionID, turnID string, cause error) {
	session, err := e.store.GetSession(sessionID)
	if err != nil {
		return
	}
	session.Status = "canceled"
	session.Error = cause.Error()
	if idx := turnIndex(session.Turns, turnID); idx != -1 {
		now := time.Now().UTC()
		session.Turns[idx].Status = "failed"
		session.Turns[idx].CompletedAt = &now
		session.Turns[idx].Error = session.Error
	}
	e.store.UpdateSession(&session)
	e.emit(sessionID, turnID, "session_canceled", session.Error, nil)
}

func approvalRequired(def tools.Definition, policy config.ApprovalPolicy) bool {
	if def.AllowWithoutApproval {
		return false
	}
	if def.RequiresApproval {
		return true
	}
	for _, kind := range policy.RequireForKinds {
		if kind == string(def.Kind) {
			return true
		}
	}
	for _, name := range policy.RequireForTools {
		if name == def.Name {
			return true
		}
	}
	return false
}
