// Package runengine implements the plan-oriented Run: given a workspace and
// a spec file, it gathers context, asks a model for a short linear plan of
// command/patch/diagram/note steps, then executes that plan step by step,
// brokering human approval for any step the plan itself flags as needing
// it. Unlike a turn, a run does not converse — it produces one plan and
// drives it to completion or failure.
package runengine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentharness/agentd/internal/cancel"
	"github.com/agentharness/agentd/internal/config"
	"github.com/agentharness/agentd/internal/contextbundle"
	harnessexec "github.com/agentharness/agentd/internal/exec"
	"github.com/agentharness/agentd/internal/modelkit"
	"github.com/agentharness/agentd/internal/observability"
	"github.com/agentharness/agentd/internal/specpath"
	"github.com/agentharness/agentd/internal/store"
	"github.com/agentharness/agentd/internal/tools"
)

// commandTimeout bounds a single command step; a run that needs longer than
// this for one step is almost certainly stuck.
const commandTimeout = 30 * time.Minute

// Engine plans and executes Runs. It is safe for concurrent use: only one
// goroutine may drive a given run at a time, enforced by an admission set.
type Engine struct {
	store     *store.Store
	router    *modelkit.Router
	providers map[string]modelkit.Provider
	records   []modelkit.ModelRecord
	metrics   *observability.Metrics
	gatherer  *contextbundle.Gatherer
	policy    config.ModelPolicy

	mu      sync.Mutex
	running map[string]bool
}

// New returns an Engine backed by st, resolving models through router
// against records via the providers registered under their provider name.
func New(st *store.Store, router *modelkit.Router, providers map[string]modelkit.Provider, records []modelkit.ModelRecord, metrics *observability.Metrics, policy config.ModelPolicy) *Engine {
	return &Engine{
		store:     st,
		router:    router,
		providers: providers,
		records:   records,
		metrics:   metrics,
		gatherer:  contextbundle.NewGatherer(),
		policy:    policy,
		running:   map[string]bool{},
	}
}

// SetModelPolicy replaces the policy used for model resolution in runs
// started after this call; in-flight runs keep whatever policy they
// resolved against at start.
func (e *Engine) SetModelPolicy(policy config.ModelPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = policy
}

// StartRun admits runID (erroring if it is already running) and drives it
// to completion on a new goroutine.
func (e *Engine) StartRun(runID string) error {
	e.mu.Lock()
	if e.running[runID] {
		e.mu.Unlock()
		return fmt.Errorf("run already running: %s", runID)
	}
	e.running[runID] = true
	e.mu.Unlock()

	token := cancel.New()
	e.store.SetRunCancel(runID, token)
	go e.execute(runID, token)
	return nil
}

func (e *Engine) execute(runID string, token *cancel.Token) {
	defer func() {
		e.mu.Lock()
		delete(e.running, runID)
		e.mu.Unlock()
	}()

	if e.metrics != nil {
		e.metrics.RunStarted()
		defer e.metrics.RunFinished()
	}

	ctx, stop := contextFromToken(token)
	defer stop()

	if err := e.runOnce(ctx, runID, token); err != nil {
		if token.Canceled() {
			e.cancelRun(runID, err)
			return
		}
		e.failRun(runID, err)
		return
	}
}

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

func (e *Engine) runOnce(ctx context.Context, runID string, token *cancel.Token) error {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return err
	}
	run.Status = "running"
	if err := e.store.UpdateRun(&run); err != nil {
		return err
	}
	e.emit(runID, "run_started", "run started", nil)

	if strings.TrimSpace(run.SpecPath) == "" {
		specPath, err := specpath.Default(run.WorkspacePath, fmt.Sprintf("run-%s", run.ID))
		if err != nil {
			return err
		}
		run.SpecPath = specPath
		if err := e.store.UpdateRun(&run); err != nil {
			return err
		}
	}
	created, err := specpath.EnsureFile(run.SpecPath)
	if err != nil {
		return err
	}
	if created {
		e.emit(runID, "spec_created", "", map[string]any{"spec_path": run.SpecPath})
	}

	specBytes, err := os.ReadFile(run.SpecPath)
	if err != nil {
		return err
	}
	specText := string(specBytes)
	e.emit(runID, "spec_loaded", "", map[string]any{"bytes": len(specText)})

	bundle := e.gatherer.Gather(ctx, run.WorkspacePath)
	e.emit(runID, "context_gathered", "", map[string]any{
		"has_agents_md": bundle.AgentsMD != "",
		"repo_tree_len": countLines(bundle.RepoTree),
		"repo_map_len":  countLines(bundle.RepoMap),
	})

	record, provider, err := e.resolveModel()
	if err != nil {
		return err
	}
	run.ModelCanonical = record.ModelID
	if err := e.store.UpdateRun(&run); err != nil {
		return err
	}
	e.emit(runID, "model_resolved", "", map[string]any{"model": record.ModelID})

	plan := generatePlan(ctx, provider, record, specText, bundle)
	e.emit(runID, "plan_generated", "", map[string]any{"steps": len(plan.Steps)})

	run.Steps = make([]store.Step, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		run.Steps = append(run.Steps, store.Step{
			ID: step.ID, Title: step.Title, Type: step.Type,
			NeedsApproval: step.NeedsApproval, Command: step.Command, Patch: step.Patch,
			Status: "pending",
		})
	}
	if err := e.store.UpdateRun(&run); err != nil {
		return err
	}

	for _, step := range plan.Steps {
		if token.Canceled() {
			return fmt.Errorf("canceled: %s", token.Reason())
		}
		if err := e.executeStep(ctx, runID, step, token); err != nil {
			return err
		}
	}

	run, err = e.store.GetRun(runID)
	if err != nil {
		return err
	}
	run.Status = "succeeded"
	run.Error = ""
	if err := e.store.UpdateRun(&run); err != nil {
		return err
	}
	e.emit(runID, "run_succeeded", "run completed successfully", nil)
	return nil
}

func (e *Engine) resolveModel() (modelkit.ModelRecord, modelkit.Provider, error) {
	resolution, err := e.router.Resolve(e.records, modelkit.ResolutionRequest{
		Constraints: modelkit.Constraints{
			RequireTools:  e.policy.RequireTools,
			RequireVision: e.policy.RequireVision,
			MaxCostUSD:    e.policy.MaxCostUSD,
		},
		PreferredModels: e.policy.PreferredModels,
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

func (e *Engine) executeStep(ctx context.Context, runID string, step PlanStep, token *cancel.Token) error {
	e.emit(runID, "step_started", "", map[string]any{"step_id": step.ID, "title": step.Title, "type": step.Type})

	run, err := e.store.GetRun(runID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	markStep(&run, step.ID, func(s *store.Step) { s.Status = "running"; s.StartedAt = &now })
	if err := e.store.UpdateRun(&run); err != nil {
		return err
	}

	if step.NeedsApproval {
		run.Status = "waiting_approval"
		markStep(&run, step.ID, func(s *store.Step) { s.Status = "waiting_approval" })
		if err := e.store.UpdateRun(&run); err != nil {
			return err
		}
		if err := e.store.RequireApproval(runID, step.ID); err != nil {
			return err
		}
		e.emit(runID, "approval_requested", "", map[string]any{"step_id": step.ID, "title": step.Title})
		if err := e.store.WaitForApproval(runID, step.ID, token); err != nil {
			return err
		}
		run, err = e.store.GetRun(runID)
		if err != nil {
			return err
		}
		run.Status = "running"
		markStep(&run, step.ID, func(s *store.Step) { s.Status = "running" })
		if err := e.store.UpdateRun(&run); err != nil {
			return err
		}
	}

	switch strings.ToLower(step.Type) {
	case "command":
		return e.execCommandStep(ctx, runID, step, token)
	case "patch":
		return e.execPatchStep(ctx, runID, step)
	case "diagram":
		diagramStep := step
		diagramStep.Type = "command"
		diagramStep.Command = "make diagrams"
		return e.execCommandStep(ctx, runID, diagramStep, token)
	default:
		return e.completeStep(runID, step.ID, true, "")
	}
}

func (e *Engine) execCommandStep(ctx context.Context, runID string, step PlanStep, token *cancel.Token) error {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(step.Command) == "" {
		return e.completeStep(runID, step.ID, true, "no command (skipped)")
	}

	ok := true
	result, runErr := harnessexec.Run(ctx, harnessexec.Options{
		Command: step.Command,
		Dir:     run.WorkspacePath,
		Timeout: commandTimeout,
	})
	if runErr != nil {
		ok = false
	}

	artifactRel, err := e.writeArtifact(runID, step.ID, "command.json", mustIndentJSON(result))
	if err != nil {
		return err
	}
	e.emit(runID, "command_executed", "", map[string]any{
		"step_id": step.ID, "cmd": step.Command, "exit_code": result.ExitCode, "artifact_rel": artifactRel,
	})

	if !ok || result.ExitCode != 0 {
		if cerr := e.completeStep(runID, step.ID, false, "command failed"); cerr != nil {
			return cerr
		}
		return fmt.Errorf("command failed")
	}
	return e.completeStep(runID, step.ID, true, "")
}

func (e *Engine) execPatchStep(ctx context.Context, runID string, step PlanStep) error {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(step.Patch) == "" {
		return e.completeStep(runID, step.ID, true, "no patch (skipped)")
	}

	applied, applyErr := tools.ApplyUnifiedDiff(ctx, run.WorkspacePath, step.Patch)
	ok := applyErr == nil

	artifactRel, err := e.writeArtifact(runID, step.ID, "patch_apply.json", mustIndentJSON(applied))
	if err != nil {
		return err
	}
	e.emit(runID, "patch_applied", "", map[string]any{
		"step_id": step.ID, "applied": applied.Applied, "artifact_rel": artifactRel,
	})

	if !ok {
		if cerr := e.completeStep(runID, step.ID, false, "patch apply error"); cerr != nil {
			return cerr
		}
		return fmt.Errorf("patch apply error: %w", applyErr)
	}
	return e.completeStep(runID, step.ID, true, "")
}

func (e *Engine) completeStep(runID, stepID string, ok bool, msg string) error {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	status := "succeeded"
	if !ok {
		status = "failed"
	}
	markStep(&run, stepID, func(s *store.Step) { s.CompletedAt = &now; s.Status = status })
	if err := e.store.UpdateRun(&run); err != nil {
		return err
	}
	eventType := "step_completed"
	if !ok {
		eventType = "step_failed"
	}
	e.emit(runID, eventType, msg, map[string]any{"step_id": stepID, "ok": ok})
	return nil
}

func (e *Engine) writeArtifact(runID, stepID, name, content string) (string, error) {
	base := filepath.Join(e.store.DataDir(), "runs", runID, "artifacts", stepID)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(filepath.Join(base, name), []byte(content), 0o644); err != nil {
		return "", err
	}
	return filepath.ToSlash(filepath.Join("artifacts", stepID, name)), nil
}

func (e *Engine) failRun(runID string, cause error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return
	}
	run.Status = "failed"
	run.Error = cause.Error()
	e.store.UpdateRun(&run)
	e.emit(runID, "run_failed", cause.Error(), nil)
}

func (e *Engine) cancelRun(runID string, cause error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return
	}
	run.Status = "canceled"
	run.Error = ""
	e.store.UpdateRun(&run)
	e.emit(runID, "run_canceled", cause.Error(), nil)
}

func (e *Engine) emit(runID, eventType, message string, data map[string]any) {
	e.store.AppendEvent(runID, store.Event{RunID: runID, Type: eventType, Message: message, Data: data})
}

func markStep(run *store.Run, stepID string, mutate func(*store.Step)) {
	for i := range run.Steps {
		if run.Steps[i].ID == stepID {
			mutate(&run.Steps[i])
			return
		}
	}
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}

func mustIndentJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(out)
}
