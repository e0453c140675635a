package runengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentharness/agentd/internal/contextbundle"
	"github.com/agentharness/agentd/internal/idgen"
	"github.com/agentharness/agentd/internal/modelkit"
)

// PlanStep is one unit of a linear plan a Run executes in order.
type PlanStep struct {
	ID            string
	Title         string
	Type          string // command, patch, diagram, note
	NeedsApproval bool
	Command       string
	Patch         string
}

// Plan is a sequence of PlanSteps a RunEngine executes against a workspace.
type Plan struct {
	Steps []PlanStep
}

// defaultPlan is returned when plan generation produces nothing usable: run
// the test suite and best-effort render diagrams, the same fallback the two
// steps a spec-less run can always attempt.
func defaultPlan() Plan {
	return Plan{
		Steps: []PlanStep{
			{ID: idgen.NewStep(), Title: "Run tests", Type: "command", Command: "make test"},
			{ID: idgen.NewStep(), Title: "Render diagrams (best effort)", Type: "command", Command: "make diagrams"},
		},
	}
}

// generatePlan asks the model to turn specText plus bundle into a JSON plan,
// falling back to defaultPlan on any parse failure or provider error so a
// run never stalls on a malformed planning response.
func generatePlan(ctx context.Context, provider modelkit.Provider, record modelkit.ModelRecord, specText string, bundle contextbundle.Bundle) Plan {
	prompt := buildPlanningPrompt(specText, bundle)
	output, err := provider.Generate(ctx, modelkit.GenerateInput{
		Provider: record.Provider,
		Model:    record.ModelID,
		Messages: []modelkit.Message{
			{Role: modelkit.RoleUser, Content: []modelkit.ContentPart{{Type: modelkit.PartText, Text: prompt}}},
		},
	})
	if err != nil || output == nil {
		return defaultPlan()
	}
	plan, err := parsePlanFromText(output.Text)
	if err != nil {
		return defaultPlan()
	}
	normalizePlan(&plan)
	return plan
}

// parsePlanFromText extracts {"steps":[...]} from a model response, which
// may be wrapped in a ```json fenced block or have leading/trailing prose.
func parsePlanFromText(text string) (Plan, error) {
	value := strings.TrimSpace(text)
	value = strings.TrimPrefix(value, "```json")
	value = strings.TrimPrefix(value, "```")
	value = strings.TrimSuffix(value, "```")
	value = strings.TrimSpace(value)

	start := strings.Index(value, "{")
	end := strings.LastIndex(value, "}")
	if start >= 0 && end > start {
		value = value[start : end+1]
	}

	var data struct {
		Steps []struct {
			ID            string `json:"id"`
			Title         string `json:"title"`
			Type          string `json:"type"`
			NeedsApproval bool   `json:"needs_approval"`
			Command       string `json:"command"`
			Patch         string `json:"patch"`
		} `json:"steps"`
	}
	if err := json.Unmarshal([]byte(value), &data); err != nil {
		return Plan{}, fmt.Errorf("runengine: parse plan: %w", err)
	}
	if len(data.Steps) == 0 {
		return Plan{}, fmt.Errorf("runengine: no steps in plan")
	}

	steps := make([]PlanStep, 0, len(data.Steps))
	for _, s := range data.Steps {
		steps = append(steps, PlanStep{
			ID: s.ID, Title: s.Title, Type: s.Type,
			NeedsApproval: s.NeedsApproval, Command: s.Command, Patch: s.Patch,
		})
	}
	return Plan{Steps: steps}, nil
}

func buildPlanningPrompt(specText string, bundle contextbundle.Bundle) string {
	var b strings.Builder
	b.WriteString("You are an expert coding-agent planner.\n")
	b.WriteString("Return JSON ONLY (no markdown, no code fences) with this exact schema:\n\n")
	b.WriteString(`{"steps":[{"id":"step_...","title":"...","type":"command|patch|diagram|note","needs_approval":true|false,"command":"...","patch":"..."}]}`)
	b.WriteString("\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Use needs_approval=true for any destructive command or infra change.\n")
	b.WriteString("- Use type=patch with a unified diff in patch when you propose code edits.\n")
	b.WriteString("- Keep the step list short and executable.\n\n")
	b.WriteString("SPEC:\n")
	b.WriteString(specText)
	b.WriteString("\n\n")
	if bundle.AgentsMD != "" {
		b.WriteString("AGENTS.md:\n" + bundle.AgentsMD + "\n\n")
	}
	if bundle.RepoMap != "" {
		b.WriteString("REPO MAP (symbols):\n" + bundle.RepoMap + "\n\n")
	}
	if bundle.GitStatus != "" {
		b.WriteString("GIT STATUS:\n" + bundle.GitStatus + "\n\n")
	}
	return b.String()
}

func normalizePlan(plan *Plan) {
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if strings.TrimSpace(step.ID) == "" {
			step.ID = idgen.NewStep()
		}
		if strings.TrimSpace(step.Title) == "" {
			step.Title = step.Type
		}
		if strings.TrimSpace(step.Type) == "" {
			step.Type = "note"
		}
	}
}
