// Package specgen turns a one-line user prompt into a complete markdown spec
// document (YAML front-matter plus the Goal/Constraints/Acceptance
// tests/Notes structure every spec-mode session and run expects) with a
// single model call.
package specgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentharness/agentd/internal/config"
	"github.com/agentharness/agentd/internal/modelkit"
)

// frontMatter is the YAML header every generated spec document carries.
type frontMatter struct {
	Name   string `yaml:"name"`
	Owner  string `yaml:"owner"`
	Status string `yaml:"status"`
}

func renderFrontMatter(name string) string {
	data, err := yaml.Marshal(frontMatter{Name: name, Owner: "you", Status: "draft"})
	if err != nil {
		// frontMatter has no cyclic or unsupported fields; Marshal cannot fail.
		return fmt.Sprintf("name: %s\nowner: you\nstatus: draft\n", name)
	}
	return "---\n" + string(data) + "---\n\n"
}

// Generator produces spec documents via a resolved model.
type Generator struct {
	providers map[string]modelkit.Provider
	records   []modelkit.ModelRecord
	router    *modelkit.Router
	policy    config.ModelPolicy
}

// New returns a Generator resolving models through router against records,
// dispatching to the provider registered under each record's provider name.
func New(providers map[string]modelkit.Provider, records []modelkit.ModelRecord, router *modelkit.Router, policy config.ModelPolicy) *Generator {
	return &Generator{providers: providers, records: records, router: router, policy: policy}
}

// Generate produces the markdown content for specs/<specName>/spec.md: a
// "# Goal" heading is required in the model's response, since that heading
// is what validate_spec checks for; a response missing it (or an empty
// response) falls back to a deterministic template built from prompt alone.
func (g *Generator) Generate(ctx context.Context, workspacePath, specName, prompt string) (string, error) {
	record, provider, err := g.resolveModel()
	if err != nil {
		return "", err
	}

	agents := readAgentsMD(workspacePath)
	systemPrompt := buildSpecPrompt(specName, prompt, agents)

	output, err := provider.Generate(ctx, modelkit.GenerateInput{
		Provider: record.Provider,
		Model:    record.ModelID,
		Messages: []modelkit.Message{
			{Role: modelkit.RoleUser, Content: []modelkit.ContentPart{{Type: modelkit.PartText, Text: systemPrompt}}},
		},
	})
	if err != nil {
		return "", err
	}

	content := strings.TrimSpace(output.Text)
	if content == "" {
		return "", fmt.Errorf("specgen: model returned empty spec")
	}
	if !strings.Contains(content, "# Goal") {
		content = fallbackSpec(specName, prompt)
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content, nil
}

func (g *Generator) resolveModel() (modelkit.ModelRecord, modelkit.Provider, error) {
	resolution, err := g.router.Resolve(g.records, modelkit.ResolutionRequest{
		Constraints: modelkit.Constraints{
			RequireTools:  g.policy.RequireTools,
			RequireVision: g.policy.RequireVision,
			MaxCostUSD:    g.policy.MaxCostUSD,
		},
		PreferredModels: g.policy.PreferredModels,
	})
	if err != nil {
		return modelkit.ModelRecord{}, nil, err
	}
	provider, ok := g.providers[resolution.Primary.Provider]
	if !ok {
		return modelkit.ModelRecord{}, nil, fmt.Errorf("specgen: no provider registered for %q", resolution.Primary.Provider)
	}
	return resolution.Primary, provider, nil
}

func readAgentsMD(workspacePath string) string {
	data, err := os.ReadFile(filepath.Join(workspacePath, "AGENTS.md"))
	if err != nil {
		return ""
	}
	return string(data)
}

func buildSpecPrompt(name, prompt, agents string) string {
	var b strings.Builder
	b.WriteString("You are an expert product/spec writer for a coding agent harness.\n")
	b.WriteString("Return ONLY markdown (no code fences, no commentary).\n")
	b.WriteString("Follow this exact structure:\n")
	b.WriteString(renderFrontMatter(name))
	b.WriteString("# Goal\n\n<one paragraph goal>\n\n")
	b.WriteString("# Constraints / nuances\n\n- <bullets>\n\n")
	b.WriteString("# Acceptance tests\n\n- <bulleted, runnable checks>\n\n")
	b.WriteString("# Notes\n\n- <optional>\n\n")
	b.WriteString("USER PROMPT:\n" + prompt + "\n\n")
	if strings.TrimSpace(agents) != "" {
		b.WriteString("AGENTS.md:\n" + agents + "\n\n")
	}
	return b.String()
}

func fallbackSpec(name, prompt string) string {
	return renderFrontMatter(name) +
		fmt.Sprintf(
			"# Goal\n\n%s\n\n"+
				"# Constraints / nuances\n\n- Follow repo conventions in AGENTS.md.\n\n"+
				"# Acceptance tests\n\n- make test\n",
			strings.TrimSpace(prompt),
		)
}
