package specgen

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentharness/agentd/internal/config"
	"github.com/agentharness/agentd/internal/modelkit"
)

func newTestGenerator(stub *modelkit.StubProvider) *Generator {
	records := stub.ListModelRecords()
	router := modelkit.NewRouter()
	return New(map[string]modelkit.Provider{"stub": stub}, records, router, config.ModelPolicy{})
}

func TestGenerateReturnsModelContentWhenWellFormed(t *testing.T) {
	stub := modelkit.NewStubProvider(modelkit.DefaultStubRecords())
	stub.Enqueue(modelkit.GenerateOutput{
		Text: "---\nname: widget\nowner: you\nstatus: draft\n---\n\n# Goal\n\nBuild a widget.\n",
	})
	gen := newTestGenerator(stub)

	content, err := gen.Generate(context.Background(), t.TempDir(), "widget", "Build a widget")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(content, "# Goal") || !strings.Contains(content, "Build a widget.") {
		t.Fatalf("unexpected content: %s", content)
	}
	if !strings.HasSuffix(content, "\n") {
		t.Fatal("expected trailing newline")
	}
}

func TestGenerateFallsBackWhenGoalHeadingMissing(t *testing.T) {
	stub := modelkit.NewStubProvider(modelkit.DefaultStubRecords())
	stub.Enqueue(modelkit.GenerateOutput{Text: "Sure, here's a spec with no structure at all."})
	gen := newTestGenerator(stub)

	content, err := gen.Generate(context.Background(), t.TempDir(), "widget", "Build a widget")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(content, "# Goal") {
		t.Fatalf("fallback spec should contain a Goal heading: %s", content)
	}
	if !strings.Contains(content, "Build a widget") {
		t.Fatalf("fallback spec should embed the prompt: %s", content)
	}
}

func TestGenerateErrorsOnEmptyModelOutput(t *testing.T) {
	stub := modelkit.NewStubProvider(modelkit.DefaultStubRecords())
	stub.Enqueue(modelkit.GenerateOutput{Text: "   "})
	gen := newTestGenerator(stub)

	if _, err := gen.Generate(context.Background(), t.TempDir(), "widget", "Build a widget"); err == nil {
		t.Fatal("expected an error for empty model output")
	}
}

func TestGenerateIncludesAgentsMDWhenPresent(t *testing.T) {
	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, "AGENTS.md"), []byte("Use tabs, not spaces.\n"), 0o644); err != nil {
		t.Fatalf("write AGENTS.md: %v", err)
	}

	stub := modelkit.NewStubProvider(modelkit.DefaultStubRecords())
	stub.EnqueueFunc(func(in modelkit.GenerateInput) (*modelkit.GenerateOutput, error) {
		prompt := in.Messages[0].Content[0].Text
		if !strings.Contains(prompt, "Use tabs, not spaces.") {
			t.Fatalf("prompt missing AGENTS.md content: %s", prompt)
		}
		return &modelkit.GenerateOutput{Text: "# Goal\n\ndone\n"}, nil
	})
	gen := newTestGenerator(stub)

	if _, err := gen.Generate(context.Background(), workspace, "widget", "Build a widget"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}
