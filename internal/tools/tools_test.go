package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadWriteEditRoundTrip(t *testing.T) {
	dir := t.TempDir()
	write := NewWriteTool(dir)
	res, err := write.Execute(context.Background(), json.RawMessage(`{"path":"a.txt","content":"hello\n"}`))
	if err != nil || res.IsError {
		t.Fatalf("write failed: %v %+v", err, res)
	}

	read := NewReadTool(dir, 0)
	res, err = read.Execute(context.Background(), json.RawMessage(`{"path":"a.txt"}`))
	if err != nil || res.IsError {
		t.Fatalf("read failed: %v %+v", err, res)
	}
	if !strings.Contains(res.Content, "hello") {
		t.Fatalf("read content missing payload: %s", res.Content)
	}

	edit := NewEditTool(dir)
	res, err = edit.Execute(context.Background(), json.RawMessage(`{"path":"a.txt","edits":[{"old_text":"hello","new_text":"world"}]}`))
	if err != nil || res.IsError {
		t.Fatalf("edit failed: %v %+v", err, res)
	}

	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != "world" {
		t.Fatalf("file content = %q, want world", string(data))
	}
}

func TestResolverRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	read := NewReadTool(dir, 0)
	res, err := read.Execute(context.Background(), json.RawMessage(`{"path":"../../etc/passwd"}`))
	if err != nil {
		t.Fatalf("unexpected go error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result for path escaping workspace")
	}
}

func TestShellToolRunsCommand(t *testing.T) {
	dir := t.TempDir()
	shell := NewShellTool(dir)
	res, err := shell.Execute(context.Background(), json.RawMessage(`{"command":"echo hi"}`))
	if err != nil || res.IsError {
		t.Fatalf("shell failed: %v %+v", err, res)
	}
	if !strings.Contains(res.Content, "hi") {
		t.Fatalf("shell output missing echo: %s", res.Content)
	}
}

func TestPatchToolRequiresGitRepo(t *testing.T) {
	dir := t.TempDir()
	patch := NewPatchTool(dir)
	res, err := patch.Execute(context.Background(), json.RawMessage(`{"patch":"diff --git a/x b/x\n"}`))
	if err != nil {
		t.Fatalf("unexpected go error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected error result for non-git workspace")
	}
	if !strings.Contains(res.Content, "git repository") {
		t.Fatalf("expected NotGitRepo message, got %s", res.Content)
	}
}

func TestSpecValidateContent(t *testing.T) {
	ok, problems := ValidateSpecContent("# Goal\nfoo\n# Constraints / nuances\nbar\n")
	if ok {
		t.Fatalf("expected missing acceptance heading to fail validation, problems=%v", problems)
	}
	ok, problems = ValidateSpecContent("# Goal\nfoo\n# Constraints / nuances\nbar\n# Acceptance tests\nbaz\n")
	if !ok {
		t.Fatalf("expected valid spec, got problems=%v", problems)
	}
}

func TestRegistryInvokeValidatesSchema(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry()
	if err := reg.Add(NewWriteTool(dir)); err != nil {
		t.Fatal(err)
	}
	res, err := reg.Invoke(context.Background(), Call{Name: "write_file", Input: json.RawMessage(`{"path":"a.txt"}`)})
	if err != nil {
		t.Fatalf("unexpected go error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected schema validation error for missing required content field")
	}
}

func TestRegistryInvokeUnknownTool(t *testing.T) {
	reg := NewRegistry()
	res, err := reg.Invoke(context.Background(), Call{Name: "nope"})
	if err != nil {
		t.Fatalf("unexpected go error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected error result for unknown tool")
	}
}

func TestDefinitionsSortedByName(t *testing.T) {
	dir := t.TempDir()
	reg, err := DefaultRegistry(Config{Workspace: dir})
	if err != nil {
		t.Fatal(err)
	}
	defs := reg.Definitions()
	for i := 1; i < len(defs); i++ {
		if defs[i-1].Name > defs[i].Name {
			t.Fatalf("definitions not sorted: %s before %s", defs[i-1].Name, defs[i].Name)
		}
	}
}
