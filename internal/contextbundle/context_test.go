package contextbundle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestGatherReadsAgentsMD(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("be terse"), 0o644); err != nil {
		t.Fatal(err)
	}
	bundle := NewGatherer().Gather(context.Background(), dir)
	if bundle.AgentsMD != "be terse" {
		t.Fatalf("AgentsMD = %q", bundle.AgentsMD)
	}
	if bundle.Workspace != dir {
		t.Fatalf("Workspace = %q, want %q", bundle.Workspace, dir)
	}
}

func TestGatherDegradesGracefullyWithoutAgentsMD(t *testing.T) {
	dir := t.TempDir()
	bundle := NewGatherer().Gather(context.Background(), dir)
	if bundle.AgentsMD != "" {
		t.Fatalf("AgentsMD = %q, want empty", bundle.AgentsMD)
	}
	if bundle.GitStatus != "" {
		t.Fatalf("GitStatus = %q, want empty for a non-git workspace", bundle.GitStatus)
	}
}

func TestGatherListsRepoTree(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	bundle := NewGatherer().Gather(context.Background(), dir)
	if bundle.RepoTree != "main.go" {
		t.Fatalf("RepoTree = %q, want %q", bundle.RepoTree, "main.go")
	}
}

func TestFormatOmitsEmptySections(t *testing.T) {
	b := Bundle{AgentsMD: "be terse"}
	out := b.Format()
	if out != "AGENTS.md:\nbe terse" {
		t.Fatalf("Format() = %q", out)
	}
}

func TestFormatJoinsPopulatedSections(t *testing.T) {
	b := Bundle{AgentsMD: "a", RepoTree: "b", GitStatus: "c"}
	out := b.Format()
	want := "AGENTS.md:\na\n\nREPO TREE:\nb\n\nGIT STATUS:\nc"
	if out != want {
		t.Fatalf("Format() =\n%q\nwant\n%q", out, want)
	}
}
