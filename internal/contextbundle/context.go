// Package contextbundle snapshots a workspace's AGENTS.md, repo tree,
// symbol map, and VCS status into a ContextBundle the turn and run engines
// attach to a model request. Every individual source is best-effort: a
// missing AGENTS.md or absent git repo degrades the bundle, it never fails
// the snapshot.
package contextbundle

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	harnessexec "github.com/agentharness/agentd/internal/exec"
	"github.com/agentharness/agentd/internal/symbols"
	"github.com/agentharness/agentd/internal/tools"
)

const (
	maxTreeFiles   = 500
	maxSymbolEntries = 400
)

// Bundle is the snapshot handed to a model request as grounding context.
type Bundle struct {
	GeneratedAt time.Time `json:"generated_at"`
	Workspace   string    `json:"workspace"`
	AgentsMD    string    `json:"agents_md,omitempty"`
	RepoTree    string    `json:"repo_tree,omitempty"`
	RepoMap     string    `json:"repo_map,omitempty"`
	GitStatus   string    `json:"git_status,omitempty"`
}

// Gatherer builds Bundles for a workspace, caching nothing: each call walks
// the tree fresh, since a turn snapshots context exactly once at admission,
// not per model iteration.
type Gatherer struct{}

// NewGatherer returns a Gatherer. It carries no state; it exists so the
// turn engine can depend on an interface instead of a free function,
// matching how tools.Registry and the Store are threaded through.
func NewGatherer() *Gatherer { return &Gatherer{} }

// Gather produces a Bundle for workspace, swallowing every individual
// source's failure so the bundle degrades gracefully to empty fields.
func (g *Gatherer) Gather(ctx context.Context, workspace string) Bundle {
	bundle := Bundle{GeneratedAt: time.Now().UTC(), Workspace: workspace}

	if data, err := os.ReadFile(filepath.Join(workspace, "AGENTS.md")); err == nil {
		bundle.AgentsMD = string(data)
	}

	files, _, err := tools.WalkFiles(workspace, maxTreeFiles)
	if err == nil {
		bundle.RepoTree = strings.Join(files, "\n")
		if repoMap, err := symbols.New(workspace).BuildRepoMap(ctx, files, maxSymbolEntries); err == nil {
			bundle.RepoMap = repoMap
		}
	}

	if _, err := os.Stat(filepath.Join(workspace, ".git")); err == nil {
		runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if result, err := harnessexec.Run(runCtx, harnessexec.Options{
			Command: "git status --porcelain",
			Dir:     workspace,
			Timeout: 10 * time.Second,
		}); err == nil {
			bundle.GitStatus = strings.TrimSpace(result.Stdout)
		}
	}

	return bundle
}

// Format renders the bundle as a single text block suitable for prepending
// to a model request, grouping sections the way the turn engine's prompt
// composition step expects.
func (b Bundle) Format() string {
	var parts []string
	if b.AgentsMD != "" {
		parts = append(parts, "AGENTS.md:\n"+b.AgentsMD)
	}
	if b.RepoTree != "" {
		parts = append(parts, "REPO TREE:\n"+b.RepoTree)
	}
	if b.RepoMap != "" {
		parts = append(parts, "REPO MAP (symbols):\n"+b.RepoMap)
	}
	if b.GitStatus != "" {
		parts = append(parts, "GIT STATUS:\n"+b.GitStatus)
	}
	return strings.Join(parts, "\n\n")
}
