package tools

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

var defaultIgnoredDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	".agent-harness-cache": true, "dist": true, "build": true,
}

// RepoTreeTool lists files in the workspace, bounded to maxEntries.
type RepoTreeTool struct {
	workspace  string
	maxEntries int
}

// NewRepoTreeTool returns a repo tree tool scoped to workspace.
func NewRepoTreeTool(workspace string, maxEntries int) *RepoTreeTool {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &RepoTreeTool{workspace: workspace, maxEntries: maxEntries}
}

func (t *RepoTreeTool) Name() string          { return "repo_tree" }
func (t *RepoTreeTool) Kind() Kind            { return KindRead }
func (t *RepoTreeTool) RequiresApproval() bool { return false }
func (t *RepoTreeTool) AllowWithoutApproval() bool { return false }

func (t *RepoTreeTool) Description() string {
	return "List files in the workspace, up to a bounded number of entries."
}

func (t *RepoTreeTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{"type": "object", "properties": map[string]any{}})
}

func (t *RepoTreeTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	files, truncated, err := WalkFiles(t.workspace, t.maxEntries)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return JSONResult(map[string]any{
		"files":     files,
		"truncated": truncated,
	}), nil
}

// WalkFiles walks workspace depth-first, skipping common ignored
// directories, and returns up to max relative file paths sorted
// lexicographically plus whether the walk was truncated.
func WalkFiles(workspace string, max int) ([]string, bool, error) {
	var files []string
	truncated := false
	err := filepath.WalkDir(workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(workspace, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}
		base := filepath.Base(rel)
		if d.IsDir() {
			if defaultIgnoredDirs[base] || strings.HasPrefix(base, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if len(files) >= max {
			truncated = true
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	sort.Strings(files)
	if len(files) > max {
		files = files[:max]
		truncated = true
	}
	return files, truncated, nil
}
