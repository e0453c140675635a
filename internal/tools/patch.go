package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotGitRepo is returned when apply_patch is invoked against a workspace
// that is not a git repository, since the tool applies patches via
// "git apply" rather than a hand-rolled hunk parser.
var ErrNotGitRepo = errors.New("workspace is not a git repository")

// PatchTool applies a unified diff to the workspace using "git apply". It
// requires approval like every other mutating tool.
type PatchTool struct {
	workspace string
}

// NewPatchTool returns a patch tool scoped to workspace.
func NewPatchTool(workspace string) *PatchTool {
	return &PatchTool{workspace: workspace}
}

func (t *PatchTool) Name() string          { return "apply_patch" }
func (t *PatchTool) Kind() Kind            { return KindWrite }
func (t *PatchTool) RequiresApproval() bool { return true }
func (t *PatchTool) AllowWithoutApproval() bool { return false }

func (t *PatchTool) Description() string {
	return "Apply a unified diff patch to the workspace using git apply."
}

func (t *PatchTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"patch": map[string]any{"type": "string", "description": "Unified diff content to apply."},
		},
		"required": []string{"patch"},
	})
}

func (t *PatchTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		Patch string `json:"patch"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Patch == "" {
		return ErrorResult("patch is required"), nil
	}

	applied, err := ApplyUnifiedDiff(ctx, t.workspace, input.Patch)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return JSONResult(applied), nil
}

// PatchApplication summarizes the outcome of applying a unified diff.
type PatchApplication struct {
	Applied bool   `json:"applied"`
	Output  string `json:"output"`
}

// ApplyUnifiedDiff shells out to "git apply" inside workspace. It returns
// ErrNotGitRepo if workspace has no .git directory, matching the contract
// that patches can only be applied to a version-controlled workspace.
func ApplyUnifiedDiff(ctx context.Context, workspace, patch string) (PatchApplication, error) {
	if _, err := os.Stat(filepath.Join(workspace, ".git")); err != nil {
		return PatchApplication{}, ErrNotGitRepo
	}

	cmd := buildArgCommand(ctx, workspace, "git", "apply", "--whitespace=nowarn", "-")
	cmd.Stdin = bytes.NewReader([]byte(patch))
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return PatchApplication{Applied: false, Output: out.String()}, fmt.Errorf("git apply failed: %s", out.String())
	}
	return PatchApplication{Applied: true, Output: out.String()}, nil
}
