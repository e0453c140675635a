package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	harnessexec "github.com/agentharness/agentd/internal/exec"
)

const defaultShellTimeout = 30 * time.Minute
const maxShellOutputBytes = 64000

// ShellTool runs an arbitrary shell command inside the workspace. It always
// requires approval, since it is the broadest-blast-radius tool available.
type ShellTool struct {
	workspace string
}

// NewShellTool returns a shell tool scoped to workspace.
func NewShellTool(workspace string) *ShellTool {
	return &ShellTool{workspace: workspace}
}

func (t *ShellTool) Name() string          { return "shell" }
func (t *ShellTool) Kind() Kind            { return KindExec }
func (t *ShellTool) RequiresApproval() bool { return true }
func (t *ShellTool) AllowWithoutApproval() bool { return false }

func (t *ShellTool) Description() string {
	return "Run a shell command in the workspace and return its stdout/stderr/exit code."
}

func (t *ShellTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":         map[string]any{"type": "string", "description": "Shell command to execute."},
			"cwd":             map[string]any{"type": "string", "description": "Working directory, relative to workspace."},
			"timeout_seconds": map[string]any{"type": "integer", "minimum": 0, "description": "Timeout in seconds (0 = tool default)."},
		},
		"required": []string{"command"},
	})
}

func (t *ShellTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		Command        string `json:"command"`
		Cwd            string `json:"cwd"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return ErrorResult("command is required"), nil
	}
	if strings.ContainsRune(command, 0) {
		return ErrorResult("command contains a null byte"), nil
	}

	timeout := defaultShellTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}

	dir := t.workspace
	if strings.TrimSpace(input.Cwd) != "" {
		r := newResolver(t.workspace)
		resolved, err := r.resolve(input.Cwd)
		if err != nil {
			return ErrorResult(err.Error()), nil
		}
		dir = resolved
	}

	result, err := harnessexec.Run(ctx, harnessexec.Options{
		Command:        command,
		Dir:            dir,
		Timeout:        timeout,
		MaxOutputBytes: maxShellOutputBytes,
	})
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return JSONResult(result), nil
}

// buildArgCommand shells out to a fixed binary with explicit arguments
// (verify, git status) rather than a free-form command string, so argument
// injection is validated per-argument instead of relying on the shell to
// interpret metacharacters.
func buildArgCommand(ctx context.Context, dir string, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd
}
