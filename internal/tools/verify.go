package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	harnessexec "github.com/agentharness/agentd/internal/exec"
)

// VerifyTool runs a fixed, operator-configured list of verification
// commands (e.g. "make test") in sequence and reports their combined
// outcome. Unlike ShellTool, the commands are not model-supplied, so the
// tool does not require approval by default.
type VerifyTool struct {
	workspace string
	commands  []string
	timeout   time.Duration
}

// NewVerifyTool returns a verify tool scoped to workspace, running commands
// in order and stopping at the first failure.
func NewVerifyTool(workspace string, commands []string, timeout time.Duration) *VerifyTool {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &VerifyTool{workspace: workspace, commands: commands, timeout: timeout}
}

func (t *VerifyTool) Name() string          { return "verify" }
func (t *VerifyTool) Kind() Kind            { return KindExec }
func (t *VerifyTool) RequiresApproval() bool { return false }
func (t *VerifyTool) AllowWithoutApproval() bool { return false }

func (t *VerifyTool) Description() string {
	return "Run the configured verification commands (e.g. tests) and report pass/fail."
}

func (t *VerifyTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{"type": "object", "properties": map[string]any{}})
}

// StepResult captures the outcome of one verify command.
type StepResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

func (t *VerifyTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	if len(t.commands) == 0 {
		return ErrorResult("no verify commands configured"), nil
	}

	var steps []StepResult
	ok := true
	for _, command := range t.commands {
		result, err := harnessexec.Run(ctx, harnessexec.Options{
			Command:        command,
			Dir:            t.workspace,
			Timeout:        t.timeout,
			MaxOutputBytes: maxShellOutputBytes,
		})
		if err != nil {
			return ErrorResult(fmt.Sprintf("run %q: %v", command, err)), nil
		}
		steps = append(steps, StepResult{
			Command:  command,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		})
		if result.ExitCode != 0 {
			ok = false
			break
		}
	}

	return JSONResult(map[string]any{
		"ok":    ok,
		"steps": steps,
	}), nil
}
