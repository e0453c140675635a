package tools

import "time"

// Config controls which tools DefaultRegistry wires up.
type Config struct {
	Workspace      string
	SpecPath       string
	VerifyCommands []string
	VerifyTimeout  time.Duration
}

// DefaultRegistry builds the canonical tool set for a coding-agent turn:
// read/write/edit/search/repo_tree/git_status/shell/apply_patch/verify, plus
// the spec read/write/validate trio when cfg.SpecPath is set.
func DefaultRegistry(cfg Config) (*Registry, error) {
	reg := NewRegistry()
	toAdd := []Tool{
		NewReadTool(cfg.Workspace, 0),
		NewWriteTool(cfg.Workspace),
		NewEditTool(cfg.Workspace),
		NewSearchTool(cfg.Workspace, 0),
		NewRepoTreeTool(cfg.Workspace, 0),
		NewRepoMapTool(cfg.Workspace, 0),
		NewGitStatusTool(cfg.Workspace),
		NewShellTool(cfg.Workspace),
		NewPatchTool(cfg.Workspace),
		NewDiagramTool(cfg.Workspace),
		NewVerifyTool(cfg.Workspace, cfg.VerifyCommands, cfg.VerifyTimeout),
	}
	if cfg.SpecPath != "" {
		toAdd = append(toAdd,
			NewSpecReadTool(cfg.SpecPath),
			NewSpecWriteTool(cfg.SpecPath),
			NewSpecValidateTool(cfg.SpecPath),
		)
	}
	for _, t := range toAdd {
		if err := reg.Add(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
