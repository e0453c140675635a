// Package specpath locates and seeds the markdown spec document a
// spec-mode session or run authors against.
package specpath

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// DefaultContent is written to a freshly created spec file: the three
// headings every validate_spec / SpecGenerator check requires.
const DefaultContent = `# Goal

<describe the goal>

# Constraints / nuances

- <constraints>

# Acceptance tests

- <acceptance tests>
`

// Default returns "<workspace>/specs/<name>/spec.md", resolved to an
// absolute path.
func Default(workspace, name string) (string, error) {
	if strings.TrimSpace(workspace) == "" {
		return "", errors.New("specpath: workspace is empty")
	}
	if strings.TrimSpace(name) == "" {
		return "", errors.New("specpath: name is empty")
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "", err
	}
	return filepath.Join(abs, "specs", name, "spec.md"), nil
}

// EnsureFile creates path with DefaultContent if it does not already exist,
// returning whether it created the file.
func EnsureFile(path string) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, errors.New("specpath: path is empty")
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, []byte(DefaultContent), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
