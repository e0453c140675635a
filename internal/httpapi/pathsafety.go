package httpapi

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// isSafeSpecName reports whether name is safe to use as a directory
// component: alphanumeric plus dash/underscore only.
func isSafeSpecName(name string) bool {
	if name == "" {
		return false
	}
	for _, ch := range name {
		if ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || ch == '-' || ch == '_' {
			continue
		}
		return false
	}
	return true
}

// safeWorkspaceJoin joins rel onto workspace, rejecting any result that
// would resolve outside workspace (e.g. via ../ segments).
func safeWorkspaceJoin(workspace, rel string) (string, error) {
	root, err := filepath.Abs(workspace)
	if err != nil {
		return "", err
	}
	abs := filepath.Clean(filepath.Join(root, rel))
	relBack, err := filepath.Rel(root, abs)
	if err != nil || relBack == ".." || strings.HasPrefix(relBack, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return abs, nil
}

// resolveSpecPath resolves a user-supplied spec_path (absolute or relative)
// against workspace, rejecting anything that would escape it.
func resolveSpecPath(workspace, specPath string) (string, error) {
	if strings.TrimSpace(specPath) == "" {
		return "", fmt.Errorf("spec_path is empty")
	}
	root, err := filepath.Abs(workspace)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(specPath) {
		abs := filepath.Clean(specPath)
		relBack, err := filepath.Rel(root, abs)
		if err != nil || relBack == ".." || strings.HasPrefix(relBack, ".."+string(os.PathSeparator)) {
			return "", fmt.Errorf("spec_path escapes workspace: %s", specPath)
		}
		return abs, nil
	}
	return safeWorkspaceJoin(root, specPath)
}
