package httpapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/agentharness/agentd/internal/tools"
)

// workspaceTreeMaxFiles bounds the walk the same way the reference
// server's default_walk_options does (max_files=800).
const workspaceTreeMaxFiles = 800

func (s *Server) handleWorkspaceTree(w http.ResponseWriter, r *http.Request) {
	workspace := strings.TrimSpace(r.URL.Query().Get("workspace_path"))
	if workspace == "" {
		writeError(w, http.StatusBadRequest, "workspace_path required")
		return
	}
	info, err := os.Stat(workspace)
	if err != nil || !info.IsDir() {
		writeError(w, http.StatusBadRequest, "workspace_path must be a directory")
		return
	}
	files, _, err := tools.WalkFiles(workspace, workspaceTreeMaxFiles)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"root": workspace, "files": files})
}
