package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
)

func (s *Server) handleGenerateSpec(w http.ResponseWriter, r *http.Request) {
	if s.specGen == nil {
		writeError(w, http.StatusInternalServerError, "spec generator not configured")
		return
	}
	var body struct {
		WorkspacePath string `json:"workspace_path"`
		SpecName      string `json:"spec_name"`
		Prompt        string `json:"prompt"`
		Overwrite     bool   `json:"overwrite"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.WorkspacePath == "" || body.SpecName == "" || body.Prompt == "" {
		writeError(w, http.StatusBadRequest, "workspace_path, spec_name, and prompt are required")
		return
	}
	if !isSafeSpecName(body.SpecName) {
		writeError(w, http.StatusBadRequest, "spec_name must be alphanumeric with dashes or underscores")
		return
	}
	info, err := os.Stat(body.WorkspacePath)
	if err != nil || !info.IsDir() {
		writeError(w, http.StatusBadRequest, "workspace_path must be a directory")
		return
	}

	specAbs, err := safeWorkspaceJoin(body.WorkspacePath, filepath.Join("specs", body.SpecName, "spec.md"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !body.Overwrite {
		if _, err := os.Stat(specAbs); err == nil {
			writeError(w, http.StatusConflict, "spec already exists")
			return
		}
	}

	content, err := s.specGen.Generate(r.Context(), body.WorkspacePath, body.SpecName, body.Prompt)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := os.MkdirAll(filepath.Dir(specAbs), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.MkdirAll(filepath.Join(filepath.Dir(specAbs), "diagrams"), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.WriteFile(specAbs, []byte(content), 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"spec_path": specAbs, "content": content})
}
