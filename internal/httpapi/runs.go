package httpapi

import (
	"fmt"
	"net/http"

	"github.com/agentharness/agentd/internal/store"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ListRuns())
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkspacePath string `json:"workspace_path"`
		SpecPath      string `json:"spec_path"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	run, err := s.store.CreateRun(body.WorkspacePath, body.SpecPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.runner != nil {
		if err := s.runner.StartRun(run.ID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": run.ID})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.PathValue("run_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	history, err := s.store.ReadEvents(runID, 200)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	historyAny := make([]any, len(history))
	for i, ev := range history {
		historyAny[i] = ev
	}
	streamSSE(w, r, historyAny, func(emit func(any)) func() {
		return s.store.SubscribeRun(runID, func(ev store.Event) { emit(ev) })
	})
}

func (s *Server) handleApproveRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	var body struct {
		StepID string `json:"step_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.StepID == "" {
		writeError(w, http.StatusBadRequest, "step_id required")
		return
	}
	if err := s.store.Approve(runID, body.StepID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_ = s.store.AppendEvent(runID, store.Event{
		RunID: runID,
		Type:  "approval_granted",
		Data:  map[string]any{"step_id": body.StepID},
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	s.store.CancelRun(runID)
	_ = s.store.AppendEvent(runID, store.Event{RunID: runID, Type: "run_cancel_requested"})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleExportRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	data, err := s.store.ExportRun(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", runID+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
