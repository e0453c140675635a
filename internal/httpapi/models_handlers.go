package httpapi

import (
	"net/http"

	"github.com/agentharness/agentd/internal/config"
)

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		writeError(w, http.StatusInternalServerError, "model service not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models": s.models.ListModels(),
		"policy": s.models.Policy(),
	})
}

func (s *Server) handleGetModelPolicy(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		writeError(w, http.StatusInternalServerError, "model service not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.models.Policy())
}

func (s *Server) handleSetModelPolicy(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		writeError(w, http.StatusInternalServerError, "model service not configured")
		return
	}
	var body struct {
		RequireTools    bool     `json:"require_tools"`
		RequireVision   bool     `json:"require_vision"`
		MaxCostUSD      *float64 `json:"max_cost_usd"`
		PreferredModels []string `json:"preferred_models"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	maxCost := 5.0
	if body.MaxCostUSD != nil {
		maxCost = *body.MaxCostUSD
	}
	policy := config.ModelPolicy{
		RequireTools:    body.RequireTools,
		RequireVision:   body.RequireVision,
		MaxCostUSD:      maxCost,
		PreferredModels: body.PreferredModels,
	}
	s.models.SetPolicy(policy)
	writeJSON(w, http.StatusOK, s.models.Policy())
}
