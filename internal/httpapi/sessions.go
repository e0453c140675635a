package httpapi

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/agentharness/agentd/internal/specpath"
	"github.com/agentharness/agentd/internal/store"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ListSessions())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkspacePath string `json:"workspace_path"`
		SystemPrompt  string `json:"system_prompt"`
		Mode          string `json:"mode"`
		SpecPath      string `json:"spec_path"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	mode := strings.TrimSpace(body.Mode)
	if mode == "" {
		mode = "chat"
	}
	specPath := strings.TrimSpace(body.SpecPath)
	if specPath != "" {
		resolved, err := resolveSpecPath(body.WorkspacePath, specPath)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		specPath = resolved
	}

	session, err := s.store.CreateSession(body.WorkspacePath, mode, body.SystemPrompt, specPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if session.Mode == "spec" && strings.TrimSpace(session.SpecPath) == "" {
		defaultPath, err := specpath.Default(session.WorkspacePath, "session-"+session.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		session.SpecPath = defaultPath
		if err := s.store.UpdateSession(&session); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		_ = s.store.AppendSessionEvent(session.ID, store.SessionEvent{
			SessionID: session.ID,
			Type:      "spec_path_set",
			Data:      map[string]any{"spec_path": session.SpecPath},
		})
		created, err := specpath.EnsureFile(session.SpecPath)
		if err == nil && created {
			_ = s.store.AppendSessionEvent(session.ID, store.SessionEvent{
				SessionID: session.ID,
				Type:      "spec_created",
				Data:      map[string]any{"spec_path": session.SpecPath},
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"session_id": session.ID, "spec_path": session.SpecPath})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.GetSession(r.PathValue("session_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSessionMode(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	var body struct {
		Mode     string `json:"mode"`
		SpecPath string `json:"spec_path"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	mode := strings.TrimSpace(body.Mode)
	if mode == "" {
		writeError(w, http.StatusBadRequest, "mode is required")
		return
	}
	if mode != "chat" && mode != "spec" {
		writeError(w, http.StatusBadRequest, "mode must be chat or spec")
		return
	}
	session, err := s.store.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	specPath := strings.TrimSpace(body.SpecPath)
	switch {
	case mode == "spec" && specPath != "":
		resolved, err := resolveSpecPath(session.WorkspacePath, specPath)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		specPath = resolved
	case mode == "spec" && strings.TrimSpace(session.SpecPath) == "":
		defaultPath, err := specpath.Default(session.WorkspacePath, "session-"+session.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		specPath = defaultPath
	case mode == "spec":
		specPath = session.SpecPath
	case specPath != "":
		resolved, err := resolveSpecPath(session.WorkspacePath, specPath)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		specPath = resolved
	}

	session.Mode = mode
	if strings.TrimSpace(specPath) != "" {
		session.SpecPath = specPath
	}
	if err := s.store.UpdateSession(&session); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = s.store.AppendSessionEvent(sessionID, store.SessionEvent{
		SessionID: session.ID,
		Type:      "session_mode_set",
		Data:      map[string]any{"mode": session.Mode, "spec_path": session.SpecPath},
	})
	if session.Mode == "spec" && strings.TrimSpace(session.SpecPath) != "" {
		created, err := specpath.EnsureFile(session.SpecPath)
		if err == nil && created {
			_ = s.store.AppendSessionEvent(sessionID, store.SessionEvent{
				SessionID: session.ID,
				Type:      "spec_created",
				Data:      map[string]any{"spec_path": session.SpecPath},
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": session.ID,
		"mode":       session.Mode,
		"spec_path":  session.SpecPath,
	})
}

func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	var body struct {
		Role    string               `json:"role"`
		Parts   []store.MessagePart  `json:"parts"`
		AutoRun *bool                `json:"auto_run"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	role := strings.TrimSpace(body.Role)
	if role == "" {
		writeError(w, http.StatusBadRequest, "role required")
		return
	}

	msg, err := s.store.AppendMessage(sessionID, store.Message{Role: role, Parts: body.Parts})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_ = s.store.AppendSessionEvent(sessionID, store.SessionEvent{
		SessionID: sessionID,
		Type:      "message_added",
		Data:      map[string]any{"message_id": msg.ID, "role": msg.Role},
	})

	turn, err := s.store.AddTurn(sessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if body.AutoRun == nil || *body.AutoRun {
		if s.sessionRunner == nil {
			writeError(w, http.StatusInternalServerError, "session runner not configured")
			return
		}
		if err := s.sessionRunner.StartTurn(sessionID, turn.ID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": msg.ID, "turn_id": turn.ID})
}

func (s *Server) handleSessionApprove(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	var body struct {
		ToolCallID string `json:"tool_call_id"`
		Action     string `json:"action"`
		Reason     string `json:"reason"`
		TurnID     string `json:"turn_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	toolCallID := strings.TrimSpace(body.ToolCallID)
	if toolCallID == "" {
		writeError(w, http.StatusBadRequest, "tool_call_id required")
		return
	}
	action := strings.TrimSpace(body.Action)
	if action == "" {
		action = "approve"
	}
	decision := store.ApprovalDecision{Action: action, Reason: body.Reason}
	if err := s.store.ApproveSessionToolCall(sessionID, toolCallID, decision); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	eventType := "approval_granted"
	if action == "deny" {
		eventType = "approval_denied"
	}
	_ = s.store.AppendSessionEvent(sessionID, store.SessionEvent{
		SessionID: sessionID,
		TurnID:    body.TurnID,
		Type:      eventType,
		Data:      map[string]any{"tool_call_id": toolCallID, "reason": body.Reason},
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSessionCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if err := s.store.CancelSession(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_ = s.store.AppendSessionEvent(sessionID, store.SessionEvent{SessionID: sessionID, Type: "session_canceled"})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSessionAttachment(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file required")
			return
		}
		defer file.Close()
		data := make([]byte, header.Size)
		if _, err := file.Read(data); err != nil && header.Size > 0 {
			writeError(w, http.StatusBadRequest, "failed to read file")
			return
		}
		att, err := s.store.SaveSessionAttachment(sessionID, header.Filename, header.Header.Get("Content-Type"), data)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"ref": att.ID, "mime_type": att.MimeType})
		return
	}

	var body struct {
		Name           string `json:"name"`
		MimeType       string `json:"mime_type"`
		ContentBase64  string `json:"content_base64"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	contentB64 := strings.TrimSpace(body.ContentBase64)
	if contentB64 == "" {
		writeError(w, http.StatusBadRequest, "content_base64 required")
		return
	}
	content, err := base64.StdEncoding.DecodeString(contentB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid base64 content")
		return
	}
	att, err := s.store.SaveSessionAttachment(sessionID, body.Name, body.MimeType, content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ref": att.ID, "mime_type": att.MimeType})
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	if r.URL.Query().Get("format") == "json" {
		max := 0
		if raw := r.URL.Query().Get("max"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				max = parsed
			}
		}
		events, err := s.store.ReadSessionEvents(sessionID, max)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, events)
		return
	}

	history, err := s.store.ReadSessionEvents(sessionID, 200)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	historyAny := make([]any, len(history))
	for i, ev := range history {
		historyAny[i] = ev
	}
	streamSSE(w, r, historyAny, func(emit func(any)) func() {
		return s.store.SubscribeSession(sessionID, func(ev store.SessionEvent) { emit(ev) })
	})
}

func (s *Server) handleSessionRetry(w http.ResponseWriter, r *http.Request) {
	if s.sessionRunner == nil {
		writeError(w, http.StatusInternalServerError, "session runner not configured")
		return
	}
	sessionID := r.PathValue("session_id")
	turnID := r.PathValue("turn_id")
	if err := s.sessionRunner.StartTurn(sessionID, turnID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
