package store

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agentharness/agentd/internal/idgen"
)

// CreateSession creates and persists a new Session in the "active" state.
func (s *Store) CreateSession(workspacePath, mode, systemPrompt, specPath string) (Session, error) {
	if workspacePath == "" {
		return Session{}, fmt.Errorf("workspace_path is empty")
	}
	if mode == "" {
		mode = "chat"
	}
	now := time.Now().UTC()
	session := &Session{
		ID:            idgen.NewSession(),
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        "active",
		Mode:          mode,
		WorkspacePath: workspacePath,
		SystemPrompt:  systemPrompt,
		SpecPath:      specPath,
	}
	if err := os.MkdirAll(s.sessionDir(session.ID), 0o755); err != nil {
		return Session{}, err
	}
	if err := os.WriteFile(s.sessionEventsPath(session.ID), []byte{}, 0o644); err != nil {
		return Session{}, err
	}
	if err := s.saveSession(session); err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	s.AppendSessionEvent(session.ID, SessionEvent{
		Type: "session_created",
		Data: map[string]any{"workspace_path": workspacePath, "mode": mode},
	})
	return *session, nil
}

func (s *Store) saveSession(session *Session) error {
	session.UpdatedAt = time.Now().UTC()
	payload, err := marshalIndent(session)
	if err != nil {
		return err
	}
	return os.WriteFile(s.sessionPath(session.ID), append(payload, '\n'), 0o644)
}

// UpdateSession persists session and replaces it in the in-memory index.
func (s *Store) UpdateSession(session *Session) error {
	if session == nil {
		return fmt.Errorf("session is nil")
	}
	clone := *session
	s.mu.Lock()
	s.sessions[session.ID] = &clone
	s.mu.Unlock()
	return s.saveSession(&clone)
}

// GetSession returns a copy of the session with the given id.
func (s *Store) GetSession(sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("session not found: %s", sessionID)
	}
	return *session, nil
}

// ListSessions returns all sessions sorted by created_at descending.
func (s *Store) ListSessions() []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, *session)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// AppendMessage appends msg to sessionID's transcript and persists the
// session snapshot.
func (s *Store) AppendMessage(sessionID string, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = idgen.NewMessage()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return Message{}, fmt.Errorf("session not found: %s", sessionID)
	}
	session.Messages = append(session.Messages, msg)
	clone := *session
	s.mu.Unlock()
	if err := s.saveSession(&clone); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// AddTurn appends a new pending Turn to sessionID and returns it.
func (s *Store) AddTurn(sessionID string) (Turn, error) {
	turn := Turn{ID: idgen.NewTurn(), Status: "pending"}
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return Turn{}, fmt.Errorf("session not found: %s", sessionID)
	}
	session.Turns = append(session.Turns, turn)
	session.LastTurnID = turn.ID
	clone := *session
	s.mu.Unlock()
	if err := s.saveSession(&clone); err != nil {
		return Turn{}, err
	}
	return turn, nil
}

// AppendSessionEvent appends ev to sessionID's event log and fans it out to
// subscribers registered via SubscribeSession.
func (s *Store) AppendSessionEvent(sessionID string, ev SessionEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.SessionID == "" {
		ev.SessionID = sessionID
	}
	line, err := marshalLine(ev)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(s.sessionEventsPath(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Write(line); err != nil {
		return err
	}

	s.subsMu.Lock()
	handlers := make([]func(SessionEvent), 0, len(s.sessionSubs[sessionID]))
	for _, h := range s.sessionSubs[sessionID] {
		handlers = append(handlers, h)
	}
	s.subsMu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// SubscribeSession registers handler to receive every future event appended
// to sessionID, and returns an unsubscribe function.
func (s *Store) SubscribeSession(sessionID string, handler func(SessionEvent)) func() {
	s.subsMu.Lock()
	if s.sessionSubs[sessionID] == nil {
		s.sessionSubs[sessionID] = map[int]func(SessionEvent){}
	}
	id := s.nextSubID
	s.nextSubID++
	s.sessionSubs[sessionID][id] = handler
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.sessionSubs[sessionID], id)
		s.subsMu.Unlock()
	}
}

// ReadSessionEvents reads up to maxItems events from sessionID's event log
// (0 means unlimited), in append order.
func (s *Store) ReadSessionEvents(sessionID string, maxItems int) ([]SessionEvent, error) {
	return readNDJSON[SessionEvent](s.sessionEventsPath(sessionID), maxItems)
}

// SessionAttachment describes a file saved via SaveSessionAttachment.
type SessionAttachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// SaveSessionAttachment writes data under sessionID's attachments directory,
// sanitizing name to its base filename, defaulting the extension to .bin and
// the mime type to application/octet-stream, and renaming on collision.
func (s *Store) SaveSessionAttachment(sessionID, name, mimeType string, data []byte) (SessionAttachment, error) {
	dir := s.sessionAttachmentsDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return SessionAttachment{}, err
	}

	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "attachment.bin"
	}
	if filepath.Ext(base) == "" {
		base += ".bin"
	}

	id := idgen.NewAttachment()
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	filename := base
	path := filepath.Join(dir, filename)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		filename = fmt.Sprintf("%s-%d%s", stem, i, ext)
		path = filepath.Join(dir, filename)
	}

	if mimeType == "" {
		mimeType = mime.TypeByExtension(ext)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return SessionAttachment{}, err
	}
	return SessionAttachment{ID: id, Filename: filename, MimeType: mimeType, Size: len(data)}, nil
}

// SessionArtifactsPath returns the directory where a turn's generated
// artifacts (diffs, command output captures) are stored.
func (s *Store) SessionArtifactsPath(sessionID, turnID string) string {
	return s.sessionArtifactsDir(sessionID, turnID)
}

// EnsureSessionArtifactsDir creates and returns SessionArtifactsPath.
func (s *Store) EnsureSessionArtifactsDir(sessionID, turnID string) (string, error) {
	dir := s.sessionArtifactsDir(sessionID, turnID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// ExportSession bundles session.json, events.ndjson, attachments/, and
// artifacts/ for sessionID into a zip archive.
func (s *Store) ExportSession(sessionID string) ([]byte, error) {
	dir := s.sessionDir(sessionID)
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	files := map[string][]byte{}
	sessionData, err := os.ReadFile(s.sessionPath(sessionID))
	if err != nil {
		return nil, err
	}
	files["session.json"] = sessionData
	eventsData, err := os.ReadFile(s.sessionEventsPath(sessionID))
	if err != nil {
		return nil, err
	}
	files["events.ndjson"] = eventsData
	if err := addDirToZipFiles(dir, s.sessionAttachmentsDir(sessionID), files); err != nil {
		return nil, err
	}
	if err := addDirToZipFiles(dir, filepath.Join(dir, "artifacts"), files); err != nil {
		return nil, err
	}
	return zipBytes(files)
}
