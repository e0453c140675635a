package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentharness/agentd/internal/cancel"
	"github.com/agentharness/agentd/internal/idgen"
)

// Store is the durable persistence layer for runs and sessions. All state
// lives under a single data directory as JSON snapshots plus NDJSON event
// logs; an in-memory index backs fast reads and is rebuilt from disk on
// Init.
type Store struct {
	dataDir string

	mu       sync.RWMutex
	runs     map[string]*Run
	sessions map[string]*Session

	subsMu        sync.Mutex
	runSubs       map[string]map[int]func(Event)
	sessionSubs   map[string]map[int]func(SessionEvent)
	nextSubID     int

	approvals        map[string]map[string]*approvalWaiter
	sessionApprovals map[string]map[string]*sessionApprovalWaiter
	runCancels       map[string]*cancel.Token
	sessionCancels   map[string]*cancel.Token
}

// New returns a Store rooted at dataDir. Call Init before use.
func New(dataDir string) *Store {
	return &Store{
		dataDir:          dataDir,
		runs:             map[string]*Run{},
		sessions:         map[string]*Session{},
		runSubs:          map[string]map[int]func(Event){},
		sessionSubs:      map[string]map[int]func(SessionEvent){},
		approvals:        map[string]map[string]*approvalWaiter{},
		sessionApprovals: map[string]map[string]*sessionApprovalWaiter{},
		runCancels:       map[string]*cancel.Token{},
		sessionCancels:   map[string]*cancel.Token{},
	}
}

// DataDir returns the store's root directory.
func (s *Store) DataDir() string { return s.dataDir }

// Init creates the runs/ and sessions/ directories under the data dir and
// loads any existing run/session snapshots into memory.
func (s *Store) Init() error {
	if s.dataDir == "" {
		return fmt.Errorf("data_dir is empty")
	}
	if err := os.MkdirAll(s.runsDir(), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(s.sessionsDir(), 0o755); err != nil {
		return err
	}
	s.loadExistingRuns()
	s.loadExistingSessions()
	return nil
}

func (s *Store) runsDir() string     { return filepath.Join(s.dataDir, "runs") }
func (s *Store) sessionsDir() string { return filepath.Join(s.dataDir, "sessions") }

func (s *Store) runDir(runID string) string       { return filepath.Join(s.runsDir(), runID) }
func (s *Store) runPath(runID string) string       { return filepath.Join(s.runDir(runID), "run.json") }
func (s *Store) eventsPath(runID string) string     { return filepath.Join(s.runDir(runID), "events.ndjson") }

func (s *Store) sessionDir(sessionID string) string { return filepath.Join(s.sessionsDir(), sessionID) }
func (s *Store) sessionPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "session.json")
}
func (s *Store) sessionEventsPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "events.ndjson")
}
func (s *Store) sessionAttachmentsDir(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "attachments")
}
func (s *Store) sessionArtifactsDir(sessionID, turnID string) string {
	return filepath.Join(s.sessionDir(sessionID), "artifacts", turnID)
}

// restartInterruptedError is the error recorded on any run/session that was
// still mid-flight (running, or waiting on an approval) when the process
// exited. There is no way to know whether the work that was in progress
// completed, so the record is marked failed the first time it is loaded back
// rather than left claiming a status nothing is actually driving forward.
const restartInterruptedError = "interrupted by restart"

func (s *Store) loadExistingRuns() {
	entries, err := os.ReadDir(s.runsDir())
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.runsDir(), entry.Name(), "run.json"))
		if err != nil {
			continue
		}
		var run Run
		if err := json.Unmarshal(data, &run); err != nil {
			continue
		}
		if run.Status == "running" || run.Status == "waiting_approval" {
			run.Status = "failed"
			run.Error = restartInterruptedError
			if err := s.saveRun(&run); err == nil {
				s.AppendEvent(run.ID, Event{Type: "run_failed", Message: restartInterruptedError})
			}
		}
		s.runs[run.ID] = &run
	}
}

func (s *Store) loadExistingSessions() {
	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.sessionsDir(), entry.Name(), "session.json"))
		if err != nil {
			continue
		}
		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		if markInterruptedByRestart(&session) {
			if err := s.saveSession(&session); err == nil {
				s.AppendSessionEvent(session.ID, SessionEvent{
					Type: "session_failed", TurnID: session.LastTurnID, Message: restartInterruptedError,
				})
			}
		}
		s.sessions[session.ID] = &session
	}
}

// markInterruptedByRestart fails any turn still running or waiting on
// approval, and, mirroring Engine.failTurn, fails the session itself once any
// turn is failed this way. It reports whether it changed anything.
func markInterruptedByRestart(session *Session) bool {
	changed := false
	now := time.Now().UTC()
	for i := range session.Turns {
		if session.Turns[i].Status == "running" || session.Turns[i].Status == "waiting_approval" {
			session.Turns[i].Status = "failed"
			session.Turns[i].CompletedAt = &now
			session.Turns[i].Error = restartInterruptedError
			changed = true
		}
	}
	if changed || session.Status == "waiting_approval" {
		session.Status = "failed"
		session.Error = restartInterruptedError
		changed = true
	}
	return changed
}

// CreateRun creates and persists a new Run in the "queued" state, then
// appends a run_created event.
func (s *Store) CreateRun(workspacePath, specPath string) (Run, error) {
	if workspacePath == "" {
		return Run{}, fmt.Errorf("workspace_path is empty")
	}
	if specPath == "" {
		return Run{}, fmt.Errorf("spec_path is empty")
	}
	now := time.Now().UTC()
	run := &Run{
		ID:            idgen.NewRun(),
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        "queued",
		WorkspacePath: workspacePath,
		SpecPath:      specPath,
	}
	if err := os.MkdirAll(s.runDir(run.ID), 0o755); err != nil {
		return Run{}, err
	}
	if err := os.WriteFile(s.eventsPath(run.ID), []byte{}, 0o644); err != nil {
		return Run{}, err
	}
	if err := s.saveRun(run); err != nil {
		return Run{}, err
	}
	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	s.AppendEvent(run.ID, Event{
		Type: "run_created",
		Data: map[string]any{"workspace_path": workspacePath, "spec_path": specPath},
	})
	return *run, nil
}

func (s *Store) saveRun(run *Run) error {
	run.UpdatedAt = time.Now().UTC()
	payload, err := marshalIndent(run)
	if err != nil {
		return err
	}
	return os.WriteFile(s.runPath(run.ID), append(payload, '\n'), 0o644)
}

// UpdateRun persists run and replaces it in the in-memory index.
func (s *Store) UpdateRun(run *Run) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	clone := *run
	s.mu.Lock()
	s.runs[run.ID] = &clone
	s.mu.Unlock()
	return s.saveRun(&clone)
}

// GetRun returns a copy of the run with the given id.
func (s *Store) GetRun(runID string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return Run{}, fmt.Errorf("run not found: %s", runID)
	}
	return *run, nil
}

// ListRuns returns all runs sorted by created_at descending.
func (s *Store) ListRuns() []Run {
	s.mu.RLock()
	out := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// AppendEvent appends ev to runID's event log, assigning a timestamp if
// unset, and fans it out to subscribers registered via SubscribeRun.
func (s *Store) AppendEvent(runID string, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.RunID == "" {
		ev.RunID = runID
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(s.eventsPath(runID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Write(append(line, '\n')); err != nil {
		return err
	}

	s.subsMu.Lock()
	handlers := make([]func(Event), 0, len(s.runSubs[runID]))
	for _, h := range s.runSubs[runID] {
		handlers = append(handlers, h)
	}
	s.subsMu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// SubscribeRun registers handler to receive every future event appended to
// runID, and returns an unsubscribe function.
func (s *Store) SubscribeRun(runID string, handler func(Event)) func() {
	s.subsMu.Lock()
	if s.runSubs[runID] == nil {
		s.runSubs[runID] = map[int]func(Event){}
	}
	id := s.nextSubID
	s.nextSubID++
	s.runSubs[runID][id] = handler
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.runSubs[runID], id)
		s.subsMu.Unlock()
	}
}

// ReadEvents reads up to maxItems events from runID's event log (0 means
// unlimited), in append order.
func (s *Store) ReadEvents(runID string, maxItems int) ([]Event, error) {
	return readNDJSON[Event](s.eventsPath(runID), maxItems)
}

// ExportRun bundles run.json, events.ndjson, and any artifacts/ directory
// for runID into a zip archive.
func (s *Store) ExportRun(runID string) ([]byte, error) {
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	files := map[string][]byte{}
	runData, err := os.ReadFile(s.runPath(runID))
	if err != nil {
		return nil, err
	}
	files["run.json"] = runData
	eventsData, err := os.ReadFile(s.eventsPath(runID))
	if err != nil {
		return nil, err
	}
	files["events.ndjson"] = eventsData
	if err := addDirToZipFiles(dir, filepath.Join(dir, "artifacts"), files); err != nil {
		return nil, err
	}
	return zipBytes(files)
}
