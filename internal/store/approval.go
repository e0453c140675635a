package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentharness/agentd/internal/cancel"
)

// approvalWaiter is a set-once/wait-many gate for a plain run-step approval.
type approvalWaiter struct {
	done chan struct{}
	once sync.Once
}

func newApprovalWaiter() *approvalWaiter {
	return &approvalWaiter{done: make(chan struct{})}
}

func (w *approvalWaiter) resolve() {
	w.once.Do(func() { close(w.done) })
}

// sessionApprovalWaiter additionally carries the human's decision.
type sessionApprovalWaiter struct {
	done     chan struct{}
	once     sync.Once
	decision ApprovalDecision
}

func newSessionApprovalWaiter() *sessionApprovalWaiter {
	return &sessionApprovalWaiter{done: make(chan struct{})}
}

func (w *sessionApprovalWaiter) resolve(decision ApprovalDecision) {
	w.once.Do(func() {
		w.decision = decision
		close(w.done)
	})
}

// pollInterval is the cadence at which wait-for-approval loops re-check a
// cancellation token, bounding wait latency after cancellation to ~100ms as
// required by the turn-level cancellation contract.
const pollInterval = 100 * time.Millisecond

// RequireApproval registers a pending approval for (runID, stepID). It is an
// error to call this twice for the same step before it resolves.
func (s *Store) RequireApproval(runID, stepID string) error {
	if runID == "" || stepID == "" {
		return fmt.Errorf("run_id and step_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvals[runID]; !ok {
		s.approvals[runID] = map[string]*approvalWaiter{}
	}
	if _, ok := s.approvals[runID][stepID]; ok {
		return fmt.Errorf("approval already pending for step %s", stepID)
	}
	s.approvals[runID][stepID] = newApprovalWaiter()
	return nil
}

// Approve resolves a pending run-step approval.
func (s *Store) Approve(runID, stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.approvals[runID][stepID]
	if !ok {
		return fmt.Errorf("no approval pending for step %s", stepID)
	}
	entry.resolve()
	delete(s.approvals[runID], stepID)
	return nil
}

// WaitForApproval blocks until the pending approval for (runID, stepID)
// resolves, or signal is canceled. It polls signal at pollInterval so
// cancellation latency is bounded.
func (s *Store) WaitForApproval(runID, stepID string, signal *cancel.Token) error {
	s.mu.Lock()
	entry, ok := s.approvals[runID][stepID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no approval pending for step %s", stepID)
	}
	if signal == nil {
		<-entry.done
		return nil
	}
	for {
		select {
		case <-entry.done:
			return nil
		case <-time.After(pollInterval):
			if signal.Canceled() {
				return fmt.Errorf("canceled: %s", signal.Reason())
			}
		}
	}
}

// RequireSessionApproval registers a pending approval for a session tool
// call.
func (s *Store) RequireSessionApproval(sessionID, toolCallID string) error {
	if sessionID == "" || toolCallID == "" {
		return fmt.Errorf("session_id and tool_call_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessionApprovals[sessionID]; !ok {
		s.sessionApprovals[sessionID] = map[string]*sessionApprovalWaiter{}
	}
	if _, ok := s.sessionApprovals[sessionID][toolCallID]; ok {
		return fmt.Errorf("approval already pending for tool call %s", toolCallID)
	}
	s.sessionApprovals[sessionID][toolCallID] = newSessionApprovalWaiter()
	return nil
}

// ApproveSessionToolCall resolves a pending session tool-call approval with
// the human's decision.
func (s *Store) ApproveSessionToolCall(sessionID, toolCallID string, decision ApprovalDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessionApprovals[sessionID][toolCallID]
	if !ok {
		return fmt.Errorf("no approval pending for tool call %s", toolCallID)
	}
	entry.resolve(decision)
	delete(s.sessionApprovals[sessionID], toolCallID)
	return nil
}

// WaitForSessionApproval blocks until the pending session tool-call approval
// resolves or signal is canceled, returning the human's decision.
func (s *Store) WaitForSessionApproval(sessionID, toolCallID string, signal *cancel.Token) (ApprovalDecision, error) {
	s.mu.Lock()
	entry, ok := s.sessionApprovals[sessionID][toolCallID]
	s.mu.Unlock()
	if !ok {
		return ApprovalDecision{}, fmt.Errorf("no approval pending for tool call %s", toolCallID)
	}
	if signal == nil {
		<-entry.done
		return entry.decision, nil
	}
	for {
		select {
		case <-entry.done:
			return entry.decision, nil
		case <-time.After(pollInterval):
			if signal.Canceled() {
				return ApprovalDecision{}, fmt.Errorf("canceled: %s", signal.Reason())
			}
		}
	}
}

// PruneExpiredApprovals releases any approval waiter whose run/session has
// already left the store, or reached a terminal status, without ever calling
// Approve/ApproveSessionToolCall to clear it. Nothing deletes a waiter but a
// matching approve/deny call, so a run or session that fails, is canceled, or
// is marked interrupted by a restart while a tool call sits pending leaves
// its waiter goroutine (and map entry) stuck forever; this unblocks and
// discards them. It returns the number of run-step and session-tool-call
// waiters it released.
func (s *Store) PruneExpiredApprovals() (prunedRuns, prunedSessions int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for runID, waiters := range s.approvals {
		run, ok := s.runs[runID]
		if ok && !isTerminalRunStatus(run.Status) {
			continue
		}
		for stepID, w := range waiters {
			w.resolve()
			delete(waiters, stepID)
			prunedRuns++
		}
		delete(s.approvals, runID)
	}

	for sessionID, waiters := range s.sessionApprovals {
		session, ok := s.sessions[sessionID]
		if ok && session.Status != "failed" && session.Status != "canceled" {
			continue
		}
		for toolCallID, w := range waiters {
			w.resolve(ApprovalDecision{Action: "deny", Reason: "approval waiter expired"})
			delete(waiters, toolCallID)
			prunedSessions++
		}
		delete(s.sessionApprovals, sessionID)
	}
	return prunedRuns, prunedSessions
}

func isTerminalRunStatus(status string) bool {
	switch status {
	case "succeeded", "failed", "canceled":
		return true
	default:
		return false
	}
}

// SetRunCancel registers the cancellation token that CancelRun triggers.
func (s *Store) SetRunCancel(runID string, token *cancel.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCancels[runID] = token
}

// CancelRun cancels the run's registered cancellation token, if any.
func (s *Store) CancelRun(runID string) {
	s.mu.Lock()
	token := s.runCancels[runID]
	s.mu.Unlock()
	if token != nil {
		token.Cancel("run canceled")
	}
}

// SetSessionCancel registers the cancellation token that CancelSession
// triggers.
func (s *Store) SetSessionCancel(sessionID string, token *cancel.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionCancels[sessionID] = token
}

// CancelSession cancels the session's registered cancellation token (if any)
// and marks the session canceled when it was active or waiting on approval.
func (s *Store) CancelSession(sessionID string) error {
	s.mu.Lock()
	token := s.sessionCancels[sessionID]
	s.mu.Unlock()
	if token != nil {
		token.Cancel("session canceled")
	}
	session, err := s.GetSession(sessionID)
	if err != nil {
		return nil
	}
	if session.Status == "active" || session.Status == "waiting_approval" {
		session.Status = "canceled"
		if session.Error == "" {
			session.Error = "canceled"
		}
		return s.UpdateSession(&session)
	}
	return nil
}
