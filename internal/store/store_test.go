package store

import (
	"testing"
	"time"

	"github.com/agentharness/agentd/internal/cancel"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir())
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	run, err := s.CreateRun("/work", "/work/SPEC.md")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.Status != "queued" {
		t.Fatalf("status = %q, want queued", run.Status)
	}

	got, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ID != run.ID || got.WorkspacePath != "/work" {
		t.Fatalf("GetRun mismatch: %+v", got)
	}
}

func TestListRunsSortedByCreatedAtDescending(t *testing.T) {
	s := newTestStore(t)
	first, err := s.CreateRun("/work", "/work/SPEC.md")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := s.CreateRun("/work", "/work/SPEC.md")
	if err != nil {
		t.Fatal(err)
	}

	runs := s.ListRuns()
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].ID != second.ID || runs[1].ID != first.ID {
		t.Fatalf("runs not sorted descending: %+v", runs)
	}
}

func TestAppendEventSubscribeAndRead(t *testing.T) {
	s := newTestStore(t)
	run, err := s.CreateRun("/work", "/work/SPEC.md")
	if err != nil {
		t.Fatal(err)
	}

	received := make(chan Event, 4)
	unsubscribe := s.SubscribeRun(run.ID, func(ev Event) { received <- ev })
	defer unsubscribe()

	if err := s.AppendEvent(run.ID, Event{Type: "step_started", Message: "step 1"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	select {
	case ev := <-received:
		if ev.Type != "step_started" {
			t.Fatalf("got event type %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber fan-out")
	}

	events, err := s.ReadEvents(run.ID, 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	// run_created (from CreateRun) plus step_started.
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2: %+v", len(events), events)
	}
	if events[1].Type != "step_started" {
		t.Fatalf("events[1].Type = %q", events[1].Type)
	}
}

func TestRunApprovalRequireApproveWait(t *testing.T) {
	s := newTestStore(t)
	run, err := s.CreateRun("/work", "/work/SPEC.md")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RequireApproval(run.ID, "step_1"); err != nil {
		t.Fatalf("RequireApproval: %v", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- s.WaitForApproval(run.ID, "step_1", nil) }()

	time.Sleep(10 * time.Millisecond)
	if err := s.Approve(run.ID, "step_1"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	select {
	case err := <-waitErr:
		if err != nil {
			t.Fatalf("WaitForApproval returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for approval to resolve")
	}
}

func TestRunApprovalCancellation(t *testing.T) {
	s := newTestStore(t)
	run, err := s.CreateRun("/work", "/work/SPEC.md")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RequireApproval(run.ID, "step_1"); err != nil {
		t.Fatal(err)
	}

	token := cancel.New()
	start := time.Now()
	waitErr := make(chan error, 1)
	go func() { waitErr <- s.WaitForApproval(run.ID, "step_1", token) }()

	time.Sleep(10 * time.Millisecond)
	token.Cancel("test canceled")

	select {
	case err := <-waitErr:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Fatalf("cancellation took too long to propagate: %v", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation to unblock WaitForApproval")
	}
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	session, err := s.CreateSession("/work", "chat", "be helpful", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.Status != "active" || session.Mode != "chat" {
		t.Fatalf("unexpected session: %+v", session)
	}

	got, err := s.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.ID != session.ID {
		t.Fatalf("GetSession mismatch: %+v", got)
	}
}

func TestAppendMessageAndAddTurn(t *testing.T) {
	s := newTestStore(t)
	session, err := s.CreateSession("/work", "chat", "", "")
	if err != nil {
		t.Fatal(err)
	}

	msg, err := s.AppendMessage(session.ID, Message{
		Role:  "user",
		Parts: []MessagePart{{Type: "text", Text: "hello"}},
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected generated message id")
	}

	turn, err := s.AddTurn(session.ID)
	if err != nil {
		t.Fatalf("AddTurn: %v", err)
	}
	if turn.Status != "pending" {
		t.Fatalf("turn.Status = %q, want pending", turn.Status)
	}

	got, err := s.GetSession(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 1 || len(got.Turns) != 1 {
		t.Fatalf("session did not persist message/turn: %+v", got)
	}
	if got.LastTurnID != turn.ID {
		t.Fatalf("LastTurnID = %q, want %q", got.LastTurnID, turn.ID)
	}
}

func TestSessionApprovalRequireApproveWaitDecision(t *testing.T) {
	s := newTestStore(t)
	session, err := s.CreateSession("/work", "chat", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RequireSessionApproval(session.ID, "call_1"); err != nil {
		t.Fatalf("RequireSessionApproval: %v", err)
	}

	result := make(chan ApprovalDecision, 1)
	errs := make(chan error, 1)
	go func() {
		decision, err := s.WaitForSessionApproval(session.ID, "call_1", nil)
		result <- decision
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := s.ApproveSessionToolCall(session.ID, "call_1", ApprovalDecision{Action: "approve"}); err != nil {
		t.Fatalf("ApproveSessionToolCall: %v", err)
	}

	select {
	case decision := <-result:
		if err := <-errs; err != nil {
			t.Fatalf("WaitForSessionApproval error: %v", err)
		}
		if decision.Action != "approve" {
			t.Fatalf("decision = %+v", decision)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session approval")
	}
}

func TestCancelSessionFlipsStatus(t *testing.T) {
	s := newTestStore(t)
	session, err := s.CreateSession("/work", "chat", "", "")
	if err != nil {
		t.Fatal(err)
	}
	token := cancel.New()
	s.SetSessionCancel(session.ID, token)

	if err := s.CancelSession(session.ID); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	if !token.Canceled() {
		t.Fatal("expected registered token to be canceled")
	}

	got, err := s.GetSession(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "canceled" {
		t.Fatalf("status = %q, want canceled", got.Status)
	}
	if got.Error == "" {
		t.Fatal("expected a default cancellation error message")
	}
}

func TestSaveSessionAttachmentSanitizesAndDedupes(t *testing.T) {
	s := newTestStore(t)
	session, err := s.CreateSession("/work", "chat", "", "")
	if err != nil {
		t.Fatal(err)
	}

	first, err := s.SaveSessionAttachment(session.ID, "../../etc/notes", "", []byte("one"))
	if err != nil {
		t.Fatalf("SaveSessionAttachment: %v", err)
	}
	if first.Filename != "notes.bin" {
		t.Fatalf("filename = %q, want notes.bin", first.Filename)
	}
	if first.MimeType != "application/octet-stream" {
		t.Fatalf("mime = %q", first.MimeType)
	}

	second, err := s.SaveSessionAttachment(session.ID, "../../etc/notes", "", []byte("two"))
	if err != nil {
		t.Fatalf("SaveSessionAttachment (second): %v", err)
	}
	if second.Filename == first.Filename {
		t.Fatal("expected collision-renamed filename on second save")
	}
}

func TestExportRunProducesZip(t *testing.T) {
	s := newTestStore(t)
	run, err := s.CreateRun("/work", "/work/SPEC.md")
	if err != nil {
		t.Fatal(err)
	}
	data, err := s.ExportRun(run.ID)
	if err != nil {
		t.Fatalf("ExportRun: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty zip bytes")
	}
	// Zip local file header signature.
	if data[0] != 'P' || data[1] != 'K' {
		t.Fatalf("output does not look like a zip archive: %v", data[:2])
	}
}

func TestReloadFromDiskRestoresState(t *testing.T) {
	dir := t.TempDir()
	first := New(dir)
	if err := first.Init(); err != nil {
		t.Fatal(err)
	}
	run, err := first.CreateRun("/work", "/work/SPEC.md")
	if err != nil {
		t.Fatal(err)
	}

	second := New(dir)
	if err := second.Init(); err != nil {
		t.Fatal(err)
	}
	got, err := second.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun after reload: %v", err)
	}
	if got.ID != run.ID {
		t.Fatalf("reloaded run mismatch: %+v", got)
	}
}

func TestReloadMarksInFlightRunFailed(t *testing.T) {
	dir := t.TempDir()
	first := New(dir)
	if err := first.Init(); err != nil {
		t.Fatal(err)
	}
	run, err := first.CreateRun("/work", "/work/SPEC.md")
	if err != nil {
		t.Fatal(err)
	}
	run.Status = "running"
	if err := first.UpdateRun(&run); err != nil {
		t.Fatal(err)
	}

	second := New(dir)
	if err := second.Init(); err != nil {
		t.Fatal(err)
	}
	got, err := second.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun after reload: %v", err)
	}
	if got.Status != "failed" {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.Error != restartInterruptedError {
		t.Fatalf("error = %q, want %q", got.Error, restartInterruptedError)
	}

	third := New(dir)
	if err := third.Init(); err != nil {
		t.Fatal(err)
	}
	persisted, err := third.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun after second reload: %v", err)
	}
	if persisted.Status != "failed" {
		t.Fatalf("persisted status = %q, want failed", persisted.Status)
	}
}

func TestReloadLeavesTerminalRunUntouched(t *testing.T) {
	dir := t.TempDir()
	first := New(dir)
	if err := first.Init(); err != nil {
		t.Fatal(err)
	}
	run, err := first.CreateRun("/work", "/work/SPEC.md")
	if err != nil {
		t.Fatal(err)
	}
	run.Status = "succeeded"
	if err := first.UpdateRun(&run); err != nil {
		t.Fatal(err)
	}

	second := New(dir)
	if err := second.Init(); err != nil {
		t.Fatal(err)
	}
	got, err := second.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun after reload: %v", err)
	}
	if got.Status != "succeeded" {
		t.Fatalf("status = %q, want succeeded", got.Status)
	}
	if got.Error != "" {
		t.Fatalf("error = %q, want empty", got.Error)
	}
}

func TestReloadMarksInFlightSessionAndTurnFailed(t *testing.T) {
	dir := t.TempDir()
	first := New(dir)
	if err := first.Init(); err != nil {
		t.Fatal(err)
	}
	session, err := first.CreateSession("/work", "chat", "", "")
	if err != nil {
		t.Fatal(err)
	}
	turn, err := first.AddTurn(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	session, err = first.GetSession(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	session.Status = "waiting_approval"
	found := false
	for i := range session.Turns {
		if session.Turns[i].ID == turn.ID {
			session.Turns[i].Status = "waiting_approval"
			found = true
		}
	}
	if !found {
		t.Fatalf("turn %s not found on session", turn.ID)
	}
	if err := first.UpdateSession(&session); err != nil {
		t.Fatal(err)
	}

	second := New(dir)
	if err := second.Init(); err != nil {
		t.Fatal(err)
	}
	got, err := second.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession after reload: %v", err)
	}
	if got.Status != "failed" {
		t.Fatalf("session status = %q, want failed", got.Status)
	}
	if got.Error != restartInterruptedError {
		t.Fatalf("session error = %q, want %q", got.Error, restartInterruptedError)
	}
	idx := -1
	for i := range got.Turns {
		if got.Turns[i].ID == turn.ID {
			idx = i
		}
	}
	if idx == -1 {
		t.Fatalf("turn %s missing after reload", turn.ID)
	}
	if got.Turns[idx].Status != "failed" {
		t.Fatalf("turn status = %q, want failed", got.Turns[idx].Status)
	}
	if got.Turns[idx].Error != restartInterruptedError {
		t.Fatalf("turn error = %q, want %q", got.Turns[idx].Error, restartInterruptedError)
	}
}

func TestReloadLeavesIdleSessionUntouched(t *testing.T) {
	dir := t.TempDir()
	first := New(dir)
	if err := first.Init(); err != nil {
		t.Fatal(err)
	}
	session, err := first.CreateSession("/work", "chat", "", "")
	if err != nil {
		t.Fatal(err)
	}

	second := New(dir)
	if err := second.Init(); err != nil {
		t.Fatal(err)
	}
	got, err := second.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession after reload: %v", err)
	}
	if got.Status != "active" {
		t.Fatalf("status = %q, want active", got.Status)
	}
	if got.Error != "" {
		t.Fatalf("error = %q, want empty", got.Error)
	}
}

func TestPruneExpiredApprovalsReleasesOrphanedWaiters(t *testing.T) {
	s := newTestStore(t)

	run, err := s.CreateRun("/work", "/work/SPEC.md")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RequireApproval(run.ID, "step_1"); err != nil {
		t.Fatal(err)
	}
	run.Status = "failed"
	run.Error = "boom"
	if err := s.UpdateRun(&run); err != nil {
		t.Fatal(err)
	}

	session, err := s.CreateSession("/work", "chat", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RequireSessionApproval(session.ID, "call_1"); err != nil {
		t.Fatal(err)
	}
	session.Status = "canceled"
	if err := s.UpdateSession(&session); err != nil {
		t.Fatal(err)
	}

	waitRunErr := make(chan error, 1)
	go func() { waitRunErr <- s.WaitForApproval(run.ID, "step_1", nil) }()
	waitSessionDone := make(chan ApprovalDecision, 1)
	go func() {
		decision, _ := s.WaitForSessionApproval(session.ID, "call_1", nil)
		waitSessionDone <- decision
	}()

	time.Sleep(10 * time.Millisecond)
	prunedRuns, prunedSessions := s.PruneExpiredApprovals()
	if prunedRuns != 1 {
		t.Fatalf("prunedRuns = %d, want 1", prunedRuns)
	}
	if prunedSessions != 1 {
		t.Fatalf("prunedSessions = %d, want 1", prunedSessions)
	}

	select {
	case err := <-waitRunErr:
		if err != nil {
			t.Fatalf("WaitForApproval returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pruned run approval to release")
	}
	select {
	case decision := <-waitSessionDone:
		if decision.Action != "deny" {
			t.Fatalf("decision = %+v, want deny", decision)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pruned session approval to release")
	}

	if err := s.Approve(run.ID, "step_1"); err == nil {
		t.Fatal("expected pruned run approval to be gone")
	}
}

func TestPruneExpiredApprovalsLeavesActiveWaiterAlone(t *testing.T) {
	s := newTestStore(t)
	run, err := s.CreateRun("/work", "/work/SPEC.md")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RequireApproval(run.ID, "step_1"); err != nil {
		t.Fatal(err)
	}

	prunedRuns, prunedSessions := s.PruneExpiredApprovals()
	if prunedRuns != 0 || prunedSessions != 0 {
		t.Fatalf("pruned = (%d, %d), want (0, 0) for a run still queued", prunedRuns, prunedSessions)
	}
	if err := s.Approve(run.ID, "step_1"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
}
