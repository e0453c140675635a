package turnengine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentharness/agentd/internal/modelkit"
	"github.com/agentharness/agentd/internal/store"
)

func newTestEngine(t *testing.T, opts Options) (*Engine, *store.Store, *modelkit.StubProvider) {
	t.Helper()
	st := store.New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	stub := modelkit.NewStubProvider(modelkit.DefaultStubRecords())
	records := stub.ListModelRecords()
	router := modelkit.NewRouter()
	eng := New(st, router, Providers{"stub": stub}, records, nil, opts)
	return eng, st, stub
}

// waitForTurnStatus polls sessionID's turn until it reaches one of want, and
// returns the session as last observed.
func waitForTurnStatus(t *testing.T, st *store.Store, sessionID, turnID string, want ...string) store.Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		session, err := st.GetSession(sessionID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if idx := turnIndex(session.Turns, turnID); idx != -1 {
			status := session.Turns[idx].Status
			for _, w := range want {
				if status == w {
					return session
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("turn %s did not reach any of %v in time", turnID, want)
	return store.Session{}
}

func waitForSessionStatus(t *testing.T, st *store.Store, sessionID string, want ...string) store.Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		session, err := st.GetSession(sessionID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		for _, w := range want {
			if session.Status == w {
				return session
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s did not reach any of %v in time", sessionID, want)
	return store.Session{}
}

// approveWhenPending retries ApproveSessionToolCall until the approval has
// actually been registered by the engine (RequireSessionApproval races with
// this goroutine), or fails the test after 5s.
func approveWhenPending(t *testing.T, st *store.Store, sessionID, toolCallID string, decision store.ApprovalDecision) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := st.ApproveSessionToolCall(sessionID, toolCallID, decision); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("approval for tool call %s never became pending", toolCallID)
}

func mustCreateSession(t *testing.T, st *store.Store, workspace, mode string) store.Session {
	t.Helper()
	session, err := st.CreateSession(workspace, mode, "", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session
}

func mustAddTurn(t *testing.T, st *store.Store, sessionID string) store.Turn {
	t.Helper()
	turn, err := st.AddTurn(sessionID)
	if err != nil {
		t.Fatalf("AddTurn: %v", err)
	}
	return turn
}

func rawInput(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	return data
}

func TestHappyChatTurnCompletesWithoutToolCalls(t *testing.T) {
	eng, st, stub := newTestEngine(t, Options{})
	workspace := t.TempDir()
	session := mustCreateSession(t, st, workspace, "chat")
	turn := mustAddTurn(t, st, session.ID)

	stub.Enqueue(modelkit.GenerateOutput{Text: "hello there", FinishReason: modelkit.FinishStop})

	if err := eng.StartTurn(session.ID, turn.ID); err != nil {
		t.Fatalf("StartTurn: %v", err)
	}

	final := waitForTurnStatus(t, st, session.ID, turn.ID, "succeeded", "failed", "canceled")
	idx := turnIndex(final.Turns, turn.ID)
	if final.Turns[idx].Status != "succeeded" {
		t.Fatalf("turn status = %q, want succeeded (error=%q)", final.Turns[idx].Status, final.Turns[idx].Error)
	}
	if final.Status != "active" {
		t.Fatalf("session status = %q, want active", final.Status)
	}
	if len(final.Messages) != 1 || final.Messages[0].Role != "assistant" {
		t.Fatalf("unexpected messages: %+v", final.Messages)
	}
	if len(final.Messages[0].Parts) != 1 || final.Messages[0].Parts[0].Text != "hello there" {
		t.Fatalf("unexpected assistant parts: %+v", final.Messages[0].Parts)
	}

	events, err := st.ReadSessionEvents(session.ID, 0)
	if err != nil {
		t.Fatalf("ReadSessionEvents: %v", err)
	}
	if !hasEventType(events, "turn_completed") {
		t.Fatalf("expected a turn_completed event, got %+v", events)
	}
}

func TestToolCallRequiringApprovalRunsAfterApprove(t *testing.T) {
	eng, st, stub := newTestEngine(t, Options{})
	workspace := t.TempDir()
	session := mustCreateSession(t, st, workspace, "chat")
	turn := mustAddTurn(t, st, session.ID)

	stub.Enqueue(modelkit.GenerateOutput{
		ToolCalls: []modelkit.ToolCall{{
			ID:    "tc-write-1",
			Name:  "write_file",
			Input: rawInput(t, map[string]any{"path": "out.txt", "content": "hi"}),
		}},
		FinishReason: modelkit.FinishToolUse,
	})
	stub.Enqueue(modelkit.GenerateOutput{Text: "done", FinishReason: modelkit.FinishStop})

	if err := eng.StartTurn(session.ID, turn.ID); err != nil {
		t.Fatalf("StartTurn: %v", err)
	}

	approveWhenPending(t, st, session.ID, "tc-write-1", store.ApprovalDecision{Action: "approve"})

	final := waitForTurnStatus(t, st, session.ID, turn.ID, "succeeded", "failed", "canceled")
	idx := turnIndex(final.Turns, turn.ID)
	if final.Turns[idx].Status != "succeeded" {
		t.Fatalf("turn status = %q, want succeeded (error=%q)", final.Turns[idx].Status, final.Turns[idx].Error)
	}

	events, err := st.ReadSessionEvents(session.ID, 0)
	if err != nil {
		t.Fatalf("ReadSessionEvents: %v", err)
	}
	if !hasEventType(events, "approval_requested") || !hasEventType(events, "approval_granted") {
		t.Fatalf("expected approval_requested and approval_granted events, got %+v", events)
	}
}

func TestToolCallDeniedFailsTurn(t *testing.T) {
	eng, st, stub := newTestEngine(t, Options{})
	workspace := t.TempDir()
	session := mustCreateSession(t, st, workspace, "chat")
	turn := mustAddTurn(t, st, session.ID)

	stub.Enqueue(modelkit.GenerateOutput{
		ToolCalls: []modelkit.ToolCall{{
			ID:    "tc-write-2",
			Name:  "write_file",
			Input: rawInput(t, map[string]any{"path": "out.txt", "content": "hi"}),
		}},
		FinishReason: modelkit.FinishToolUse,
	})

	if err := eng.StartTurn(session.ID, turn.ID); err != nil {
		t.Fatalf("StartTurn: %v", err)
	}

	approveWhenPending(t, st, session.ID, "tc-write-2", store.ApprovalDecision{Action: "deny", Reason: "not now"})

	final := waitForTurnStatus(t, st, session.ID, turn.ID, "succeeded", "failed", "canceled")
	idx := turnIndex(final.Turns, turn.ID)
	if final.Turns[idx].Status != "failed" {
		t.Fatalf("turn status = %q, want failed", final.Turns[idx].Status)
	}
	if final.Turns[idx].Error != "approval denied" {
		t.Fatalf("turn error = %q, want %q", final.Turns[idx].Error, "approval denied")
	}
	if final.Status != "failed" {
		t.Fatalf("session status = %q, want failed", final.Status)
	}

	events, err := st.ReadSessionEvents(session.ID, 0)
	if err != nil {
		t.Fatalf("ReadSessionEvents: %v", err)
	}
	if !hasEventType(events, "approval_denied") {
		t.Fatalf("expected an approval_denied event, got %+v", events)
	}
}

// TestRepeatedToolCallIsSkippedAsDuplicate covers both the duplicate-call
// scenario and the duplicate-suppression invariant: a model that asks for
// the exact same call twice in a row gets the second one skipped rather than
// re-executed.
func TestRepeatedToolCallIsSkippedAsDuplicate(t *testing.T) {
	eng, st, stub := newTestEngine(t, Options{})
	workspace := t.TempDir()
	if err := writeFile(workspace, "a.txt", "hi"); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	session := mustCreateSession(t, st, workspace, "chat")
	turn := mustAddTurn(t, st, session.ID)

	readInput := rawInput(t, map[string]any{"path": "a.txt"})
	stub.Enqueue(modelkit.GenerateOutput{
		ToolCalls:    []modelkit.ToolCall{{ID: "tc-read-1", Name: "read_file", Input: readInput}},
		FinishReason: modelkit.FinishToolUse,
	})
	stub.Enqueue(modelkit.GenerateOutput{
		ToolCalls:    []modelkit.ToolCall{{ID: "tc-read-2", Name: "read_file", Input: readInput}},
		FinishReason: modelkit.FinishToolUse,
	})

	if err := eng.StartTurn(session.ID, turn.ID); err != nil {
		t.Fatalf("StartTurn: %v", err)
	}

	final := waitForTurnStatus(t, st, session.ID, turn.ID, "succeeded", "failed", "canceled")
	idx := turnIndex(final.Turns, turn.ID)
	if final.Turns[idx].Status != "succeeded" {
		t.Fatalf("turn status = %q, want succeeded (error=%q)", final.Turns[idx].Status, final.Turns[idx].Error)
	}

	events, err := st.ReadSessionEvents(session.ID, 0)
	if err != nil {
		t.Fatalf("ReadSessionEvents: %v", err)
	}
	skipped := eventsOfType(events, "tool_call_skipped")
	if len(skipped) != 1 {
		t.Fatalf("expected exactly one tool_call_skipped event, got %d: %+v", len(skipped), skipped)
	}
	if skipped[0].Data["tool_call_id"] != "tc-read-2" {
		t.Fatalf("skipped event refers to %v, want tc-read-2", skipped[0].Data["tool_call_id"])
	}
	if skipped[0].Data["reason"] != "duplicate tool call: no new info" {
		t.Fatalf("unexpected skip reason: %v", skipped[0].Data["reason"])
	}

	completed := eventsOfType(events, "tool_call_completed")
	var skippedCompletions int
	for _, ev := range completed {
		if ok, _ := ev.Data["skipped"].(bool); ok {
			skippedCompletions++
		}
	}
	if skippedCompletions != 1 {
		t.Fatalf("expected exactly one tool_call_completed{skipped:true}, got %d", skippedCompletions)
	}
}

func TestCancelDuringShellExecutionCancelsSession(t *testing.T) {
	eng, st, stub := newTestEngine(t, Options{})
	workspace := t.TempDir()
	session := mustCreateSession(t, st, workspace, "chat")
	turn := mustAddTurn(t, st, session.ID)

	stub.Enqueue(modelkit.GenerateOutput{
		ToolCalls: []modelkit.ToolCall{{
			ID:    "tc-shell-1",
			Name:  "shell",
			Input: rawInput(t, map[string]any{"command": "sleep 2"}),
		}},
		FinishReason: modelkit.FinishToolUse,
	})

	if err := eng.StartTurn(session.ID, turn.ID); err != nil {
		t.Fatalf("StartTurn: %v", err)
	}

	approveWhenPending(t, st, session.ID, "tc-shell-1", store.ApprovalDecision{Action: "approve"})
	time.Sleep(150 * time.Millisecond)
	if err := st.CancelSession(session.ID); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}

	final := waitForSessionStatus(t, st, session.ID, "canceled", "succeeded", "failed")
	if final.Status != "canceled" {
		t.Fatalf("session status = %q, want canceled (session error=%q)", final.Status, final.Error)
	}
	idx := turnIndex(final.Turns, turn.ID)
	if idx == -1 || final.Turns[idx].Status != "failed" {
		t.Fatalf("unexpected turn state: %+v", final.Turns)
	}

	events, err := st.ReadSessionEvents(session.ID, 0)
	if err != nil {
		t.Fatalf("ReadSessionEvents: %v", err)
	}
	if !hasEventType(events, "session_canceled") {
		t.Fatalf("expected a session_canceled event, got %+v", events)
	}
}

func TestSpecModeWriteSpecTriggersValidation(t *testing.T) {
	eng, st, stub := newTestEngine(t, Options{})
	workspace := t.TempDir()
	session := mustCreateSession(t, st, workspace, "spec")
	turn := mustAddTurn(t, st, session.ID)

	specContent := "# Goal\n\nBuild it.\n\n# Constraints / nuances\n\n- none\n\n# Acceptance tests\n\n- it works\n"
	stub.Enqueue(modelkit.GenerateOutput{
		ToolCalls: []modelkit.ToolCall{{
			ID:    "tc-spec-1",
			Name:  "write_spec",
			Input: rawInput(t, map[string]any{"content": specContent}),
		}},
		FinishReason: modelkit.FinishToolUse,
	})
	stub.Enqueue(modelkit.GenerateOutput{Text: "looks good", FinishReason: modelkit.FinishStop})

	if err := eng.StartTurn(session.ID, turn.ID); err != nil {
		t.Fatalf("StartTurn: %v", err)
	}

	final := waitForTurnStatus(t, st, session.ID, turn.ID, "succeeded", "failed", "canceled")
	idx := turnIndex(final.Turns, turn.ID)
	if final.Turns[idx].Status != "succeeded" {
		t.Fatalf("turn status = %q, want succeeded (error=%q)", final.Turns[idx].Status, final.Turns[idx].Error)
	}
	if final.SpecPath == "" {
		t.Fatal("expected spec_path to be set on the session")
	}

	events, err := st.ReadSessionEvents(session.ID, 0)
	if err != nil {
		t.Fatalf("ReadSessionEvents: %v", err)
	}
	if !hasEventType(events, "spec_path_set") || !hasEventType(events, "spec_created") {
		t.Fatalf("expected spec_path_set and spec_created events, got %+v", events)
	}
	validated := eventsOfType(events, "spec_validated")
	if len(validated) != 1 {
		t.Fatalf("expected exactly one spec_validated event, got %d", len(validated))
	}
	if ok, _ := validated[0].Data["ok"].(bool); !ok {
		t.Fatalf("expected spec_validated ok=true, got %+v", validated[0].Data)
	}
}

// TestToolUseMessagesArePairedWithToolResults is the tool_use/tool pairing
// invariant: every tool call the model requests produces exactly one
// role=tool message carrying the matching tool_call_id, regardless of how
// many calls land in a single model turn.
func TestToolUseMessagesArePairedWithToolResults(t *testing.T) {
	eng, st, stub := newTestEngine(t, Options{})
	workspace := t.TempDir()
	if err := writeFile(workspace, "exists.txt", "hi"); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	session := mustCreateSession(t, st, workspace, "chat")
	turn := mustAddTurn(t, st, session.ID)

	stub.Enqueue(modelkit.GenerateOutput{
		ToolCalls: []modelkit.ToolCall{
			{ID: "tc-pair-1", Name: "git_status", Input: json.RawMessage("{}")},
			{ID: "tc-pair-2", Name: "read_file", Input: rawInput(t, map[string]any{"path": "exists.txt"})},
		},
		FinishReason: modelkit.FinishToolUse,
	})
	stub.Enqueue(modelkit.GenerateOutput{Text: "all good", FinishReason: modelkit.FinishStop})

	if err := eng.StartTurn(session.ID, turn.ID); err != nil {
		t.Fatalf("StartTurn: %v", err)
	}

	final := waitForTurnStatus(t, st, session.ID, turn.ID, "succeeded", "failed", "canceled")
	idx := turnIndex(final.Turns, turn.ID)
	if final.Turns[idx].Status != "succeeded" {
		t.Fatalf("turn status = %q, want succeeded (error=%q)", final.Turns[idx].Status, final.Turns[idx].Error)
	}

	for _, callID := range []string{"tc-pair-1", "tc-pair-2"} {
		var matches int
		for _, msg := range final.Messages {
			if msg.Role == "tool" && msg.ToolCallID == callID {
				matches++
			}
		}
		if matches != 1 {
			t.Fatalf("tool call %s has %d role=tool messages, want exactly 1", callID, matches)
		}
	}
}

func hasEventType(events []store.SessionEvent, eventType string) bool {
	return len(eventsOfType(events, eventType)) > 0
}

func eventsOfType(events []store.SessionEvent, eventType string) []store.SessionEvent {
	var out []store.SessionEvent
	for _, ev := range events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func writeFile(workspace, name, content string) error {
	return os.WriteFile(filepath.Join(workspace, name), []byte(content), 0o644)
}
