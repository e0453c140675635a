// Package idgen generates the identifiers used for runs, sessions, events,
// approvals, and tool calls.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind namespaces an identifier so that ids are self-describing when they
// show up in logs, event payloads, or file paths.
type Kind string

const (
	KindRun        Kind = "run"
	KindSession    Kind = "sess"
	KindEvent      Kind = "evt"
	KindApproval   Kind = "appr"
	KindToolCall   Kind = "call"
	KindStep       Kind = "step"
	KindMessage    Kind = "msg"
	KindTurn       Kind = "turn"
	KindAttachment Kind = "atch"
)

// New returns a new identifier of the form "<kind>_<uuid>", e.g.
// "run_3fae2a1e-9e9b-4b7a-9b8d-3a8d9a2d9a1e".
func New(kind Kind) string {
	return fmt.Sprintf("%s_%s", kind, uuid.NewString())
}

// NewRun, NewSession, ... are thin convenience wrappers over New, kept
// because call sites read better as idgen.NewRun() than idgen.New(idgen.KindRun).
func NewRun() string        { return New(KindRun) }
func NewSession() string    { return New(KindSession) }
func NewEvent() string      { return New(KindEvent) }
func NewApproval() string   { return New(KindApproval) }
func NewToolCall() string   { return New(KindToolCall) }
func NewStep() string       { return New(KindStep) }
func NewMessage() string    { return New(KindMessage) }
func NewTurn() string       { return New(KindTurn) }
func NewAttachment() string { return New(KindAttachment) }

// KindOf extracts the namespace prefix from an id produced by New, or the
// empty string if id does not follow the "<kind>_<rest>" shape.
func KindOf(id string) Kind {
	idx := strings.IndexByte(id, '_')
	if idx <= 0 {
		return ""
	}
	return Kind(id[:idx])
}
