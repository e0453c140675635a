package turnengine

import (
	"encoding/json"
	"strings"

	"github.com/agentharness/agentd/internal/modelkit"
)

// dedupCalls partitions calls into those to run and those to skip as
// duplicates within this turn, keyed on "name:canonicalized_json_input" so
// semantically identical calls (differing only in whitespace or key order)
// collapse. counts is mutated in place so duplicate detection spans
// iterations within the same turn.
func dedupCalls(calls []modelkit.ToolCall, counts map[string]int) (toRun, skipped []modelkit.ToolCall) {
	for _, call := range calls {
		key := callKey(call)
		if counts[key] > 0 {
			skipped = append(skipped, call)
			continue
		}
		counts[key]++
		toRun = append(toRun, call)
	}
	return toRun, skipped
}

func callKey(call modelkit.ToolCall) string {
	return call.Name + ":" + canonicalizeInput(call.Input)
}

// canonicalizeInput re-serializes valid JSON with map keys sorted (the
// default for encoding/json on a decoded map[string]any), so two inputs that
// differ only in formatting produce the same key. Invalid JSON falls back
// to its raw string form.
func canonicalizeInput(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "{}"
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return trimmed
	}
	out, err := json.Marshal(value)
	if err != nil {
		return trimmed
	}
	return string(out)
}
