package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SearchTool does a bounded literal/substring search across workspace
// files, returning matching lines with their file and line number.
type SearchTool struct {
	workspace  string
	maxResults int
}

// NewSearchTool returns a search tool scoped to workspace.
func NewSearchTool(workspace string, maxResults int) *SearchTool {
	if maxResults <= 0 {
		maxResults = 50
	}
	return &SearchTool{workspace: workspace, maxResults: maxResults}
}

func (t *SearchTool) Name() string          { return "search" }
func (t *SearchTool) Kind() Kind            { return KindRead }
func (t *SearchTool) RequiresApproval() bool { return false }
func (t *SearchTool) AllowWithoutApproval() bool { return false }

func (t *SearchTool) Description() string {
	return "Search workspace files for a literal substring, returning matching lines."
}

func (t *SearchTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Substring to search for."},
			"glob":  map[string]any{"type": "string", "description": "Optional filename glob filter, e.g. *.go."},
		},
		"required": []string{"query"},
	})
}

type searchMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		Query string `json:"query"`
		Glob  string `json:"glob"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return ErrorResult("query is required"), nil
	}

	files, _, err := WalkFiles(t.workspace, 20000)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}

	var matches []searchMatch
	truncated := false
	for _, rel := range files {
		if len(matches) >= t.maxResults {
			truncated = true
			break
		}
		if input.Glob != "" {
			if ok, err := filepath.Match(input.Glob, filepath.Base(rel)); err != nil || !ok {
				continue
			}
		}
		abs := filepath.Join(t.workspace, rel)
		found, err := grepFile(abs, rel, input.Query, t.maxResults-len(matches))
		if err != nil {
			continue
		}
		matches = append(matches, found...)
	}

	return JSONResult(map[string]any{
		"matches":   matches,
		"truncated": truncated,
	}), nil
}

func grepFile(absPath, relPath, query string, limit int) ([]searchMatch, error) {
	file, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []searchMatch
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.Contains(line, query) {
			out = append(out, searchMatch{File: relPath, Line: lineNo, Text: line})
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
