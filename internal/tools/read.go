package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadTool reads a bounded slice of a workspace file.
type ReadTool struct {
	resolver     resolver
	maxReadBytes int
}

// NewReadTool returns a read tool scoped to workspace, capping any single
// read at maxReadBytes (defaulting to 200000 when <= 0).
func NewReadTool(workspace string, maxReadBytes int) *ReadTool {
	if maxReadBytes <= 0 {
		maxReadBytes = 200000
	}
	return &ReadTool{resolver: newResolver(workspace), maxReadBytes: maxReadBytes}
}

func (t *ReadTool) Name() string        { return "read_file" }
func (t *ReadTool) Kind() Kind          { return KindRead }
func (t *ReadTool) RequiresApproval() bool { return false }
func (t *ReadTool) AllowWithoutApproval() bool { return false }

func (t *ReadTool) Description() string {
	return "Read a file from the workspace with optional byte offset and limit."
}

func (t *ReadTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":      map[string]any{"type": "string", "description": "Path relative to workspace."},
			"offset":    map[string]any{"type": "integer", "minimum": 0, "description": "Byte offset to start reading from."},
			"max_bytes": map[string]any{"type": "integer", "minimum": 0, "description": "Maximum bytes to read (capped by tool default)."},
		},
		"required": []string{"path"},
	})
}

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		Path     string `json:"path"`
		Offset   int64  `json:"offset"`
		MaxBytes int    `json:"max_bytes"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return ErrorResult("path is required"), nil
	}
	if input.Offset < 0 {
		return ErrorResult("offset must be >= 0"), nil
	}

	resolved, err := t.resolver.resolve(input.Path)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return ErrorResult(fmt.Sprintf("stat file: %v", err)), nil
	}

	if input.Offset > 0 {
		if _, err := file.Seek(input.Offset, io.SeekStart); err != nil {
			return ErrorResult(fmt.Sprintf("seek file: %v", err)), nil
		}
	}

	limit := t.maxReadBytes
	if input.MaxBytes > 0 && input.MaxBytes < limit {
		limit = input.MaxBytes
	}

	remaining := int64(limit)
	if size := info.Size(); size > 0 {
		remaining = size - input.Offset
		if remaining < 0 {
			remaining = 0
		}
		if remaining > int64(limit) {
			remaining = int64(limit)
		}
	}

	buf, err := io.ReadAll(io.LimitReader(file, remaining))
	if err != nil {
		return ErrorResult(fmt.Sprintf("read file: %v", err)), nil
	}

	truncated := info.Size() > 0 && input.Offset+int64(len(buf)) < info.Size()

	return JSONResult(map[string]any{
		"path":      input.Path,
		"content":   string(buf),
		"offset":    input.Offset,
		"bytes":     len(buf),
		"truncated": truncated,
	}), nil
}

func mustSchema(v any) json.RawMessage {
	payload, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}
