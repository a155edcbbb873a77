package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hayahq/haya/internal/workspace"
)

// TimeTool reports the current date and time.
type TimeTool struct {
	Now func() time.Time // test hook, defaults to time.Now
}

func (t *TimeTool) Name() string { return "current_time" }

func (t *TimeTool) Description() string {
	return "Get the current date and time, optionally in a named IANA timezone."
}

func (t *TimeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timezone": {"type": "string", "description": "IANA timezone name, e.g. Europe/Berlin. Defaults to local time."}
		}
	}`)
}

func (t *TimeTool) Execute(ctx context.Context, args Args) (string, error) {
	now := time.Now()
	if t.Now != nil {
		now = t.Now()
	}
	if tz := args.String("timezone"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", tz)
		}
		now = now.In(loc)
	}
	return now.Format("Monday, 2 January 2006 15:04:05 MST"), nil
}

// ReadFileTool reads a file inside the workspace roots.
type ReadFileTool struct {
	Guard *workspace.Guard
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a text file from the workspace." }

func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path of the file to read."}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, args Args) (string, error) {
	path, err := t.Guard.Resolve(args.String("path"))
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// ListDirTool lists a workspace directory.
type ListDirTool struct {
	Guard *workspace.Guard
}

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List the entries of a workspace directory." }

func (t *ListDirTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Directory to list."}
		},
		"required": ["path"]
	}`)
}

func (t *ListDirTool) Execute(ctx context.Context, args Args) (string, error) {
	path, err := t.Guard.Resolve(args.String("path"))
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	out, err := json.Marshal(names)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// WriteFileTool writes a file inside the workspace roots. Confirm by
// default: writes are visible side effects.
type WriteFileTool struct {
	Guard *workspace.Guard
}

func (t *WriteFileTool) Name() string          { return "write_file" }
func (t *WriteFileTool) Description() string   { return "Write a text file inside the workspace." }
func (t *WriteFileTool) DefaultPolicy() Policy { return PolicyConfirm }

func (t *WriteFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Destination path."},
			"content": {"type": "string", "description": "Full file content."}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFileTool) Execute(ctx context.Context, args Args) (string, error) {
	path, err := t.Guard.Resolve(args.String("path"))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}
	content := args.String("content")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

// RegisterBuiltins installs the built-in tool set. guard may be nil, in
// which case the file tools are skipped.
func RegisterBuiltins(r *Registry, guard *workspace.Guard) error {
	if err := r.Register(&TimeTool{}); err != nil {
		return err
	}
	if guard == nil {
		return nil
	}
	for _, tool := range []Tool{
		&ReadFileTool{Guard: guard},
		&ListDirTool{Guard: guard},
		&WriteFileTool{Guard: guard},
	} {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
