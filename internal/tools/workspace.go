// Package tools implements the built-in agent toolset: workspace file
// access, command execution, web fetch/search, memory, session control,
// scheduling, browser automation, and skills.
//
// Every tool is registered with the agent registry, which validates
// arguments against the tool's schema before Execute is called. Tools
// that touch the filesystem resolve paths through resolvePath so a
// call can never escape its workspace root.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/primehq/prime/internal/agent"
)

// DefaultMaxReadBytes caps read_file output.
const DefaultMaxReadBytes = 200000

// resolvePath returns an absolute, cleaned path confined to the
// workspace root. Absolute inputs and ".." traversal that would land
// outside the root are rejected.
func resolvePath(workspace, path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(workspace)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}

// ReadFileTool reads a workspace file with a byte cap.
type ReadFileTool struct {
	MaxBytes int
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the workspace. Output is truncated past the byte limit."
}

func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path relative to the workspace root."}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(_ context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	resolved, err := resolvePath(call.Workspace, in.Path)
	if err != nil {
		return "", err
	}

	f, err := os.Open(resolved)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	limit := t.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxReadBytes
	}
	buf, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if len(buf) > limit {
		return string(buf[:limit]) + "\n[truncated]", nil
	}
	return string(buf), nil
}

// WriteFileTool writes a workspace file, creating parent directories.
type WriteFileTool struct{}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file in the workspace, creating it if needed."
}

func (t *WriteFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path relative to the workspace root."},
			"content": {"type": "string", "description": "Full file content to write."}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFileTool) DisablesStreaming() bool { return true }

func (t *WriteFileTool) Execute(_ context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	resolved, err := resolvePath(call.Workspace, in.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create directories: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(in.Content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(in.Content), in.Path), nil
}

// EditFileTool replaces one exact occurrence of old_text with new_text.
type EditFileTool struct{}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Replace an exact text match in a workspace file. old_text must appear exactly once."
}

func (t *EditFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path relative to the workspace root."},
			"old_text": {"type": "string", "description": "Exact text to replace."},
			"new_text": {"type": "string", "description": "Replacement text."}
		},
		"required": ["path", "old_text", "new_text"]
	}`)
}

func (t *EditFileTool) DisablesStreaming() bool { return true }

func (t *EditFileTool) Execute(_ context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Path    string `json:"path"`
		OldText string `json:"old_text"`
		NewText string `json:"new_text"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	if in.OldText == "" {
		return "", fmt.Errorf("old_text is required")
	}
	resolved, err := resolvePath(call.Workspace, in.Path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	content := string(data)

	switch strings.Count(content, in.OldText) {
	case 0:
		return "", fmt.Errorf("old_text not found in %s", in.Path)
	case 1:
	default:
		return "", fmt.Errorf("old_text matches more than once in %s", in.Path)
	}

	updated := strings.Replace(content, in.OldText, in.NewText, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fmt.Sprintf("edited %s", in.Path), nil
}

// ListFilesTool lists workspace entries, optionally recursively.
type ListFilesTool struct {
	// MaxEntries caps output size; zero means 500.
	MaxEntries int
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List files in a workspace directory. Set recursive to walk subdirectories."
}

func (t *ListFilesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Directory relative to the workspace root. Defaults to the root."},
			"recursive": {"type": "boolean", "description": "Walk subdirectories."}
		}
	}`)
}

func (t *ListFilesTool) Execute(_ context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	if in.Path == "" {
		in.Path = "."
	}
	resolved, err := resolvePath(call.Workspace, in.Path)
	if err != nil {
		return "", err
	}

	maxEntries := t.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 500
	}

	var entries []string
	if in.Recursive {
		err = filepath.WalkDir(resolved, func(p string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			rel, relErr := filepath.Rel(resolved, p)
			if relErr != nil || rel == "." {
				return nil
			}
			if d.IsDir() {
				rel += "/"
			}
			entries = append(entries, rel)
			if len(entries) >= maxEntries {
				return filepath.SkipAll
			}
			return nil
		})
	} else {
		var dirEntries []os.DirEntry
		dirEntries, err = os.ReadDir(resolved)
		for _, e := range dirEntries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			entries = append(entries, name)
			if len(entries) >= maxEntries {
				break
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("list %s: %w", in.Path, err)
	}

	sort.Strings(entries)
	if len(entries) == 0 {
		return "(empty)", nil
	}
	return strings.Join(entries, "\n"), nil
}
