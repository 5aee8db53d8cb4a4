package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ScopedFilesystemTools exposes read/write/list file tools confined to a
// single directory — a dispatched worker's own scratch space per
// spec.md §4.8. Workers are disposable, isolated sessions, so containment
// here is a plain path-prefix check rather than the teacher's
// symlink/hardlink/TOCTOU-hardened filesystem tool.
type ScopedFilesystemTools struct {
	BaseDir string
}

func (ft *ScopedFilesystemTools) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	base, err := filepath.Abs(ft.BaseDir)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(base, rel)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if abs != base && !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the worker directory", rel)
	}
	return abs, nil
}

type readFileTool struct{ ft *ScopedFilesystemTools }

func (t *readFileTool) Name() string        { return "read_file" }
func (t *readFileTool) Description() string { return "Read a file from the worker's own directory." }
func (t *readFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
		"required":   []string{"path"},
	}
}

func (t *readFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, err := t.ft.resolve(stringArg(args, "path"))
	if err != nil {
		return ErrorResult(err.Error())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read failed: %v", err))
	}
	return NewResult(string(data))
}

type writeFileTool struct{ ft *ScopedFilesystemTools }

func (t *writeFileTool) Name() string { return "write_file" }
func (t *writeFileTool) Description() string {
	return "Write (overwriting) a file in the worker's own directory."
}
func (t *writeFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string"},
			"content": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *writeFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, err := t.ft.resolve(stringArg(args, "path"))
	if err != nil {
		return ErrorResult(err.Error())
	}
	content, _ := args["content"].(string)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("write failed: %v", err))
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("write failed: %v", err))
	}
	return SilentResult("written")
}

type listFilesTool struct{ ft *ScopedFilesystemTools }

func (t *listFilesTool) Name() string        { return "list_files" }
func (t *listFilesTool) Description() string { return "List files in the worker's own directory." }
func (t *listFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string", "description": "Subdirectory, relative to the worker root. Defaults to the root."}},
	}
}

func (t *listFilesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rel := stringArg(args, "path")
	var path string
	var err error
	if rel == "" {
		path, err = filepath.Abs(t.ft.BaseDir)
	} else {
		path, err = t.ft.resolve(rel)
	}
	if err != nil {
		return ErrorResult(err.Error())
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("list failed: %v", err))
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name()+"/")
		} else {
			names = append(names, e.Name())
		}
	}
	return NewResult(strings.Join(names, "\n"))
}

// Tools returns every tool this group provides.
func (ft *ScopedFilesystemTools) Tools() []Tool {
	return []Tool{&readFileTool{ft}, &writeFileTool{ft}, &listFilesTool{ft}}
}
