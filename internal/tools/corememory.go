package tools

import (
	"context"
	"errors"

	"github.com/tendwatch/tendwatch/internal/corememory"
)

// CoreMemoryTools wraps a corememory.Store into the always-on
// core_memory_append / core_memory_replace tools. Reading the document
// back into the system prompt is the orchestrator's job, not a tool call.
type CoreMemoryTools struct {
	Store *corememory.Store
}

type coreMemoryAppendTool struct{ cm *CoreMemoryTools }

func (t *coreMemoryAppendTool) Name() string { return "core_memory_append" }
func (t *coreMemoryAppendTool) Description() string {
	return "Append a line to a section of core memory, creating the section if it doesn't exist yet."
}
func (t *coreMemoryAppendTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"section": map[string]interface{}{"type": "string", "description": "Section heading, e.g. Preferences."},
			"content": map[string]interface{}{"type": "string", "description": "Line to append."},
		},
		"required": []string{"section", "content"},
	}
}

func (t *coreMemoryAppendTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	section, _ := args["section"].(string)
	content, _ := args["content"].(string)
	if section == "" || content == "" {
		return ErrorResult("section and content are required")
	}
	if err := t.cm.Store.Append(section, content); err != nil {
		return coreMemoryErrorResult(err)
	}
	return SilentResult("appended")
}

type coreMemoryReplaceTool struct{ cm *CoreMemoryTools }

func (t *coreMemoryReplaceTool) Name() string { return "core_memory_replace" }
func (t *coreMemoryReplaceTool) Description() string {
	return "Replace the first occurrence of a string within a core memory section."
}
func (t *coreMemoryReplaceTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"section": map[string]interface{}{"type": "string", "description": "Section heading to replace within."},
			"old":     map[string]interface{}{"type": "string", "description": "Exact text to find."},
			"new":     map[string]interface{}{"type": "string", "description": "Replacement text."},
		},
		"required": []string{"section", "old", "new"},
	}
}

func (t *coreMemoryReplaceTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	section, _ := args["section"].(string)
	old, _ := args["old"].(string)
	newText, _ := args["new"].(string)
	if section == "" || old == "" {
		return ErrorResult("section and old are required")
	}
	if err := t.cm.Store.Replace(section, old, newText); err != nil {
		return coreMemoryErrorResult(err)
	}
	return SilentResult("replaced")
}

func coreMemoryErrorResult(err error) *Result {
	var cmErr *corememory.Error
	if errors.As(err, &cmErr) {
		return ErrorResult(cmErr.Msg)
	}
	return ErrorResult(err.Error())
}

// Tools returns every tool this group provides.
func (cm *CoreMemoryTools) Tools() []Tool {
	return []Tool{&coreMemoryAppendTool{cm}, &coreMemoryReplaceTool{cm}}
}
