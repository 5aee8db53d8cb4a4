package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// ShellTool runs a shell command, gated at trust.LevelElevated with
// trust.CapabilityShell — spec.md scenario 5 names shell_exec as the
// worked example of a tool requiring explicit user approval. The body is
// a plain os/exec call; spec.md §1 scopes tool bodies themselves as
// external collaborators, so the teacher's extensive deny-pattern
// filtering does not belong here.
type ShellTool struct {
	WorkDir string
	Timeout time.Duration
}

func (t *ShellTool) Name() string        { return "shell_exec" }
func (t *ShellTool) Description() string { return "Run a shell command and return its output." }
func (t *ShellTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string", "description": "Shell command to run."},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command := stringArg(args, "command")
	if command == "" {
		return ErrorResult("command is required")
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = t.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n--- stderr ---\n" + stderr.String()
	}

	if err != nil {
		return ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, output))
	}
	return NewResult(output)
}
