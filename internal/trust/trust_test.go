package trust

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTools() []ToolSpec {
	return []ToolSpec{
		{Name: "read_memory", Level: LevelSafe},
		{Name: "web_search", Level: LevelGuarded, Capabilities: []Capability{CapabilityNetwork}},
		{Name: "shell_exec", Level: LevelElevated, Capabilities: []Capability{CapabilityShell}},
	}
}

func TestCheck_SafeToolAlwaysAllowed(t *testing.T) {
	g, err := NewGate(filepath.Join(t.TempDir(), "approvals.json"), testTools())
	require.NoError(t, err)

	decision, _ := g.Check("u1", "read_memory")
	assert.Equal(t, DecisionAllow, decision)
}

func TestCheck_GuardedToolAlwaysAllowed(t *testing.T) {
	g, err := NewGate(filepath.Join(t.TempDir(), "approvals.json"), testTools())
	require.NoError(t, err)

	decision, _ := g.Check("u1", "web_search")
	assert.Equal(t, DecisionAllow, decision)
}

func TestCheck_UnknownToolDeniedByDefault(t *testing.T) {
	g, err := NewGate(filepath.Join(t.TempDir(), "approvals.json"), testTools())
	require.NoError(t, err)

	decision, spec := g.Check("u1", "mystery_tool")
	assert.Equal(t, DecisionDenied, decision)
	assert.Equal(t, LevelElevated, spec.Level)
}

// TestApprovalHandshake covers spec.md §8 scenario 5: first elevated call
// denied -> pending approval set -> "always" reply persists approval ->
// retry succeeds -> approval survives a process restart (new Gate over the
// same file).
func TestApprovalHandshake_AlwaysPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	tools := testTools()

	g, err := NewGate(path, tools)
	require.NoError(t, err)

	decision, _ := g.Check("u1", "shell_exec")
	require.Equal(t, DecisionDenied, decision)

	pending, ok := g.Pending("u1")
	require.True(t, ok)
	assert.Equal(t, "shell_exec", pending.ToolName)

	reply := ClassifyReply("always")
	require.Equal(t, ReplyAllowAlways, reply)

	toolName, err := g.Resolve("u1", reply)
	require.NoError(t, err)
	assert.Equal(t, "shell_exec", toolName)

	decision, _ = g.Check("u1", "shell_exec")
	assert.Equal(t, DecisionAllow, decision)

	// Simulate a process restart: fresh Gate reloading from disk.
	g2, err := NewGate(path, tools)
	require.NoError(t, err)
	decision, _ = g2.Check("u1", "shell_exec")
	assert.Equal(t, DecisionAllow, decision, "always-approval must survive a restart")
}

func TestApprovalHandshake_OnceIsConsumedAfterOneUse(t *testing.T) {
	g, err := NewGate(filepath.Join(t.TempDir(), "approvals.json"), testTools())
	require.NoError(t, err)

	g.Check("u1", "shell_exec")
	toolName, err := g.Resolve("u1", ClassifyReply("yes"))
	require.NoError(t, err)
	assert.Equal(t, "shell_exec", toolName)

	decision, _ := g.Check("u1", "shell_exec")
	assert.Equal(t, DecisionAllow, decision)

	// Second call after the once-approval is consumed goes back to pending.
	decision, _ = g.Check("u1", "shell_exec")
	assert.Equal(t, DecisionDenied, decision)
}

func TestApprovalHandshake_DenyGrantsNothing(t *testing.T) {
	g, err := NewGate(filepath.Join(t.TempDir(), "approvals.json"), testTools())
	require.NoError(t, err)

	g.Check("u1", "shell_exec")
	_, err = g.Resolve("u1", ClassifyReply("no"))
	require.NoError(t, err)

	decision, _ := g.Check("u1", "shell_exec")
	assert.Equal(t, DecisionDenied, decision)
}

func TestApprovalHandshake_UnrecognisedReplyLeavesPendingResolvedEmpty(t *testing.T) {
	g, err := NewGate(filepath.Join(t.TempDir(), "approvals.json"), testTools())
	require.NoError(t, err)

	g.Check("u1", "shell_exec")
	toolName, err := g.Resolve("u1", ClassifyReply("what do you mean"))
	require.NoError(t, err)
	assert.Equal(t, "shell_exec", toolName, "resolve still clears pending even on an unrecognised reply")

	_, ok := g.Pending("u1")
	assert.False(t, ok)
}

func TestPending_ExpiresAfterTimeout(t *testing.T) {
	g, err := NewGate(filepath.Join(t.TempDir(), "approvals.json"), testTools())
	require.NoError(t, err)

	g.Check("u1", "shell_exec")
	g.mu.Lock()
	p := g.pending["u1"]
	p.RequestedAt = time.Now().Add(-HandshakeTimeout - time.Minute)
	g.pending["u1"] = p
	g.mu.Unlock()

	_, ok := g.Pending("u1")
	assert.False(t, ok, "a stale pending approval must be treated as expired")
}

func TestClassifyReply_AcceptsInlineCallbackValues(t *testing.T) {
	assert.Equal(t, ReplyAllowOnce, ClassifyReply("allow"))
	assert.Equal(t, ReplyAllowAlways, ClassifyReply("allow_always"))
	assert.Equal(t, ReplyDeny, ClassifyReply("deny"))
}

func TestMergeGuardrail_BlockOverridesStaticAllow(t *testing.T) {
	assert.Equal(t, DecisionDenied, MergeGuardrail(DecisionAllow, VerdictBlock))
}

func TestMergeGuardrail_AskForcesHandshakeEvenWhenApproved(t *testing.T) {
	assert.Equal(t, DecisionDenied, MergeGuardrail(DecisionAllow, VerdictAsk))
}

func TestMergeGuardrail_AllowDefersToStatic(t *testing.T) {
	assert.Equal(t, DecisionDenied, MergeGuardrail(DecisionDenied, VerdictAllow))
	assert.Equal(t, DecisionAllow, MergeGuardrail(DecisionAllow, VerdictAllow))
}
