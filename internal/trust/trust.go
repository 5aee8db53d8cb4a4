// Package trust implements the tool trust gate: a capability-level
// permission check on every tool invocation, with a persisted-approval
// store and an in-memory pending-approval handshake.
package trust

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tendwatch/tendwatch/internal/atomicfile"
)

// Level is the closed set of trust tiers a tool can be declared at.
type Level string

const (
	LevelSafe     Level = "safe"
	LevelGuarded  Level = "guarded"
	LevelElevated Level = "elevated"
)

// Capability is the closed set of resource classes an elevated tool can
// require.
type Capability string

const (
	CapabilityNetwork    Capability = "network"
	CapabilityFilesystem Capability = "filesystem"
	CapabilityShell      Capability = "shell"
)

// Duration is the closed set of approval lifetimes.
type Duration string

const (
	DurationOnce   Duration = "once"
	DurationAlways Duration = "always"
)

// Valid reports whether d is a known duration.
func (d Duration) Valid() bool {
	return d == DurationOnce || d == DurationAlways
}

// ToolSpec declares a tool's trust level and, for elevated tools, the
// capabilities it requires.
type ToolSpec struct {
	Name         string
	Level        Level
	Capabilities []Capability
}

// Approval is a persisted grant of permission to run a tool forever
// ("always") for this principal. "once" approvals never reach disk.
type Approval struct {
	ToolName  string    `json:"tool"`
	Duration  Duration  `json:"duration"`
	GrantedAt time.Time `json:"grantedAt"`
}

// PendingApproval is the in-memory marker that a specific tool invocation is
// awaiting a yes/no/always reply. Never persisted; bounded by
// HandshakeTimeout or by the arrival of the next message.
type PendingApproval struct {
	ToolName     string
	Capabilities []Capability
	RequestedAt  time.Time
}

// Decision is the result of a trust check.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionDenied Decision = "permission_required"
)

// HandshakeTimeout is how long a pending approval stays valid before it's
// treated as expired (denies on expiry per spec.md §5 timeouts).
const HandshakeTimeout = 5 * time.Minute

// GuardrailFunc classifies a proposed elevated tool call against the
// conversational context that produced it. Optional per spec.md §4.10.
type GuardrailFunc func(toolName string, args map[string]any, lastUserMessage string) GuardrailVerdict

// GuardrailVerdict is the closed set of outcomes a guardrail can return. A
// caller that gets an unparseable response from the underlying model must
// map it to VerdictAsk, not VerdictAllow — failing safe is this package's
// whole point.
type GuardrailVerdict string

const (
	VerdictAllow GuardrailVerdict = "ALLOW"
	VerdictAsk   GuardrailVerdict = "ASK"
	VerdictBlock GuardrailVerdict = "BLOCK"
)

// Gate evaluates tool calls against declared trust levels, persisted
// approvals, and the pending-approval handshake. One Gate per user.
type Gate struct {
	mu      sync.Mutex
	tools   map[string]ToolSpec
	path    string // trust-approvals.json
	always  []Approval
	once    map[string]bool            // "userID:toolName" -> granted for one use
	pending map[string]PendingApproval // userID -> pending approval

	Guardrail GuardrailFunc
}

// NewGate loads persisted approvals from path (if present) and returns a
// Gate declaring the given tools.
func NewGate(path string, tools []ToolSpec) (*Gate, error) {
	g := &Gate{
		tools:   make(map[string]ToolSpec, len(tools)),
		path:    path,
		once:    make(map[string]bool),
		pending: make(map[string]PendingApproval),
	}
	for _, t := range tools {
		g.tools[t.Name] = t
	}

	approvals, err := loadApprovals(path)
	if err != nil {
		return nil, err
	}
	g.always = approvals
	return g, nil
}

func loadApprovals(path string) ([]Approval, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trust: read approvals: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var approvals []Approval
	if err := json.Unmarshal(data, &approvals); err != nil {
		return nil, fmt.Errorf("trust: parse approvals: %w", err)
	}
	return approvals, nil
}

// persist rewrites the approvals file. Caller must hold g.mu.
func (g *Gate) persist() error {
	data, err := json.MarshalIndent(g.always, "", "  ")
	if err != nil {
		return fmt.Errorf("trust: marshal approvals: %w", err)
	}
	return atomicfile.Write(g.path, data, 0o600)
}

func (g *Gate) isAlwaysApproved(toolName string) bool {
	for _, a := range g.always {
		if a.ToolName == toolName {
			return true
		}
	}
	return false
}

// Spec returns the declared spec for toolName, defaulting unknown tools to
// elevated-with-no-capabilities: failing safe beats silently running
// something undeclared.
func (g *Gate) Spec(toolName string) ToolSpec {
	g.mu.Lock()
	defer g.mu.Unlock()
	if spec, ok := g.tools[toolName]; ok {
		return spec
	}
	return ToolSpec{Name: toolName, Level: LevelElevated}
}

// Check evaluates whether a tool call by userID may proceed. Safe and
// guarded tools always allow. Elevated tools require a prior "always"
// approval or a freshly granted "once" approval; a consumed once-approval is
// removed on use. A denial sets the pending-approval marker for userID.
func (g *Gate) Check(userID, toolName string) (Decision, ToolSpec) {
	g.mu.Lock()
	defer g.mu.Unlock()

	spec, ok := g.tools[toolName]
	if !ok {
		spec = ToolSpec{Name: toolName, Level: LevelElevated}
	}

	if spec.Level != LevelElevated {
		return DecisionAllow, spec
	}

	if g.isAlwaysApproved(toolName) {
		return DecisionAllow, spec
	}
	key := userID + ":" + toolName
	if g.once[key] {
		delete(g.once, key)
		return DecisionAllow, spec
	}

	g.pending[userID] = PendingApproval{
		ToolName:     toolName,
		Capabilities: spec.Capabilities,
		RequestedAt:  time.Now(),
	}
	return DecisionDenied, spec
}

// Pending returns the pending approval for userID, if any and not expired.
// An expired entry is cleared (denies-on-expiry) and reported as absent.
func (g *Gate) Pending(userID string) (PendingApproval, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pendingLocked(userID)
}

func (g *Gate) pendingLocked(userID string) (PendingApproval, bool) {
	p, ok := g.pending[userID]
	if !ok {
		return PendingApproval{}, false
	}
	if time.Since(p.RequestedAt) > HandshakeTimeout {
		delete(g.pending, userID)
		return PendingApproval{}, false
	}
	return p, true
}

// ClearPending discards any pending approval for userID without granting
// anything. Called when the next inbound message isn't a recognised
// yes/no/always reply, per spec.md §5's "bounded by next message" rule.
func (g *Gate) ClearPending(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, userID)
}

// affirmative/negative text the pending-approval handshake recognises.
var (
	affirmativeOnce   = stringSet("yes", "y", "ok", "okay", "allow", "sure", "approve")
	affirmativeAlways = stringSet("always", "always allow", "allow always", "always approve")
	negativeReply     = stringSet("no", "n", "deny", "never", "stop", "cancel")
)

func stringSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// ReplyKind is the closed set of ways a pending-approval reply classifies.
type ReplyKind string

const (
	ReplyAllowOnce   ReplyKind = "allow_once"
	ReplyAllowAlways ReplyKind = "allow_always"
	ReplyDeny        ReplyKind = "deny"
	ReplyUnrecognised ReplyKind = "unrecognised"
)

// ClassifyReply reports how free text answers a pending approval prompt.
// Also accepts the Telegram inline-callback values directly.
func ClassifyReply(text string) ReplyKind {
	norm := strings.ToLower(strings.TrimSpace(text))
	switch norm {
	case "allow_always":
		return ReplyAllowAlways
	case "allow":
		return ReplyAllowOnce
	case "deny":
		return ReplyDeny
	}
	if affirmativeAlways[norm] {
		return ReplyAllowAlways
	}
	if affirmativeOnce[norm] {
		return ReplyAllowOnce
	}
	if negativeReply[norm] {
		return ReplyDeny
	}
	return ReplyUnrecognised
}

// Resolve completes the handshake for userID given a classified reply. On
// ReplyAllowOnce it grants a single consumable approval for the pending
// tool. On ReplyAllowAlways it persists the approval to disk. On ReplyDeny
// or ReplyUnrecognised it clears the pending marker and grants nothing.
// Returns the tool name the pending approval was for, or "" if there was no
// pending approval (or it had expired).
func (g *Gate) Resolve(userID string, reply ReplyKind) (toolName string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pending, ok := g.pendingLocked(userID)
	if !ok {
		return "", nil
	}
	delete(g.pending, userID)

	switch reply {
	case ReplyAllowOnce:
		g.once[userID+":"+pending.ToolName] = true
	case ReplyAllowAlways:
		if !g.isAlwaysApproved(pending.ToolName) {
			g.always = append(g.always, Approval{
				ToolName:  pending.ToolName,
				Duration:  DurationAlways,
				GrantedAt: time.Now(),
			})
			if err := g.persist(); err != nil {
				return pending.ToolName, err
			}
		}
	case ReplyDeny, ReplyUnrecognised:
		// nothing granted
	}
	return pending.ToolName, nil
}
