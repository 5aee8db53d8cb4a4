// Package channels defines the adapter contract every chat platform
// integration implements, grounded on the teacher's channels package but
// narrowed to spec.md §4.11's fixed contract for a single-principal
// assistant: no DM/group policy matrix, no pairing flow, no multi-tenant
// agent routing — one authorized user per channel, checked by allowlist.
package channels

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/tendwatch/tendwatch/internal/bus"
)

// ApprovalResult is the closed set of outcomes a trust handshake rendered
// through a channel (e.g. Telegram inline buttons) can resolve to.
type ApprovalResult string

const (
	ApprovalAllow       ApprovalResult = "allow"
	ApprovalAllowAlways ApprovalResult = "allow_always"
	ApprovalDeny        ApprovalResult = "deny"
)

// SendOptions customises a single outbound send.
type SendOptions struct {
	Media []bus.MediaAttachment
}

// Channel is the fixed contract every platform adapter implements, per
// spec.md §4.11.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// OnMessage registers the single inbound handler. Adapters call it once
	// per received message; it is never called concurrently for the same
	// chat.
	OnMessage(handler bus.MessageHandler)

	// SendMessage sends text, chunking internally if the channel has a max
	// message size, and returns the id of the last chunk sent.
	SendMessage(ctx context.Context, chatID, text string, opts *SendOptions) (messageID string, err error)

	// SendTyping is a best-effort typing indicator; adapters without one
	// implement it as a no-op.
	SendTyping(ctx context.Context, chatID string) error

	// SendApprovalRequest renders the trust handshake (§4.10) in the
	// channel's native idiom (inline buttons where supported, plain text
	// otherwise) and resolves once the user responds or timeout elapses.
	SendApprovalRequest(ctx context.Context, chatID, prompt, key string, timeout time.Duration) (ApprovalResult, error)

	// IsAllowed reports whether senderID is the channel's authorized
	// principal.
	IsAllowed(senderID string) bool
}

// BaseChannel provides the allowlist check and handler storage every
// adapter needs, grounded on the teacher's BaseChannel.
type BaseChannel struct {
	name      string
	handler   bus.MessageHandler
	allowList []string
	running   bool
}

// NewBaseChannel builds a BaseChannel. An empty allowList accepts every
// sender — only appropriate for local/testing use; production
// configuration always sets the single authorized user id.
func NewBaseChannel(name string, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, allowList: allowList}
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) OnMessage(handler bus.MessageHandler) { c.handler = handler }

func (c *BaseChannel) Dispatch(msg bus.InboundMessage) error {
	if c.handler == nil {
		return nil
	}
	return c.handler(msg)
}

func (c *BaseChannel) IsRunning() bool         { return c.running }
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Allow adds senderID to the allowlist, e.g. once a bootstrap pairing
// code is claimed.
func (c *BaseChannel) Allow(senderID string) {
	c.allowList = append(c.allowList, senderID)
}

// IsAllowed reports whether senderID is in the allowlist. An empty
// allowlist allows everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		if allowed == senderID {
			return true
		}
	}
	return false
}

// recoverableErr matches the transient network failure classes spec.md
// §4.11's Telegram error taxonomy calls out as retry-worthy.
var recoverableErr = regexp.MustCompile(`(?i)ECONNRESET|ETIMEDOUT|ENOTFOUND|UND_ERR_|AbortError|TimeoutError`)

// permanentErr matches errors the taxonomy treats as never worth retrying.
var permanentErr = regexp.MustCompile(`(?i)file\s+(is\s+)?too\s+big`)

// IsRecoverable reports whether err belongs to the transient network error
// classes an adapter should retry with backoff rather than surface.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	return recoverableErr.MatchString(err.Error())
}

// IsPermanent reports whether err is one the taxonomy marks as never
// worth retrying, even if it also happens to look network-shaped.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return permanentErr.MatchString(err.Error())
}

// ErrApprovalTimeout is returned by SendApprovalRequest implementations
// when no response arrives before timeout; per spec.md §4.10 the
// handshake "times out to deny", so callers should treat this the same as
// an ApprovalDeny result rather than a hard failure.
var ErrApprovalTimeout = errors.New("channels: approval request timed out")

// Truncate shortens s to maxLen, appending an ellipsis if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
