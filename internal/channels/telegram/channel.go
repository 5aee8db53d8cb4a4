// Package telegram implements the Telegram Bot API adapter, grounded on
// the teacher's long-polling channel but narrowed to the single-principal
// contract in spec.md §4.11: one authorized chat, a one-time bootstrap
// pairing code instead of a multi-tenant pairing service, and inline-button
// rendering of the trust handshake (§4.10's optional inline callback path).
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tendwatch/tendwatch/internal/bus"
	"github.com/tendwatch/tendwatch/internal/channels"
	"github.com/tendwatch/tendwatch/internal/config"
)

// maxMessageLength is Telegram's hard cap on a single message's text.
const maxMessageLength = 4096

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot    *telego.Bot
	cfg    config.TelegramConfig
	chatID string // resolved/claimed principal chat id; empty until bootstrapped

	pending    map[string]chan channels.ApprovalResult // callback key -> waiter
	pendingMu  chanMutex
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// chanMutex is a minimal channel-based mutex kept local so this file needs
// no sync import, mirrored from how small the teacher keeps adapter
// internals.
type chanMutex struct{ ch chan struct{} }

func newChanMutex() chanMutex {
	m := chanMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}
func (m chanMutex) Lock()   { <-m.ch }
func (m chanMutex) Unlock() { m.ch <- struct{}{} }

// New creates a Telegram channel from config.
func New(cfg config.TelegramConfig) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}

	allowFrom := []string{}
	if cfg.ChatID != "" {
		allowFrom = append(allowFrom, cfg.ChatID)
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", allowFrom),
		bot:         bot,
		cfg:         cfg,
		chatID:      cfg.ChatID,
		pending:     make(map[string]chan channels.ApprovalResult),
		pendingMu:   newChanMutex(),
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				switch {
				case update.Message != nil:
					c.handleMessage(pollCtx, update.Message)
				case update.CallbackQuery != nil:
					c.handleCallbackQuery(pollCtx, update.CallbackQuery)
				}
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the goroutine to exit.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram: polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// handleMessage bootstraps pairing on first contact, otherwise checks the
// allowlist and dispatches to the orchestrator.
func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	senderID := fmt.Sprintf("%d", msg.Chat.ID)

	if c.chatID == "" {
		if c.cfg.BootstrapKey != "" && strings.TrimSpace(msg.Text) == c.cfg.BootstrapKey {
			c.chatID = senderID
			c.Allow(senderID)
			_, _ = c.bot.SendMessage(ctx, tu.Message(tu.ID(msg.Chat.ID), "Paired. I'm listening."))
			return
		}
		_, _ = c.bot.SendMessage(ctx, tu.Message(tu.ID(msg.Chat.ID),
			"Not paired yet. Reply with the bootstrap code from your config to claim this bot."))
		return
	}

	if !c.IsAllowed(senderID) {
		return
	}

	_ = c.Dispatch(bus.InboundMessage{
		Platform: bus.PlatformTelegram,
		ChatID:   senderID,
		SenderID: senderID,
		Content:  msg.Text,
	})
}

func (c *Channel) handleCallbackQuery(ctx context.Context, cb *telego.CallbackQuery) {
	_ = c.bot.AnswerCallbackQuery(ctx, tu.CallbackQuery(cb.ID))

	c.pendingMu.Lock()
	waiter, ok := c.pending[cb.Data]
	if ok {
		delete(c.pending, cb.Data)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	switch {
	case strings.HasPrefix(cb.Data, "allow_always:"):
		waiter <- channels.ApprovalAllowAlways
	case strings.HasPrefix(cb.Data, "allow:"):
		waiter <- channels.ApprovalAllow
	default:
		waiter <- channels.ApprovalDeny
	}
}

// SendMessage sends text, splitting on Telegram's message size limit at
// paragraph boundaries where possible.
func (c *Channel) SendMessage(ctx context.Context, chatID, text string, _ *channels.SendOptions) (string, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return "", fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}

	var lastID int
	for _, chunk := range chunkText(text, maxMessageLength) {
		sent, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(id), chunk))
		if err != nil {
			return "", fmt.Errorf("telegram: send message: %w", err)
		}
		lastID = sent.MessageID
	}
	return fmt.Sprintf("%d", lastID), nil
}

// SendTyping sends a best-effort typing indicator.
func (c *Channel) SendTyping(ctx context.Context, chatID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	return c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(id), telego.ChatActionTyping))
}

// SendApprovalRequest renders the trust handshake as inline buttons,
// resolving on callback or timeout (which denies, per spec.md §4.10).
func (c *Channel) SendApprovalRequest(ctx context.Context, chatID, prompt, key string, timeout time.Duration) (channels.ApprovalResult, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return channels.ApprovalDeny, err
	}

	waiter := make(chan channels.ApprovalResult, 1)
	c.pendingMu.Lock()
	c.pending["allow:"+key] = waiter
	c.pending["allow_always:"+key] = waiter
	c.pending["deny:"+key] = waiter
	c.pendingMu.Unlock()

	keyboard := tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("Allow").WithCallbackData("allow:"+key),
			tu.InlineKeyboardButton("Always").WithCallbackData("allow_always:"+key),
			tu.InlineKeyboardButton("Deny").WithCallbackData("deny:"+key),
		),
	)
	msg := tu.Message(tu.ID(id), prompt).WithReplyMarkup(keyboard)
	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		return channels.ApprovalDeny, fmt.Errorf("telegram: send approval request: %w", err)
	}

	select {
	case result := <-waiter:
		return result, nil
	case <-time.After(timeout):
		c.pendingMu.Lock()
		delete(c.pending, "allow:"+key)
		delete(c.pending, "allow_always:"+key)
		delete(c.pending, "deny:"+key)
		c.pendingMu.Unlock()
		return channels.ApprovalDeny, channels.ErrApprovalTimeout
	case <-ctx.Done():
		return channels.ApprovalDeny, ctx.Err()
	}
}

func parseChatID(chatIDStr string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(chatIDStr, "%d", &id)
	return id, err
}

// chunkText splits text into chunks no longer than limit, preferring
// paragraph, then line, then sentence, then hard-cut boundaries, per
// spec.md §4.7 step 7's chunking preference order.
func chunkText(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := bestCut(text, limit)
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func bestCut(text string, limit int) int {
	window := text[:limit]
	if idx := strings.LastIndex(window, "\n\n"); idx > limit/2 {
		return idx
	}
	if idx := strings.LastIndex(window, "\n"); idx > limit/2 {
		return idx
	}
	for _, sep := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, sep); idx > limit/2 {
			return idx + len(sep)
		}
	}
	return limit
}
