// Package whatsapp implements the WhatsApp adapter as a thin WebSocket
// client against a bridge process, grounded on the teacher's
// whatsapp.go but narrowed to a single authorized chat and a one-time
// bootstrap pairing code in place of the teacher's pairing service.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tendwatch/tendwatch/internal/bus"
	"github.com/tendwatch/tendwatch/internal/channels"
	"github.com/tendwatch/tendwatch/internal/config"
)

// Channel connects to a WhatsApp bridge (e.g. whatsapp-web.js based) over a
// plain JSON WebSocket protocol.
type Channel struct {
	*channels.BaseChannel
	cfg    config.WhatsAppConfig
	chatID string

	mu     sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a WhatsApp channel from config.
func New(cfg config.WhatsAppConfig) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp: bridge_url is required")
	}
	allowFrom := []string{}
	if cfg.ChatID != "" {
		allowFrom = append(allowFrom, cfg.ChatID)
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("whatsapp", allowFrom),
		cfg:         cfg,
		chatID:      cfg.ChatID,
	}, nil
}

// Start connects to the bridge and begins the reconnecting read loop.
func (c *Channel) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	if err := c.connect(); err != nil {
		slog.Warn("whatsapp: initial bridge connection failed, will retry", "error", err)
	}
	go c.listenLoop()
	c.SetRunning(true)
	return nil
}

// Stop closes the bridge connection.
func (c *Channel) Stop(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.SetRunning(false)
	return nil
}

// SendMessage writes a message to the bridge. WhatsApp has no documented
// hard message-size cap comparable to Telegram's, so no chunking here.
func (c *Channel) SendMessage(_ context.Context, chatID, text string, _ *channels.SendOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return "", fmt.Errorf("whatsapp: bridge not connected")
	}
	payload, err := json.Marshal(map[string]interface{}{"type": "message", "to": chatID, "content": text})
	if err != nil {
		return "", err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return "", fmt.Errorf("whatsapp: send message: %w", err)
	}
	return "", nil
}

// SendTyping has no bridge-side equivalent wired; best-effort no-op.
func (c *Channel) SendTyping(context.Context, string) error { return nil }

// SendApprovalRequest renders the handshake as plain text with a
// reply-in-words instruction — the bridge protocol has no button support.
func (c *Channel) SendApprovalRequest(ctx context.Context, chatID, prompt, _ string, timeout time.Duration) (channels.ApprovalResult, error) {
	text := prompt + "\n\nReply \"yes\", \"always\", or \"no\"."
	if _, err := c.SendMessage(ctx, chatID, text, nil); err != nil {
		return channels.ApprovalDeny, err
	}
	// The actual reply arrives as a normal inbound message; the trust
	// gate's ClassifyReply on the session orchestrator's next turn
	// resolves it. There is no synchronous callback channel over this
	// bridge protocol, so this path only ever resolves by timeout.
	select {
	case <-time.After(timeout):
		return channels.ApprovalDeny, channels.ErrApprovalTimeout
	case <-ctx.Done():
		return channels.ApprovalDeny, ctx.Err()
	}
}

func (c *Channel) connect() error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.Dial(c.cfg.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("whatsapp: dial bridge %s: %w", c.cfg.BridgeURL, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	slog.Info("whatsapp bridge connected", "url", c.cfg.BridgeURL)
	return nil
}

func (c *Channel) listenLoop() {
	backoff := time.Second
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connect(); err != nil {
				slog.Warn("whatsapp: bridge reconnect failed", "error", err)
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("whatsapp: read error, will reconnect", "error", err)
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("whatsapp: invalid bridge message JSON", "error", err)
			continue
		}
		if msgType, _ := msg["type"].(string); msgType == "message" {
			c.handleIncoming(msg)
		}
	}
}

func (c *Channel) handleIncoming(msg map[string]interface{}) {
	senderID, _ := msg["from"].(string)
	if senderID == "" {
		return
	}
	chatID, _ := msg["chat"].(string)
	if chatID == "" {
		chatID = senderID
	}

	if c.chatID == "" {
		bootstrap, _ := msg["content"].(string)
		if c.cfg.BootstrapKey != "" && bootstrap == c.cfg.BootstrapKey {
			c.chatID = senderID
			c.Allow(senderID)
			_, _ = c.SendMessage(context.Background(), chatID, "Paired. I'm listening.", nil)
		}
		return
	}

	if !c.IsAllowed(senderID) {
		return
	}

	content, _ := msg["content"].(string)
	_ = c.Dispatch(bus.InboundMessage{
		Platform: bus.PlatformWhatsApp,
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
	})
}
