// Package discord adapts github.com/bwmarrin/discordgo into a
// pluginsdk.FrontendAdapter, grounded on the teacher's
// internal/channels/discord.Adapter (session lifecycle, reconnect-with-backoff,
// message conversion) trimmed to the port manager's narrower
// Start/SendMessage/Stop surface: channel-action verbs (edit, pin, react,
// threads) aren't part of this spec's frontend contract.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/agentcore/pkg/models"
	"github.com/haasonsaas/agentcore/pkg/pluginsdk"
)

// session is the subset of *discordgo.Session this adapter drives, so
// tests can substitute a fake without opening a real gateway connection.
type session interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// Config holds the raw per-adapter configuration decoded from the port
// manager's map[string]any.
type Config struct {
	Token                string `json:"token"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts"`
	ReconnectBackoffSecs int    `json:"reconnect_backoff_seconds"`
}

// Adapter implements pluginsdk.FrontendAdapter and pluginsdk.HealthAdapter
// for Discord.
type Adapter struct {
	mu             sync.RWMutex
	cfg            Config
	session        session
	onMessage      pluginsdk.MessageCallback
	status         pluginsdk.Status
	reconnectCount int
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an unstarted Discord adapter.
func New() *Adapter {
	return &Adapter{logger: slog.Default().With("adapter", "discord")}
}

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("discord: marshal config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("discord: decode config: %w", err)
	}
	if cfg.Token == "" {
		return cfg, fmt.Errorf("discord: token is required")
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.ReconnectBackoffSecs <= 0 {
		cfg.ReconnectBackoffSecs = 60
	}
	return cfg, nil
}

// Start implements pluginsdk.FrontendAdapter.
func (a *Adapter) Start(ctx context.Context, config map[string]any, onMessage pluginsdk.MessageCallback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status.Connected {
		return fmt.Errorf("discord: adapter already started")
	}

	cfg, err := decodeConfig(config)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.onMessage = onMessage

	if a.session == nil {
		dg, err := discordgo.New("Bot " + cfg.Token)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		a.session = dg
	}

	a.session.AddHandler(a.handleMessageCreate)

	if err := a.connectWithRetry(ctx); err != nil {
		return fmt.Errorf("discord: connect: %w", err)
	}

	a.ctx, a.cancel = context.WithCancel(ctx)
	a.status = pluginsdk.Status{Connected: true, LastPing: time.Now()}
	a.logger.Info("discord adapter started")
	return nil
}

func (a *Adapter) connectWithRetry(ctx context.Context) error {
	var err error
	for attempt := 0; attempt < a.cfg.MaxReconnectAttempts; attempt++ {
		if err = a.session.Open(); err == nil {
			return nil
		}
		a.logger.Warn("discord connect failed, retrying", "attempt", attempt+1, "error", err)
		backoff := calculateBackoff(attempt, time.Duration(a.cfg.ReconnectBackoffSecs)*time.Second)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

func calculateBackoff(attempt int, maxWait time.Duration) time.Duration {
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > maxWait {
		backoff = maxWait
	}
	return backoff
}

// SendMessage implements pluginsdk.FrontendAdapter.
func (a *Adapter) SendMessage(ctx context.Context, response pluginsdk.OutboundMessage) error {
	a.mu.RLock()
	connected := a.status.Connected
	sess := a.session
	a.mu.RUnlock()

	if !connected || sess == nil {
		return fmt.Errorf("discord: adapter not connected")
	}

	text := contentToText(response.Content)
	if text == "" {
		return nil
	}

	if _, err := sess.ChannelMessageSend(response.ChatID, text); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Stop implements pluginsdk.FrontendAdapter.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.status.Connected {
		return nil
	}

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("discord stop timeout, forcing shutdown")
	}

	if err := a.session.Close(); err != nil {
		return fmt.Errorf("discord: close session: %w", err)
	}
	a.status.Connected = false
	return nil
}

// Status implements pluginsdk.HealthAdapter.
func (a *Adapter) Status() pluginsdk.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author != nil && m.Author.Bot {
		return
	}

	a.mu.RLock()
	cb := a.onMessage
	ctx := a.ctx
	a.mu.RUnlock()
	if cb == nil {
		return
	}

	msg := pluginsdk.InboundMessage{
		ChatID:    m.ChannelID,
		Content:   m.Content,
		Timestamp: m.Timestamp.Unix(),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		cb(msg)
	}()
	if ctx != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	} else {
		<-done
	}
}

func contentToText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []models.Part:
		var b strings.Builder
		for _, p := range v {
			if p.Type == models.PartText {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	default:
		return ""
	}
}
