// Package telegram adapts github.com/go-telegram/bot into a
// pluginsdk.FrontendAdapter, grounded on the teacher's
// internal/channels/telegram.Adapter (long-polling bot lifecycle, BotClient
// test seam, text-message conversion) trimmed to the port manager's
// narrower Start/SendMessage/Stop surface: webhook mode and attachment
// forwarding aren't part of this spec's frontend contract.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/haasonsaas/agentcore/pkg/pluginsdk"
)

// botClient is the subset of *bot.Bot this adapter drives, so tests can
// substitute a fake without opening a real long-polling connection.
type botClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
	GetMe(ctx context.Context) (*tgmodels.User, error)
	RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, handler bot.HandlerFunc)
	Start(ctx context.Context)
}

// Config holds the raw per-adapter configuration decoded from the port
// manager's map[string]any.
type Config struct {
	Token string `json:"token"`
}

// realBotClient wraps a *bot.Bot to implement botClient, so the interface
// never has to match *bot.Bot's method set exactly.
type realBotClient struct {
	bot *bot.Bot
}

func (r *realBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	return r.bot.SendMessage(ctx, params)
}

func (r *realBotClient) GetMe(ctx context.Context) (*tgmodels.User, error) {
	return r.bot.GetMe(ctx)
}

func (r *realBotClient) RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, handler bot.HandlerFunc) {
	r.bot.RegisterHandler(handlerType, pattern, matchType, handler)
}

func (r *realBotClient) Start(ctx context.Context) {
	r.bot.Start(ctx)
}

// Adapter implements pluginsdk.FrontendAdapter and pluginsdk.HealthAdapter
// for Telegram using long polling.
type Adapter struct {
	mu        sync.RWMutex
	cfg       Config
	client    botClient
	onMessage pluginsdk.MessageCallback
	status    pluginsdk.Status
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an unstarted Telegram adapter.
func New() *Adapter {
	return &Adapter{logger: slog.Default().With("adapter", "telegram")}
}

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("telegram: marshal config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("telegram: decode config: %w", err)
	}
	if cfg.Token == "" {
		return cfg, fmt.Errorf("telegram: token is required")
	}
	return cfg, nil
}

// Start implements pluginsdk.FrontendAdapter.
func (a *Adapter) Start(ctx context.Context, config map[string]any, onMessage pluginsdk.MessageCallback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status.Connected {
		return fmt.Errorf("telegram: adapter already started")
	}

	cfg, err := decodeConfig(config)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.onMessage = onMessage

	if a.client == nil {
		b, err := bot.New(cfg.Token)
		if err != nil {
			return fmt.Errorf("telegram: create bot: %w", err)
		}
		a.client = &realBotClient{bot: b}
	}

	a.ctx, a.cancel = context.WithCancel(ctx)
	a.client.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, a.handleMessage)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.client.Start(a.ctx)
	}()

	a.status = pluginsdk.Status{Connected: true, LastPing: time.Now()}
	a.logger.Info("telegram adapter started")
	return nil
}

// SendMessage implements pluginsdk.FrontendAdapter.
func (a *Adapter) SendMessage(ctx context.Context, response pluginsdk.OutboundMessage) error {
	a.mu.RLock()
	connected := a.status.Connected
	client := a.client
	a.mu.RUnlock()

	if !connected || client == nil {
		return fmt.Errorf("telegram: adapter not connected")
	}

	text := contentToText(response.Content)
	if text == "" {
		return nil
	}

	chatID, err := strconv.ParseInt(response.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", response.ChatID, err)
	}

	if _, err := client.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
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
		a.logger.Warn("telegram stop timeout, forcing shutdown")
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

func (a *Adapter) handleMessage(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil {
		return
	}

	a.mu.RLock()
	cb := a.onMessage
	a.mu.RUnlock()
	if cb == nil {
		return
	}

	cb(pluginsdk.InboundMessage{
		ChatID:    strconv.FormatInt(update.Message.Chat.ID, 10),
		Content:   update.Message.Text,
		Timestamp: int64(update.Message.Date),
	})
}

func contentToText(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	return ""
}
