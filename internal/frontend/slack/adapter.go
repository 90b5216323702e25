// Package slack adapts github.com/slack-go/slack's Socket Mode client into
// a pluginsdk.FrontendAdapter, grounded on the teacher's
// internal/channels/slack.Adapter (Socket Mode event loop, mention/DM
// filtering, Block Kit message building) trimmed to the port manager's
// narrower Start/SendMessage/Stop surface.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/haasonsaas/agentcore/pkg/pluginsdk"
)

// Config holds the raw per-adapter configuration decoded from the port
// manager's map[string]any.
type Config struct {
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

// apiClient is the subset of *slack.Client this adapter drives, so tests
// can substitute a fake without reaching Slack's API.
type apiClient interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Adapter implements pluginsdk.FrontendAdapter and pluginsdk.HealthAdapter
// for Slack, using Socket Mode so no public HTTP endpoint is required.
type Adapter struct {
	mu           sync.RWMutex
	cfg          Config
	client       apiClient
	socketClient *socketmode.Client
	onMessage    pluginsdk.MessageCallback
	status       pluginsdk.Status
	botUserID    string
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an unstarted Slack adapter.
func New() *Adapter {
	return &Adapter{logger: slog.Default().With("adapter", "slack")}
}

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("slack: marshal config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("slack: decode config: %w", err)
	}
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return cfg, fmt.Errorf("slack: bot_token and app_token are required")
	}
	return cfg, nil
}

// Start implements pluginsdk.FrontendAdapter.
func (a *Adapter) Start(ctx context.Context, config map[string]any, onMessage pluginsdk.MessageCallback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status.Connected {
		return fmt.Errorf("slack: adapter already started")
	}

	cfg, err := decodeConfig(config)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.onMessage = onMessage

	if a.client == nil {
		real := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
		a.client = real
		a.socketClient = socketmode.New(real, socketmode.OptionDebug(false))
	}

	authResp, err := a.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = authResp.UserID

	a.ctx, a.cancel = context.WithCancel(ctx)

	if a.socketClient != nil {
		a.wg.Add(2)
		go a.handleEvents()
		go func() {
			defer a.wg.Done()
			if err := a.socketClient.Run(); err != nil {
				a.mu.Lock()
				a.status.Connected = false
				a.status.Error = err.Error()
				a.mu.Unlock()
			}
		}()
	}

	a.status = pluginsdk.Status{Connected: true, LastPing: time.Now()}
	a.logger.Info("slack adapter started", "bot_user_id", authResp.UserID)
	return nil
}

// SendMessage implements pluginsdk.FrontendAdapter.
func (a *Adapter) SendMessage(ctx context.Context, response pluginsdk.OutboundMessage) error {
	a.mu.RLock()
	connected := a.status.Connected
	client := a.client
	a.mu.RUnlock()

	if !connected || client == nil {
		return fmt.Errorf("slack: adapter not connected")
	}

	text := contentToText(response.Content)
	if text == "" {
		return nil
	}

	if _, _, err := client.PostMessageContext(ctx, response.ChatID, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack: post message: %w", err)
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
		a.logger.Warn("slack stop timeout, forcing shutdown")
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

func (a *Adapter) handleEvents() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case event, ok := <-a.socketClient.Events:
			if !ok {
				return
			}

			a.mu.Lock()
			a.status.LastPing = time.Now()
			a.mu.Unlock()

			switch event.Type {
			case socketmode.EventTypeConnectionError:
				a.mu.Lock()
				a.status.Connected = false
				a.status.Error = "connection error"
				a.mu.Unlock()
			case socketmode.EventTypeConnected:
				a.mu.Lock()
				a.status.Connected = true
				a.status.Error = ""
				a.mu.Unlock()
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(event)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				if event.Request != nil {
					a.socketClient.Ack(*event.Request)
				}
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		if event.Request != nil {
			a.socketClient.Ack(*event.Request)
		}
		return
	}
	if event.Request != nil {
		a.socketClient.Ack(*event.Request)
	}

	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		a.deliverMessage(ev.Channel, ev.User, ev.Text, ev.ThreadTimeStamp)
	case *slackevents.MessageEvent:
		if ev.BotID != "" {
			return
		}
		if ev.SubType != "" && ev.SubType != "file_share" {
			return
		}
		a.deliverMessage(ev.Channel, ev.User, ev.Text, ev.ThreadTimeStamp)
	}
}

func (a *Adapter) deliverMessage(channel, user, text, threadTS string) {
	a.mu.RLock()
	botUserID := a.botUserID
	cb := a.onMessage
	a.mu.RUnlock()
	if cb == nil {
		return
	}

	isDM := strings.HasPrefix(channel, "D")
	isMention := strings.Contains(text, fmt.Sprintf("<@%s>", botUserID))
	if !isDM && !isMention && threadTS == "" {
		return
	}

	cb(pluginsdk.InboundMessage{
		ChatID:    channel,
		Content:   stripMentions(text),
		IsRespond: true,
		Timestamp: time.Now().Unix(),
	})
}

func stripMentions(text string) string {
	for strings.Contains(text, "<@") {
		start := strings.Index(text, "<@")
		end := strings.Index(text[start:], ">")
		if end == -1 {
			break
		}
		text = text[:start] + text[start+end+1:]
	}
	return strings.TrimSpace(text)
}

func contentToText(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	return ""
}
