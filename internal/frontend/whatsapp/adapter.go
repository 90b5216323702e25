// Package whatsapp adapts go.mau.fi/whatsmeow into a pluginsdk.FrontendAdapter,
// grounded on the teacher's internal/channels/whatsapp.Adapter (device-backed
// session store, QR pairing, event dispatch) trimmed to the port manager's
// narrower Start/SendMessage/Stop surface: attachment download/upload, contact
// and presence tracking, and the personal.* conversation framework aren't part
// of this spec's frontend contract. Unlike the teacher, the device store runs
// on modernc.org/sqlite (pure Go, driver name "sqlite") rather than
// mattn/go-sqlite3, so the module stays cgo-free.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/haasonsaas/agentcore/pkg/pluginsdk"
)

// Config holds the raw per-adapter configuration decoded from the port
// manager's map[string]any.
type Config struct {
	SessionPath string `json:"session_path"`
}

// waClient is the subset of *whatsmeow.Client this adapter drives, so tests
// can substitute a fake without opening a real device connection.
type waClient interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	IsLoggedIn() bool
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message) (whatsmeow.SendResponse, error)
	AddEventHandler(handler whatsmeow.EventHandler) uint32
}

// Adapter implements pluginsdk.FrontendAdapter and pluginsdk.HealthAdapter
// for WhatsApp using whatsmeow's multi-device protocol.
type Adapter struct {
	mu        sync.RWMutex
	cfg       Config
	client    waClient
	store     *sqlstore.Container
	onMessage pluginsdk.MessageCallback
	status    pluginsdk.Status
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an unstarted WhatsApp adapter.
func New() *Adapter {
	return &Adapter{logger: slog.Default().With("adapter", "whatsapp")}
}

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("whatsapp: marshal config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("whatsapp: decode config: %w", err)
	}
	if cfg.SessionPath == "" {
		return cfg, fmt.Errorf("whatsapp: session_path is required")
	}
	return cfg, nil
}

// Start implements pluginsdk.FrontendAdapter.
func (a *Adapter) Start(ctx context.Context, config map[string]any, onMessage pluginsdk.MessageCallback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status.Connected {
		return fmt.Errorf("whatsapp: adapter already started")
	}

	cfg, err := decodeConfig(config)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.onMessage = onMessage

	if a.client == nil {
		initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
		defer initCancel()

		dbLog := waLog.Noop
		container, err := sqlstore.New(initCtx, "sqlite",
			fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", cfg.SessionPath), dbLog)
		if err != nil {
			return fmt.Errorf("whatsapp: open device store: %w", err)
		}
		a.store = container

		device, err := container.GetFirstDevice(initCtx)
		if err != nil {
			return fmt.Errorf("whatsapp: get device: %w", err)
		}

		real := whatsmeow.NewClient(device, waLog.Noop)
		a.client = real
	}

	a.ctx, a.cancel = context.WithCancel(ctx)
	a.client.AddEventHandler(a.handleEvent)

	if !a.client.IsLoggedIn() {
		qrChan, err := a.client.GetQRChannel(a.ctx)
		if err != nil {
			return fmt.Errorf("whatsapp: get qr channel: %w", err)
		}
		if err := a.client.Connect(); err != nil {
			return fmt.Errorf("whatsapp: connect: %w", err)
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			for {
				select {
				case <-a.ctx.Done():
					return
				case item, ok := <-qrChan:
					if !ok {
						return
					}
					if item.Event == "code" {
						a.logger.Info("scan qr code to login", "code", item.Code)
					}
				}
			}
		}()
	} else {
		if err := a.client.Connect(); err != nil {
			return fmt.Errorf("whatsapp: connect: %w", err)
		}
	}

	a.status = pluginsdk.Status{Connected: true, LastPing: time.Now()}
	a.logger.Info("whatsapp adapter started")
	return nil
}

// SendMessage implements pluginsdk.FrontendAdapter.
func (a *Adapter) SendMessage(ctx context.Context, response pluginsdk.OutboundMessage) error {
	a.mu.RLock()
	connected := a.status.Connected
	client := a.client
	a.mu.RUnlock()

	if !connected || client == nil {
		return fmt.Errorf("whatsapp: adapter not connected")
	}

	text := contentToText(response.Content)
	if text == "" {
		return nil
	}

	jid, err := types.ParseJID(response.ChatID)
	if err != nil {
		return fmt.Errorf("whatsapp: invalid chat id %q: %w", response.ChatID, err)
	}

	waMsg := &waE2E.Message{Conversation: proto.String(text)}
	if _, err := client.SendMessage(ctx, jid, waMsg); err != nil {
		return fmt.Errorf("whatsapp: send message: %w", err)
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
		a.logger.Warn("whatsapp stop timeout, forcing shutdown")
	}

	if a.client != nil {
		a.client.Disconnect()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close device store", "error", err)
		}
	}

	a.status.Connected = false
	return nil
}

// Status implements pluginsdk.HealthAdapter.
func (a *Adapter) Status() pluginsdk.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client != nil {
		return pluginsdk.Status{
			Connected: a.client.IsConnected(),
			LastPing:  a.status.LastPing,
			Error:     a.status.Error,
		}
	}
	return a.status
}

func (a *Adapter) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		a.mu.Lock()
		a.status.Connected = true
		a.status.Error = ""
		a.status.LastPing = time.Now()
		a.mu.Unlock()
	case *events.Disconnected:
		a.mu.Lock()
		a.status.Connected = false
		a.status.Error = "disconnected"
		a.mu.Unlock()
	case *events.LoggedOut:
		a.mu.Lock()
		a.status.Connected = false
		a.status.Error = "logged out"
		a.mu.Unlock()
	case *events.Message:
		a.handleMessage(v)
	}
}

func (a *Adapter) handleMessage(evt *events.Message) {
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	var content string
	switch {
	case evt.Message.GetConversation() != "":
		content = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage() != nil:
		content = evt.Message.GetExtendedTextMessage().GetText()
	}
	if content == "" {
		return
	}

	a.mu.RLock()
	cb := a.onMessage
	a.mu.RUnlock()
	if cb == nil {
		return
	}

	cb(pluginsdk.InboundMessage{
		ChatID:    evt.Info.Chat.String(),
		Content:   content,
		Timestamp: evt.Info.Timestamp.Unix(),
	})
}

func contentToText(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	return ""
}
