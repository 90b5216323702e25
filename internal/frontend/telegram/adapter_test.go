package telegram

import (
	"context"
	"testing"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/haasonsaas/agentcore/pkg/pluginsdk"
)

type fakeBotClient struct {
	sent     []string
	started  bool
	handlers int
}

func (f *fakeBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	f.sent = append(f.sent, params.Text)
	return &tgmodels.Message{ID: 1}, nil
}

func (f *fakeBotClient) GetMe(ctx context.Context) (*tgmodels.User, error) {
	return &tgmodels.User{ID: 1}, nil
}

func (f *fakeBotClient) RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, handler bot.HandlerFunc) {
	f.handlers++
}

func (f *fakeBotClient) Start(ctx context.Context) {
	f.started = true
	<-ctx.Done()
}

func TestStart_RequiresToken(t *testing.T) {
	a := New()
	err := a.Start(context.Background(), map[string]any{}, nil)
	if err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestStart_RegistersHandlerAndConnects(t *testing.T) {
	fc := &fakeBotClient{}
	a := New()
	a.client = fc

	if err := a.Start(context.Background(), map[string]any{"token": "123:abc"}, func(pluginsdk.InboundMessage) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !a.Status().Connected {
		t.Fatal("expected connected after Start")
	}
	if fc.handlers != 1 {
		t.Fatalf("handlers registered = %d, want 1", fc.handlers)
	}
}

func TestSendMessage_FailsWhenNotConnected(t *testing.T) {
	a := New()
	err := a.SendMessage(context.Background(), pluginsdk.OutboundMessage{ChatID: "123", Content: "hi"})
	if err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestSendMessage_FailsOnInvalidChatID(t *testing.T) {
	fc := &fakeBotClient{}
	a := New()
	a.client = fc
	if err := a.Start(context.Background(), map[string]any{"token": "123:abc"}, func(pluginsdk.InboundMessage) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := a.SendMessage(context.Background(), pluginsdk.OutboundMessage{ChatID: "not-a-number", Content: "hi"})
	if err == nil {
		t.Fatal("expected error for invalid chat id")
	}
}

func TestSendMessage_SendsText(t *testing.T) {
	fc := &fakeBotClient{}
	a := New()
	a.client = fc
	if err := a.Start(context.Background(), map[string]any{"token": "123:abc"}, func(pluginsdk.InboundMessage) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := a.SendMessage(context.Background(), pluginsdk.OutboundMessage{ChatID: "42", Content: "hello"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(fc.sent) != 1 || fc.sent[0] != "hello" {
		t.Fatalf("unexpected sent messages: %v", fc.sent)
	}
}

func TestHandleMessage_DeliversTextUpdates(t *testing.T) {
	fc := &fakeBotClient{}
	a := New()
	a.client = fc
	var got pluginsdk.InboundMessage
	if err := a.Start(context.Background(), map[string]any{"token": "123:abc"}, func(msg pluginsdk.InboundMessage) { got = msg }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	a.handleMessage(context.Background(), nil, &tgmodels.Update{
		Message: &tgmodels.Message{Chat: tgmodels.Chat{ID: 99}, Text: "hello there"},
	})

	if got.ChatID != "99" || got.Content != "hello there" {
		t.Fatalf("unexpected delivered message: %+v", got)
	}
}

func TestHandleMessage_IgnoresNonMessageUpdates(t *testing.T) {
	fc := &fakeBotClient{}
	a := New()
	a.client = fc
	called := false
	if err := a.Start(context.Background(), map[string]any{"token": "123:abc"}, func(pluginsdk.InboundMessage) { called = true }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	a.handleMessage(context.Background(), nil, &tgmodels.Update{})

	if called {
		t.Fatal("expected update without Message to be ignored")
	}
}

func TestStop_CancelsContextAndMarksDisconnected(t *testing.T) {
	fc := &fakeBotClient{}
	a := New()
	a.client = fc
	if err := a.Start(context.Background(), map[string]any{"token": "123:abc"}, func(pluginsdk.InboundMessage) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.Status().Connected {
		t.Fatal("expected disconnected after Stop")
	}
}
