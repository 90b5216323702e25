package portmanager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/agentcore/pkg/pluginsdk"
)

type fakeFrontend struct {
	mu       sync.Mutex
	started  bool
	sent     []pluginsdk.OutboundMessage
	stopped  bool
	sendErr  error
	onMsg    pluginsdk.MessageCallback
}

func (f *fakeFrontend) Start(ctx context.Context, config map[string]any, onMessage pluginsdk.MessageCallback) error {
	f.mu.Lock()
	f.started = true
	f.onMsg = onMessage
	f.mu.Unlock()
	return nil
}

func (f *fakeFrontend) SendMessage(ctx context.Context, response pluginsdk.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, response)
	return f.sendErr
}

func (f *fakeFrontend) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

type fakeModel struct {
	mu        sync.Mutex
	started   bool
	stopped   bool
	connected bool
	inFlight  int32
	result    *pluginsdk.ModelResult
	err       error
}

func (m *fakeModel) Start(ctx context.Context, config map[string]any) error {
	m.mu.Lock()
	m.started = true
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *fakeModel) SendRequest(ctx context.Context, request pluginsdk.ModelRequest) (*pluginsdk.ModelResult, error) {
	atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	time.Sleep(20 * time.Millisecond)
	return m.result, m.err
}

func (m *fakeModel) IsConnected(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *fakeModel) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return nil
}

func TestRegisterFrontend_StartsAdapterAndDeliversMessages(t *testing.T) {
	fe := &fakeFrontend{}
	var received pluginsdk.InboundMessage
	m := New(Config{}, func(msg pluginsdk.InboundMessage) { received = msg }, nil)

	if err := m.RegisterFrontend(context.Background(), FrontendConfig{Name: "discord", Adapter: fe}); err != nil {
		t.Fatalf("RegisterFrontend: %v", err)
	}
	if !fe.started {
		t.Fatal("expected adapter Start called")
	}
	fe.onMsg(pluginsdk.InboundMessage{ChatID: "c1"})
	if received.ChatID != "c1" {
		t.Fatalf("expected callback delivered message, got %+v", received)
	}
}

func TestSendResponse_FansOutToAllFrontends(t *testing.T) {
	f1, f2 := &fakeFrontend{}, &fakeFrontend{}
	m := New(Config{}, nil, nil)
	_ = m.RegisterFrontend(context.Background(), FrontendConfig{Name: "a", Adapter: f1})
	_ = m.RegisterFrontend(context.Background(), FrontendConfig{Name: "b", Adapter: f2})

	m.SendResponse(context.Background(), pluginsdk.OutboundMessage{ChatID: "c1", Content: "hi"})

	if len(f1.sent) != 1 || len(f2.sent) != 1 {
		t.Fatalf("expected both frontends to receive the message, got %d and %d", len(f1.sent), len(f2.sent))
	}
}

func TestSendToModel_ReturnsNilWhenAllAdaptersSaturated(t *testing.T) {
	fm := &fakeModel{result: &pluginsdk.ModelResult{Raw: "{}"}}
	m := New(Config{}, nil, nil)
	_ = m.RegisterModel(context.Background(), ModelConfig{Name: "openai", Adapter: fm, MaxConcurrentRequests: 1})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = m.SendToModel(context.Background(), pluginsdk.ModelRequest{ChatID: "c1"})
	}()
	time.Sleep(5 * time.Millisecond) // let the first request reserve its slot

	result, err := m.SendToModel(context.Background(), pluginsdk.ModelRequest{ChatID: "c2"})
	if err != nil {
		t.Fatalf("SendToModel: %v", err)
	}
	if result != nil {
		t.Fatal("expected nil result when no adapter has spare capacity")
	}
	wg.Wait()
}

func TestSendToModel_PicksAnyAdapterWithCapacity(t *testing.T) {
	fm1 := &fakeModel{result: &pluginsdk.ModelResult{Raw: "{}"}}
	fm2 := &fakeModel{result: &pluginsdk.ModelResult{Raw: "{}"}}
	m := New(Config{}, nil, nil)
	_ = m.RegisterModel(context.Background(), ModelConfig{Name: "a", Adapter: fm1, MaxConcurrentRequests: 1})
	_ = m.RegisterModel(context.Background(), ModelConfig{Name: "b", Adapter: fm2, MaxConcurrentRequests: 1})

	result, err := m.SendToModel(context.Background(), pluginsdk.ModelRequest{ChatID: "c1"})
	if err != nil || result == nil {
		t.Fatalf("expected a successful dispatch, got result=%v err=%v", result, err)
	}
}

func TestStop_StopsAllRegisteredAdapters(t *testing.T) {
	fe := &fakeFrontend{}
	fm := &fakeModel{result: &pluginsdk.ModelResult{Raw: "{}"}}
	m := New(Config{HealthPollInterval: time.Hour}, nil, nil)
	_ = m.RegisterFrontend(context.Background(), FrontendConfig{Name: "a", Adapter: fe})
	_ = m.RegisterModel(context.Background(), ModelConfig{Name: "b", Adapter: fm, MaxConcurrentRequests: 1})

	m.Stop(context.Background())

	if !fe.stopped {
		t.Fatal("expected frontend stopped")
	}
	if !fm.stopped {
		t.Fatal("expected model adapter stopped")
	}
}
