// Package portmanager adapts external chat frontends and model backends
// into the uniform interfaces of pkg/pluginsdk, fans outbound replies out
// to every connected frontend, load-balances model requests across
// adapters under a concurrency cap, and polls every adapter's health with
// bounded reconnection (spec §4.8).
package portmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/agentcore/pkg/pluginsdk"
)

// FrontendConfig pairs a named frontend adapter with its raw config map.
type FrontendConfig struct {
	Name    string
	Adapter pluginsdk.FrontendAdapter
	Config  map[string]any
}

// ModelConfig pairs a named model adapter with its concurrency cap.
type ModelConfig struct {
	Name                  string
	Adapter               pluginsdk.ModelAdapter
	Config                map[string]any
	MaxConcurrentRequests int
}

// Config carries the subset of system.json's port_manager section the
// manager needs for its health monitor.
type Config struct {
	HealthPollInterval  time.Duration // default 30s
	MaxReconnectAttempts int
	ReconnectInterval    time.Duration
}

type modelSlot struct {
	name    string
	adapter pluginsdk.ModelAdapter
	config  map[string]any
	max     int

	mu      sync.Mutex
	inFlight int
}

type frontendSlot struct {
	name    string
	adapter pluginsdk.FrontendAdapter
	config  map[string]any
}

// Manager owns every registered frontend and model adapter.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	onMessage pluginsdk.MessageCallback

	mu        sync.RWMutex
	frontends []*frontendSlot
	models    []*modelSlot

	wg     sync.WaitGroup
	stopCh chan struct{}
	once   sync.Once
}

// New constructs a Manager. onMessage is wired to every frontend's Start
// call and is ultimately the agent core's enqueue_message hook.
func New(cfg Config, onMessage pluginsdk.MessageCallback, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HealthPollInterval <= 0 {
		cfg.HealthPollInterval = 30 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 10 * time.Second
	}
	return &Manager{
		cfg:       cfg,
		logger:    logger.With("component", "port_manager"),
		onMessage: onMessage,
		stopCh:    make(chan struct{}),
	}
}

// RegisterFrontend starts a frontend adapter and adds it to the fan-out
// set used by SendResponse.
func (m *Manager) RegisterFrontend(ctx context.Context, fc FrontendConfig) error {
	if err := fc.Adapter.Start(ctx, fc.Config, m.onMessage); err != nil {
		return fmt.Errorf("portmanager: start frontend %q: %w", fc.Name, err)
	}
	slot := &frontendSlot{name: fc.Name, adapter: fc.Adapter, config: fc.Config}

	m.mu.Lock()
	m.frontends = append(m.frontends, slot)
	m.mu.Unlock()

	m.watchFrontend(ctx, slot)
	m.logger.Info("frontend registered", "name", fc.Name)
	return nil
}

// RegisterModel starts a model adapter and adds it to the load-balanced set.
func (m *Manager) RegisterModel(ctx context.Context, mc ModelConfig) error {
	if err := mc.Adapter.Start(ctx, mc.Config); err != nil {
		return fmt.Errorf("portmanager: start model %q: %w", mc.Name, err)
	}
	max := mc.MaxConcurrentRequests
	if max <= 0 {
		max = 1
	}
	slot := &modelSlot{name: mc.Name, adapter: mc.Adapter, config: mc.Config, max: max}

	m.mu.Lock()
	m.models = append(m.models, slot)
	m.mu.Unlock()

	m.watchModel(ctx, slot)
	m.logger.Info("model adapter registered", "name", mc.Name, "max_concurrent_requests", max)
	return nil
}

// SendResponse fans an outbound message out to every registered frontend.
// Per-frontend send failures are logged, not propagated — spec §4.8
// specifies fan-out, not best-of-one delivery.
func (m *Manager) SendResponse(ctx context.Context, msg pluginsdk.OutboundMessage) {
	m.mu.RLock()
	frontends := append([]*frontendSlot(nil), m.frontends...)
	m.mu.RUnlock()

	for _, f := range frontends {
		if err := f.adapter.SendMessage(ctx, msg); err != nil {
			m.logger.Warn("frontend send failed", "frontend", f.name, "chat_id", msg.ChatID, "error", err)
		}
	}
}

// SendToModel picks any model adapter whose in-flight request count is
// below its configured maximum, atomically reserves a slot, and calls it.
// Returns nil if no adapter currently has capacity (spec §4.8, §5
// back-pressure: "send_to_model_async returns null").
func (m *Manager) SendToModel(ctx context.Context, req pluginsdk.ModelRequest) (*pluginsdk.ModelResult, error) {
	m.mu.RLock()
	models := append([]*modelSlot(nil), m.models...)
	m.mu.RUnlock()

	for _, slot := range models {
		if !slot.reserve() {
			continue
		}
		defer slot.release()
		return slot.adapter.SendRequest(ctx, req)
	}
	return nil, nil
}

func (s *modelSlot) reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight >= s.max {
		return false
	}
	s.inFlight++
	return true
}

func (s *modelSlot) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
}

// watchFrontend starts a 30s-interval health poll for one frontend. It is
// a no-op if the adapter doesn't implement pluginsdk.HealthAdapter.
func (m *Manager) watchFrontend(ctx context.Context, f *frontendSlot) {
	health, ok := f.adapter.(pluginsdk.HealthAdapter)
	if !ok {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.monitor(ctx, f.name, health, func(ctx context.Context) error {
			return f.adapter.Start(ctx, f.config, m.onMessage)
		})
	}()
}

func (m *Manager) watchModel(ctx context.Context, s *modelSlot) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.monitor(ctx, s.name, connectedAdapter{s.adapter}, func(ctx context.Context) error {
			return s.adapter.Start(ctx, s.config)
		})
	}()
}

// connectedAdapter adapts pluginsdk.ModelAdapter.IsConnected to the
// HealthAdapter.Status shape the monitor loop polls uniformly.
type connectedAdapter struct {
	adapter pluginsdk.ModelAdapter
}

func (c connectedAdapter) Status() pluginsdk.Status {
	return pluginsdk.Status{Connected: c.adapter.IsConnected(context.Background())}
}

// monitor polls health every cfg.HealthPollInterval; on a disconnect
// transition it retries `reconnect` up to MaxReconnectAttempts times,
// ReconnectInterval apart.
func (m *Manager) monitor(ctx context.Context, name string, health pluginsdk.HealthAdapter, reconnect func(context.Context) error) {
	ticker := time.NewTicker(m.cfg.HealthPollInterval)
	defer ticker.Stop()

	wasConnected := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			status := health.Status()
			if status.Connected {
				wasConnected = true
				continue
			}
			if !wasConnected {
				continue
			}
			wasConnected = false
			m.logger.Warn("adapter disconnected, attempting reconnect", "adapter", name)
			m.attemptReconnect(ctx, name, reconnect)
		}
	}
}

func (m *Manager) attemptReconnect(ctx context.Context, name string, reconnect func(context.Context) error) {
	for attempt := 1; attempt <= m.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-time.After(m.cfg.ReconnectInterval):
		}
		if err := reconnect(ctx); err != nil {
			m.logger.Warn("reconnect attempt failed", "adapter", name, "attempt", attempt, "error", err)
			continue
		}
		m.logger.Info("adapter reconnected", "adapter", name, "attempt", attempt)
		return
	}
	m.logger.Error("adapter exhausted reconnect attempts, giving up", "adapter", name, "max_attempts", m.cfg.MaxReconnectAttempts)
}

// Stop stops every registered adapter and the health monitors.
func (m *Manager) Stop(ctx context.Context) {
	m.once.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.frontends {
		if err := f.adapter.Stop(ctx); err != nil {
			m.logger.Warn("frontend stop failed", "frontend", f.name, "error", err)
		}
	}
	for _, s := range m.models {
		if err := s.adapter.Stop(ctx); err != nil {
			m.logger.Warn("model stop failed", "model", s.name, "error", err)
		}
	}
}
