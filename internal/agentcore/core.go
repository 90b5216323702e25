// Package agentcore wires every component package (config, contextstore,
// sessionstore, tools, queue, rules, workflow, portmanager, tracking,
// metrics) into one running agent and owns its startup/shutdown order
// (spec §4.10).
package agentcore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/agentcore/internal/commands"
	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/contextstore"
	"github.com/haasonsaas/agentcore/internal/metrics"
	"github.com/haasonsaas/agentcore/internal/portmanager"
	"github.com/haasonsaas/agentcore/internal/queue"
	"github.com/haasonsaas/agentcore/internal/rules"
	"github.com/haasonsaas/agentcore/internal/sessionstore"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/internal/tracking"
	"github.com/haasonsaas/agentcore/internal/workflow"
	"github.com/haasonsaas/agentcore/pkg/models"
	"github.com/haasonsaas/agentcore/pkg/pluginsdk"
	"github.com/prometheus/client_golang/prometheus"
)

// Core owns every wired component and the goroutines that drive them.
// cmd/agent constructs one Core, registers frontend/model adapters on
// its PortManager, then calls Start.
type Core struct {
	logger *slog.Logger

	configStore  *config.Store
	ContextStore *contextstore.Store
	Sessions     *sessionstore.Store
	Tools        *tools.Registry
	Tracking     *tracking.Store
	Metrics      *metrics.Metrics
	Registry     *prometheus.Registry
	Queue        *queue.Manager
	Rules        *rules.Manager
	Engine       *workflow.Engine
	PortManager  *portmanager.Manager

	watchStop func()

	runCancel   context.CancelFunc
	metricsStop chan struct{}
}

// New builds every component wired from cfgStore's current snapshot. It
// does not start any daemon; call Start.
func New(cfgStore *config.Store, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := cfgStore.Get()

	trackStore, err := tracking.New(tracking.Config{Path: cfg.Tracking.DatabasePath})
	if err != nil {
		return nil, fmt.Errorf("agentcore: open tracking store: %w", err)
	}
	recorder := tracking.NewRecorder(trackStore, logger)

	// Each Core gets its own registry rather than prometheus's global
	// default: a process embedding more than one Core (as this
	// package's own tests do) would otherwise panic on the second
	// metrics.New() with a duplicate-collector registration. cmd/agent
	// can still expose core.Registry through promhttp if it wants a
	// /metrics endpoint.
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegisterer(reg)

	// Resolve the contextstore<->tools cyclic dependency: construct the
	// tool registry against a facade that doesn't point anywhere yet,
	// then the context store against a forwarder to the registry, then
	// close the facade's forwarder over the now-existing context store.
	ctxFacade := &contextFacade{}
	toolRegistry, err := tools.NewRegistry(defaultToolBuilder, ctxFacade, time.Duration(cfg.ToolManager.DefaultTimeoutSeconds)*time.Second, logger)
	if err != nil {
		return nil, fmt.Errorf("agentcore: build tool registry: %w", err)
	}

	ctxStore := contextstore.New(cfg.ContextManager, &toolSchemaSource{registry: toolRegistry}, logger)
	ctxFacade.store = ctxStore

	sessions := sessionstore.New(cfg.SessionManager, nil, logger)

	cmdRegistry := commands.NewRegistry(logger)
	lister := &modelLister{cfg: cfgStore}
	if err := commands.RegisterBuiltins(cmdRegistry, ctxStore, toolRegistry, cfgStore, lister); err != nil {
		return nil, fmt.Errorf("agentcore: register builtin commands: %w", err)
	}
	cmdParser := commands.NewParser(cfg.Essentials.CommandPrefix)

	// c is allocated before the components whose callbacks close over
	// it (PortManager.onMessage, the queue manager's MessageCallback,
	// the rules manager's ResultCallback): a method value like
	// c.handleInbound only dereferences c's fields when actually
	// invoked, by which point every field below has been assigned, so
	// this breaks what would otherwise be a three-way construction
	// cycle between the queue, the rules manager, and the port manager.
	c := &Core{
		logger:      logger.With("component", "agent_core"),
		configStore: cfgStore,
		metricsStop: make(chan struct{}),
	}

	pm := portmanager.New(cfg.PortManagerManagerConfig(), c.handleInbound, logger)
	modelCaller := portmanager.NewModelCaller(pm)

	engine := workflow.New(workflow.Config{
		ContextStore:    ctxStore,
		Sessions:        sessions,
		Tools:           &instrumentedTools{ToolExecutor: toolRegistry, metrics: m},
		Model:           &instrumentedModel{ModelCaller: modelCaller, metrics: m},
		CommandRegistry: cmdRegistry,
		CommandParser:   cmdParser,
		Tracking:        recorder,
		IsAdmin:         cfg.IsAdmin,
		MaxToolCalls:    cfg.Workflow.MaxToolCalls,
		Logger:          logger,
	})

	queueMgr := queue.NewManager(engine.Dispatch, c.handleWorkflowResult, logger)
	rulesMgr := rules.New(cfg.RulesManager, queueMgr, engine, c.handleWorkflowResult, logger)

	c.ContextStore = ctxStore
	c.Sessions = sessions
	c.Tools = toolRegistry
	c.Tracking = trackStore
	c.Metrics = m
	c.Registry = reg
	c.Queue = queueMgr
	c.Rules = rulesMgr
	c.Engine = engine
	c.PortManager = pm

	return c, nil
}

// modelLister adapts the config store's essentials section to
// commands.ModelLister.
type modelLister struct {
	cfg *config.Store
}

func (l *modelLister) AvailableModels() []string {
	cfg := l.cfg.Get()
	out := make([]string, 0, len(cfg.Essentials.LLMModels)+len(cfg.Essentials.MLLMModels))
	out = append(out, cfg.Essentials.LLMModels...)
	out = append(out, cfg.Essentials.MLLMModels...)
	return out
}

// handleInbound is the port manager's pluginsdk.MessageCallback: it
// converts the adapter-facing message into the core's queue task shape
// and enqueues it onto the chat's message queue.
func (c *Core) handleInbound(msg pluginsdk.InboundMessage) {
	if _, err := c.Queue.EnqueueMessage(msg.ChatID, toModelContent(msg.Content), msg.IsRespond, msg.Timestamp); err != nil {
		c.logger.Warn("failed to enqueue inbound message", "chat_id", msg.ChatID, "error", err)
	}
}

// handleWorkflowResult is shared by the queue manager (wait-mode C
// results, and every A/B result) and the rules manager (all-mode C
// results): it fans a reply back out to every frontend, appends it to
// the chat's context when the workflow says to, and hands a workflow-B
// result to the rules manager for scheduling.
func (c *Core) handleWorkflowResult(result *models.WorkflowResult) {
	if result == nil {
		return
	}

	if result.Response != nil {
		c.PortManager.SendResponse(context.Background(), pluginsdk.OutboundMessage{
			ChatID:    result.Response.ChatID,
			Content:   fromModelContent(result.Response.Content),
			Timestamp: result.Response.Timestamp,
		})
	}

	if result.AppendToContext && result.Response != nil {
		err := c.ContextStore.Update(result.ChatID, models.Message{
			Role:    models.RoleAssistant,
			Content: result.Response.Content,
		})
		if err != nil {
			c.logger.Warn("failed to append assistant reply to context", "chat_id", result.ChatID, "error", err)
		}
	}

	if result.BData != nil {
		if err := c.Rules.Schedule(context.Background(), result.BData); err != nil {
			c.logger.Warn("failed to schedule workflow C", "chat_id", result.BData.ChatID, "error", err)
		}
	}
}

// Start launches every background daemon: context eviction, session
// expiry, queue consumers, the config hot-reload watcher, and the
// periodic gauge sampler. Frontend/model adapters must already be
// registered on c.PortManager before calling Start.
func (c *Core) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel

	go c.ContextStore.Run(runCtx)
	go c.Sessions.Run(runCtx)
	c.Queue.Run(runCtx)

	stop, err := c.configStore.Watch(runCtx)
	if err != nil {
		c.logger.Warn("config hot-reload watcher unavailable", "error", err)
	} else {
		c.watchStop = stop
	}

	go c.sampleGauges(runCtx)

	c.logger.Info("agent core started")
	return nil
}

// sampleGauges periodically publishes point-in-time gauges the other
// components don't push themselves (context cache size, live session
// count). Command execution counts and live queue depth have no clean
// accessor without reaching into the already-tested commands/queue
// packages, and are intentionally left unwired.
func (c *Core) sampleGauges(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.metricsStop:
			return
		case <-ticker.C:
			c.Metrics.ContextChats.Set(float64(c.ContextStore.Status().CachedChats))
			c.Metrics.ActiveSessions.Set(float64(c.Sessions.Count()))
		}
	}
}

// Stop tears every daemon down in dependency order: adapters first (no
// more inbound work), then the queues drain, then the stores flush.
func (c *Core) Stop(ctx context.Context) error {
	if c.watchStop != nil {
		c.watchStop()
	}
	close(c.metricsStop)

	c.PortManager.Stop(ctx)
	c.Rules.Wait()

	if c.runCancel != nil {
		c.runCancel()
	}
	c.Queue.Wait()

	c.Sessions.Stop()
	c.ContextStore.Stop()

	if err := c.Tracking.Close(); err != nil {
		c.logger.Warn("failed to close tracking store", "error", err)
	}

	c.logger.Info("agent core stopped")
	return nil
}
