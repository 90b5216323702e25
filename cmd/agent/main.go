// Command agent runs the chat-agent orchestrator: it loads system.yaml,
// wires every component through internal/agentcore, registers whichever
// frontend and model adapters the config names, and serves until
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/agentcore/internal/agentcore"
	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/frontend/discord"
	"github.com/haasonsaas/agentcore/internal/frontend/slack"
	"github.com/haasonsaas/agentcore/internal/frontend/telegram"
	"github.com/haasonsaas/agentcore/internal/frontend/whatsapp"
	"github.com/haasonsaas/agentcore/internal/modelbackend/anthropic"
	"github.com/haasonsaas/agentcore/internal/modelbackend/openai"
	"github.com/haasonsaas/agentcore/internal/portmanager"
	"github.com/haasonsaas/agentcore/pkg/pluginsdk"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	configPath := flag.String("config", envOr("AGENT_CONFIG", "system.yaml"), "path to the system config file")
	flag.Parse()

	if err := run(*configPath, logger); err != nil {
		logger.Error("agent exited with error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(configPath string, logger *slog.Logger) error {
	cfgStore, err := config.Load(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	core, err := agentcore.New(cfgStore, logger)
	if err != nil {
		return fmt.Errorf("wire agent core: %w", err)
	}

	if err := registerAdapters(core, cfgStore); err != nil {
		return fmt.Errorf("register adapters: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := core.Start(ctx); err != nil {
		return fmt.Errorf("start agent core: %w", err)
	}

	logger.Info("agent running", "config", configPath)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return core.Stop(shutdownCtx)
}

// frontendBuilders maps a config-file frontend name to its adapter
// constructor. Only frontends actually listed under port_manager.frontends
// are started.
var frontendBuilders = map[string]func() pluginsdk.FrontendAdapter{
	"discord":  func() pluginsdk.FrontendAdapter { return discord.New() },
	"slack":    func() pluginsdk.FrontendAdapter { return slack.New() },
	"telegram": func() pluginsdk.FrontendAdapter { return telegram.New() },
	"whatsapp": func() pluginsdk.FrontendAdapter { return whatsapp.New() },
}

var modelBuilders = map[string]func() pluginsdk.ModelAdapter{
	"openai":    func() pluginsdk.ModelAdapter { return openai.New() },
	"anthropic": func() pluginsdk.ModelAdapter { return anthropic.New() },
}

func registerAdapters(core *agentcore.Core, cfgStore *config.Store) error {
	cfg := cfgStore.Get()

	for name, rawCfg := range cfg.PortManager.Frontends {
		build, ok := frontendBuilders[name]
		if !ok {
			return fmt.Errorf("unknown frontend adapter %q", name)
		}
		adapter := build()
		if err := core.PortManager.RegisterFrontend(context.Background(), portmanager.FrontendConfig{
			Name:    name,
			Adapter: adapter,
			Config:  rawCfg,
		}); err != nil {
			return fmt.Errorf("register frontend %q: %w", name, err)
		}
	}

	for name, entry := range cfg.PortManager.Models {
		build, ok := modelBuilders[name]
		if !ok {
			return fmt.Errorf("unknown model adapter %q", name)
		}
		adapter := build()
		if err := core.PortManager.RegisterModel(context.Background(), portmanager.ModelConfig{
			Name:                  name,
			Adapter:               adapter,
			Config:                entry.Config,
			MaxConcurrentRequests: entry.MaxConcurrentRequests,
		}); err != nil {
			return fmt.Errorf("register model %q: %w", name, err)
		}
	}

	return nil
}
