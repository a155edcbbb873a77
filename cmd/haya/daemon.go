package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hayahq/haya/internal/agent"
	"github.com/hayahq/haya/internal/agent/providers"
	"github.com/hayahq/haya/internal/channels"
	"github.com/hayahq/haya/internal/channels/discord"
	"github.com/hayahq/haya/internal/channels/matrix"
	"github.com/hayahq/haya/internal/channels/slack"
	"github.com/hayahq/haya/internal/channels/teams"
	"github.com/hayahq/haya/internal/channels/telegram"
	"github.com/hayahq/haya/internal/channels/webchat"
	"github.com/hayahq/haya/internal/channels/webhook"
	"github.com/hayahq/haya/internal/channels/whatsapp"
	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/cron"
	"github.com/hayahq/haya/internal/dispatch"
	"github.com/hayahq/haya/internal/gateway"
	"github.com/hayahq/haya/internal/observability"
	"github.com/hayahq/haya/internal/pairing"
	"github.com/hayahq/haya/internal/sessions"
	"github.com/hayahq/haya/internal/tokens"
	"github.com/hayahq/haya/internal/tools"
	"github.com/hayahq/haya/internal/usage"
	"github.com/hayahq/haya/internal/workspace"
	"github.com/hayahq/haya/pkg/models"
)

func buildStartCmd() *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the assistant daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg, logLevel)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	return cmd
}

// runDaemon assembles everything and serves until SIGINT/SIGTERM.
func runDaemon(ctx context.Context, cfg *config.Config, logLevel string) error {
	logger := observability.NewLogger(os.Stderr, observability.LogOptions{Level: logLevel})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Observability)
	if err != nil {
		logger.Warn("tracing setup failed, continuing without it", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	apiKey := ""
	if cfg.Agent.DefaultProvider != config.ProviderBedrock {
		if apiKey, err = cfg.Agent.ProviderAPIKey(); err != nil {
			return err
		}
	}
	provider, err := providers.New(ctx, cfg.Agent.DefaultProvider, providers.Settings{
		APIKey:    apiKey,
		AWSRegion: cfg.Agent.AWSRegion,
	})
	if err != nil {
		return err
	}

	workspaceDir := filepath.Join(cfg.BaseDir(), "workspace")
	if err := os.MkdirAll(workspaceDir, 0o700); err != nil {
		return err
	}
	guard, err := workspace.NewGuard([]string{workspaceDir})
	if err != nil {
		return err
	}
	toolReg := tools.NewRegistry(logger)
	if err := tools.RegisterBuiltins(toolReg, guard); err != nil {
		return err
	}
	policies := make(map[string]string, len(cfg.Agent.ToolPolicies))
	for _, tp := range cfg.Agent.ToolPolicies {
		policies[tp.Tool] = tp.Policy
	}
	toolReg.PoliciesFromConfig(policies)

	runtime := agent.NewRuntime(provider, toolReg, nil, agent.Options{
		SystemPrompt: cfg.Agent.SystemPrompt,
		DefaultModel: cfg.Agent.DefaultModel,
	}, logger)
	summarizer := agent.NewSummarizer(provider, cfg.Agent.DefaultModel)

	store, err := sessions.NewStore(cfg.SessionsDir(), logger)
	if err != nil {
		return err
	}
	history := sessions.NewHistory(store, logger)

	pairingStore, err := pairing.NewStore(cfg.DataDir())
	if err != nil {
		return err
	}
	tracker, err := usage.NewTracker(cfg.UsageDir(), usage.DefaultCosts(), logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	dock := channels.NewDock(logger, channels.NewMetrics(registry))
	hook := webhook.New()
	for _, plugin := range []channels.Plugin{
		telegram.New(), discord.New(), slack.New(), matrix.New(),
		whatsapp.New(), teams.New(), hook, webchat.New(),
	} {
		if err := dock.Register(plugin); err != nil {
			return err
		}
	}

	opts := dispatch.OptionsFromConfig(cfg)
	opts.SystemPromptTokens = tokens.EstimateText(cfg.Agent.SystemPrompt)
	processor := dispatch.NewProcessor(opts, history, runtime, dock, pairingStore, tracker, summarizer, logger)
	dock.OnMessage(processor.Handle)

	cronSvc := cron.NewService(cfg.CronStorePath(), logger)
	if err := cronSvc.Init(cfg.Cron); err != nil {
		return err
	}
	cronSvc.OnAction(cronAction(cfg, dock, store, logger))

	gw, err := gateway.New(gateway.Deps{
		Config:    cfg,
		Store:     store,
		Processor: processor,
		Dock:      dock,
		Cron:      cronSvc,
		Webhook:   hook,
		Registry:  registry,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	// Confirm-policy tools ask a connected RPC client; without one they
	// stay denied.
	toolReg.SetApprover(gw.ApproveTool)

	report := dock.StartAll(ctx, cfg.Channels)
	for _, failure := range report.Failed {
		logger.Error("channel failed to start", "channel", failure.ID, "error", failure.Error)
	}
	cronSvc.Start()
	defer cronSvc.Stop()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		dock.StopAll(stopCtx)
	}()

	watcher := config.NewWatcher(cfg.Path(), channelReloader(ctx, cfg, dock, logger), logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	logger.Info("haya started",
		"channels", len(cfg.Channels), "provider", cfg.Agent.DefaultProvider)
	return gw.Run(ctx)
}

// cronAction dispatches fired jobs: reminders go out through the dock,
// prune walks the session store.
func cronAction(cfg *config.Config, dock *channels.Dock, store *sessions.Store, logger *slog.Logger) cron.ActionHandler {
	return func(ctx context.Context, job models.CronJob) error {
		switch job.Action {
		case models.ActionSendReminder:
			channel := job.Metadata["channel"]
			if channel == "" {
				channel = string(models.ChannelWebchat)
			}
			return dock.Send(ctx, models.ChannelType(channel), job.Metadata["channelId"], models.OutboundMessage{
				Content: fmt.Sprintf("Reminder: %s", job.Metadata["message"]),
			})
		case models.ActionPruneSessions:
			if !cfg.Sessions.Pruning.Enabled {
				return nil
			}
			stats, err := store.Prune(sessions.PruneOptions{
				MaxAgeDays: cfg.Sessions.Pruning.MaxAgeDays,
				MaxSizeMB:  cfg.Sessions.Pruning.MaxSizeMB,
			})
			if err != nil {
				return err
			}
			logger.Info("sessions pruned", "deleted", stats.DeletedCount, "freed_bytes", stats.FreedBytes)
			return nil
		default:
			return fmt.Errorf("unknown cron action %q", job.Action)
		}
	}
}

// channelReloader restarts the plugins whose config section changed on a
// file reload. Other sections require a daemon restart and are logged.
func channelReloader(ctx context.Context, current *config.Config, dock *channels.Dock, logger *slog.Logger) func(*config.Config) {
	return func(next *config.Config) {
		old := current.Channels
		for id := range old {
			if _, still := next.Channels[id]; !still {
				if err := dock.Stop(ctx, models.ChannelType(id)); err != nil {
					logger.Error("channel stop on reload failed", "channel", id, "error", err)
				}
			}
		}
		for id, cc := range next.Channels {
			if prev, had := old[id]; had && reflect.DeepEqual(prev.Settings, cc.Settings) {
				continue
			}
			if err := dock.Stop(ctx, models.ChannelType(id)); err != nil {
				logger.Debug("channel was not running before reload", "channel", id)
			}
			if err := dock.Start(ctx, models.ChannelType(id), cc); err != nil {
				logger.Error("channel restart on reload failed", "channel", id, "error", err)
			}
		}
		current.Channels = next.Channels
		logger.Info("channel config reloaded", "channels", len(next.Channels))
	}
}
