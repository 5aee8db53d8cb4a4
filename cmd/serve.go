package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendwatch/tendwatch/internal/activehours"
	"github.com/tendwatch/tendwatch/internal/bus"
	"github.com/tendwatch/tendwatch/internal/channels"
	"github.com/tendwatch/tendwatch/internal/channels/telegram"
	"github.com/tendwatch/tendwatch/internal/channels/whatsapp"
	"github.com/tendwatch/tendwatch/internal/config"
	"github.com/tendwatch/tendwatch/internal/embedding"
	"github.com/tendwatch/tendwatch/internal/logging"
	"github.com/tendwatch/tendwatch/internal/projection"
	"github.com/tendwatch/tendwatch/internal/queue"
	"github.com/tendwatch/tendwatch/internal/reflection"
	"github.com/tendwatch/tendwatch/internal/scheduler"
	"github.com/tendwatch/tendwatch/internal/session"
	"github.com/tendwatch/tendwatch/internal/tools"
	"github.com/tendwatch/tendwatch/internal/trust"
	"github.com/tendwatch/tendwatch/internal/usage"
	"github.com/tendwatch/tendwatch/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run tendwatch: channels, scheduler, and the session orchestrator (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// queueEnqueuer bridges *queue.Manager's two-argument Enqueue to the
// single-argument scheduler.Enqueuer/worker.Enqueuer shape the scheduler
// jobs and worker completion bridge were built against, using a background
// context since a synthesized message (a scheduler wakeup, a worker
// completion fact) has no request-scoped context to inherit.
type queueEnqueuer struct {
	mgr *queue.Manager
}

func (q *queueEnqueuer) Enqueue(msg bus.InboundMessage) error {
	return q.mgr.Enqueue(context.Background(), msg)
}

func runServe() error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.Config

	logLevel := cfg.Logging.Level
	if verbose {
		logLevel = "debug"
	}
	logger, logCloser, err := logging.Install(a.Layout.LogsDir, logLevel)
	if err != nil {
		return fmt.Errorf("install logging: %w", err)
	}
	defer logCloser.Close()

	watcher, err := config.Watch(a.Layout.ConfigFile, cfg)
	if err != nil {
		logger.Warn("config hot-reload unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	chain, err := buildProviderChain(cfg)
	if err != nil {
		return err
	}

	gate, err := trust.NewGate(a.Layout.TrustFile, tools.DefaultTrustSpecs())
	if err != nil {
		return fmt.Errorf("open trust gate: %w", err)
	}

	usageLedger := usage.New(a.Layout.UsageDir)
	defer usageLedger.Close()

	history := session.NewHistory(a.Layout.HistoryDir)
	defer history.Close()

	channelMgr := channels.NewManager()
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram)
		if err != nil {
			logger.Error("telegram channel disabled", "error", err)
		} else {
			channelMgr.Register(ch)
		}
	}
	if cfg.Channels.WhatsApp.Enabled {
		ch, err := whatsapp.New(cfg.Channels.WhatsApp)
		if err != nil {
			logger.Error("whatsapp channel disabled", "error", err)
		} else {
			channelMgr.Register(ch)
		}
	}

	queueCfg := queue.Config{
		MergeWindow: time.Duration(cfg.Queue.MergeWindowMs) * time.Millisecond,
		MaxDepth:    cfg.Queue.MaxDepth,
	}

	orch := &session.Orchestrator{
		Config:   cfg,
		Chain:    chain,
		Gate:     gate,
		Core:     a.Core,
		Projects: a.Projects,
		Archival: a.Archival,
		Channels: channelMgr,
		Sessions: session.NewManager(),
		History:  history,
		Usage:    usageLedger,
	}

	qmgr := queue.New(queueCfg, orch.HandleMessage, func(channelID string, msg bus.InboundMessage) {
		logger.Warn("queue: message rejected, overloaded", "channel", channelID)
		if ch, ok := channelMgr.Get(string(msg.Platform)); ok {
			_, _ = ch.SendMessage(context.Background(), msg.ChatID, "I'm a bit overloaded right now, please try again in a moment.", nil)
		}
	})
	enq := &queueEnqueuer{mgr: qmgr}

	purgeAfter, err := time.ParseDuration(cfg.Worker.PurgeAfter)
	if err != nil || purgeAfter <= 0 {
		purgeAfter = 24 * time.Hour
	}

	ownerPlatform, ownerChatID := resolveOwnerChannel(cfg)

	bridge := &worker.Bridge{
		Archival:    a.Archival,
		Projections: a.Projects,
		Embed:       embedFunc,
		Threshold:   cfg.Memory.MinScore,
		Enqueue:     enq,
		Platform:    ownerPlatform,
		ChatID:      ownerChatID,
	}
	workerTimeout := time.Duration(cfg.Worker.TimeoutMin) * time.Minute
	if workerTimeout <= 0 {
		workerTimeout = 60 * time.Minute
	}
	workerRegistry := worker.NewRegistry(a.Layout, cfg.Worker.MaxConcurrent, purgeAfter, bridge.Hook())
	orch.Workers = workerRegistry

	registry := buildToolRegistry(a, chain, workerRegistry, workerTimeout)
	orch.Tools = registry

	activeHours := activehours.Window{
		Start:    cfg.Scheduler.ActiveHours.Start,
		End:      cfg.Scheduler.ActiveHours.End,
		Timezone: cfg.Scheduler.ActiveHours.Timezone,
	}
	if activeHours.Timezone == "" {
		activeHours.Timezone = cfg.Timezone
	}

	reflector := &reflection.LLMReflector{Provider: chain[0].Provider, Model: reflectionModel(cfg, chain)}
	windowProvider := func() (string, error) {
		return session.ConversationWindow(a.Layout.HistoryDir, 30*time.Minute, time.Now())
	}

	jobs := []scheduler.Job{
		{
			Name: "daily_review",
			Cron: cfg.Scheduler.DailyReviewCron,
			Run: scheduler.DailyReviewFunc(a.Projects, activeHours, enq, ownerPlatform, ownerChatID, func(ps []projection.Projection) string {
				return fmt.Sprintf("Daily review: %d commitments upcoming this week.", len(ps))
			}),
		},
		{
			Name: "exact_check",
			Cron: cfg.Scheduler.ExactCheckCron,
			Run: scheduler.ExactCheckFunc(a.Projects, activeHours, enq, ownerPlatform, ownerChatID, 15, func(p projection.Projection) string {
				return fmt.Sprintf("Reminder due: %s", p.Summary)
			}),
		},
		{
			Name: "reflection",
			Cron: cfg.Scheduler.ReflectionCron,
			Run:  scheduler.ReflectionFunc(a.Projects, reflector, windowProvider),
		},
	}
	sched := scheduler.New(jobs, logger, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := channelMgr.StartAll(ctx); err != nil {
		logger.Error("failed to start channels", "error", err)
	}
	for _, name := range channelMgr.Names() {
		ch, _ := channelMgr.Get(name)
		ch.OnMessage(func(msg bus.InboundMessage) error {
			return qmgr.Enqueue(ctx, msg)
		})
	}

	go sched.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("tendwatch starting",
		"version", Version,
		"data_dir", a.Layout.Root,
		"owner", a.OwnerID,
		"channels", channelMgr.Names(),
		"tools", registry.List(),
	)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig)
	cancel()
	_ = channelMgr.StopAll(context.Background())
	_ = embedding.Shutdown()
	return nil
}

// reflectionModel picks the model the reflection pass calls, preferring an
// explicit agent.reflection_model override so extraction can run on a
// cheaper model than the main conversation chain.
func reflectionModel(cfg *config.Config, chain []session.ModelChoice) string {
	if cfg.Agent.ReflectionModel != "" {
		return cfg.Agent.ReflectionModel
	}
	return chain[0].Model
}
