package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/parley-chat/parley/internal/channel"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/consts"
	"github.com/parley-chat/parley/internal/group"
	"github.com/parley-chat/parley/internal/ipc"
	"github.com/parley-chat/parley/internal/orchestrator"
	"github.com/parley-chat/parley/internal/pkg/logs"
	"github.com/parley-chat/parley/internal/pkg/metrics"
	"github.com/parley-chat/parley/internal/provider"
	"github.com/parley-chat/parley/internal/sandbox"
	"github.com/parley-chat/parley/internal/task"
)

const stopGrace = 10 * time.Second

var serveHwd = &ServeRunner{}

type ServeRunner struct{}

func (r *ServeRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the relay daemon: watcher, scheduler, and channels",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to the config file",
				Value: consts.DefaultConfigPath(),
			},
		},
		Action: r.run,
	}
}

func (r *ServeRunner) run(ctx context.Context, cmd *cli.Command) error {
	cfgPath := cmd.String("config")

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		fmt.Printf("No config found at %s. Create one before serving.\n", cfgPath)
		return nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config error: %w", err)
	}

	if err = initLogger(cfg.Logging); err != nil {
		return fmt.Errorf("init logger error: %w", err)
	}

	logs.CtxInfo(ctx, "booting parley, using config file: %s...", cfgPath)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	groups, tasks, providers, err := openStores(cfg)
	if err != nil {
		return err
	}

	chans := channel.NewRegistry()
	if err := chans.Register(channel.NewConsole("console")); err != nil {
		return fmt.Errorf("register console channel: %w", err)
	}

	launcher := sandbox.NewLauncher(consts.AuditLogDir(), cfg.Sandbox.Verbose)
	orch := orchestrator.New(cfg, consts.GroupsRootDir(), groups, providers, launcher, chans)

	var watcher *ipc.Watcher
	if cfg.WatcherEnabled() {
		watcher = ipc.NewWatcher(
			consts.GroupsRootDir(),
			time.Duration(cfg.Watcher.PollIntervalSec)*time.Second,
			groups, tasks, chans,
		)
		watcher.Start(ctx)
	}

	var scheduler *task.Scheduler
	if cfg.SchedulerEnabled() {
		scheduler = task.NewScheduler(tasks, orch, time.Duration(cfg.Scheduler.TickIntervalSec)*time.Second)
		scheduler.Start(ctx)
	}

	metricsSrv := startMetrics(ctx, cfg.Metrics)

	logs.CtxInfo(ctx, "ALL IS WELL!!! Press Ctrl+C to stop.")

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case sig := <-signalCh:
		logs.CtxInfo(ctx, "Received shutdown signal (%s). Stopping runtime...", sig.String())
	case <-ctx.Done():
		logs.CtxInfo(ctx, "Context canceled. Stopping runtime...")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopGrace)
	defer stopCancel()

	if scheduler != nil {
		scheduler.Stop(stopCtx)
	}
	if watcher != nil {
		watcher.Stop(stopCtx)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(stopCtx); err != nil {
			logs.CtxError(ctx, "stop metrics server error: %v", err)
		}
	}

	logs.CtxInfo(ctx, "all stopped, good bye!")
	return nil
}

func initLogger(cfg config.LoggingConfig) error {
	return logs.Init(logs.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		File:       cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	})
}

// openStores loads the persistent state shared by all subsystems and wires
// the configured provider backends into the registry.
func openStores(cfg *config.Config) (group.Store, *task.Store, *provider.Registry, error) {
	stateDir := consts.StateDir()

	groups := group.NewFileStore(filepath.Join(stateDir, "groups.json"))
	if err := groups.Load(); err != nil {
		return nil, nil, nil, fmt.Errorf("load group store: %w", err)
	}

	tasks := task.NewStore(filepath.Join(stateDir, "tasks.json"))
	if err := tasks.Load(); err != nil {
		return nil, nil, nil, fmt.Errorf("load task store: %w", err)
	}

	providers := provider.NewRegistry(filepath.Join(stateDir, "providers.json"), cfg.DefaultProvider)
	for id, pc := range cfg.Providers {
		p, err := provider.FromConfig(pc)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("provider %s: %w", id, err)
		}
		providers.Register(p)
	}
	if err := providers.Load(); err != nil {
		return nil, nil, nil, fmt.Errorf("load provider state: %w", err)
	}

	return groups, tasks, providers, nil
}

func startMetrics(ctx context.Context, cfg config.MetricsConfig) *http.Server {
	if !cfg.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.Bind, Handler: mux}

	go func() {
		logs.CtxInfo(ctx, "metrics listening on %s", cfg.Bind)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.CtxError(ctx, "metrics server error: %v", err)
		}
	}()
	return srv
}
