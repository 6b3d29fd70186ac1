package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/darkroom/internal/api"
	"github.com/zulandar/darkroom/internal/config"
	"github.com/zulandar/darkroom/internal/conversation"
	"github.com/zulandar/darkroom/internal/docsync"
	"github.com/zulandar/darkroom/internal/events"
	"github.com/zulandar/darkroom/internal/logging"
	"github.com/zulandar/darkroom/internal/notify"
	"github.com/zulandar/darkroom/internal/notify/discord"
	"github.com/zulandar/darkroom/internal/notify/slack"
	"github.com/zulandar/darkroom/internal/task"
	"github.com/zulandar/darkroom/internal/uploads"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Starts the Darkroom HTTP API together with its background workers:
the upload cache sweeper, document sync (when sync.endpoint is set) and
chat notifications (when a Slack or Discord bot is configured).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Darkroom config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	bus := events.NewBus(log)
	defer bus.Close()

	tasks, err := task.NewStore(task.StoreOpts{
		DB:           gormDB,
		Events:       bus,
		Timeout:      cfg.Tasks.Timeout,
		MaxBatchSize: cfg.Tasks.MaxBatchSize,
	})
	if err != nil {
		return err
	}
	convs, err := conversation.NewStore(conversation.StoreOpts{DB: gormDB})
	if err != nil {
		return err
	}
	cache := uploads.NewCache(uploads.CacheOpts{
		TTL:      cfg.Uploads.TTL,
		MaxBytes: int(cfg.Uploads.MaxBytes),
	})
	go cache.Run(ctx, cfg.Uploads.SweepInterval)

	if cfg.Sync.Enabled() {
		if err := startSync(ctx, cfg.Sync, gormDB, tasks, bus, log); err != nil {
			return err
		}
	}
	if err := startNotify(ctx, cfg.Notify, bus, log); err != nil {
		return err
	}

	log.Info("starting api", zap.Int("port", cfg.Server.Port), zap.String("driver", cfg.Database.Driver))
	return api.Start(ctx, api.StartOpts{
		RouterOpts: api.RouterOpts{
			Tasks:         tasks,
			Conversations: convs,
			Uploads:       cache,
			Events:        bus,
			Log:           log,
		},
		Port: cfg.Server.Port,
		Out:  cmd.OutOrStdout(),
	})
}

// newDispatcher wires the webhook syncer to the task store.
func newDispatcher(ctx context.Context, cfg config.SyncConfig, gormDB *gorm.DB, tasks *task.Store, log *zap.Logger) (*docsync.Dispatcher, error) {
	syncer, err := docsync.NewWebhookSyncer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return docsync.NewDispatcher(docsync.DispatcherOpts{
		Syncer:     syncer,
		Tasks:      tasks,
		DB:         gormDB,
		Log:        log,
		MaxRetries: cfg.MaxRetries,
	})
}

func startSync(ctx context.Context, cfg config.SyncConfig, gormDB *gorm.DB, tasks *task.Store, bus *events.Bus, log *zap.Logger) error {
	dispatcher, err := newDispatcher(ctx, cfg, gormDB, tasks, log)
	if err != nil {
		return err
	}
	evts, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	go dispatcher.Run(ctx, evts)
	if err := dispatcher.Schedule(ctx, cfg.RetryCron); err != nil {
		return err
	}
	log.Info("document sync enabled", zap.String("endpoint", cfg.Endpoint), zap.String("retry_cron", cfg.RetryCron))
	return nil
}

func startNotify(ctx context.Context, cfg config.NotifyConfig, bus *events.Bus, log *zap.Logger) error {
	var notifiers []notify.Notifier
	if cfg.Slack.Enabled() {
		n, err := slack.New(slack.Opts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return err
		}
		notifiers = append(notifiers, n)
	}
	if cfg.Discord.Enabled() {
		n, err := discord.New(discord.Opts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID, Log: log})
		if err != nil {
			return err
		}
		notifiers = append(notifiers, n)
	}
	if len(notifiers) == 0 {
		return nil
	}

	relay := notify.NewRelay(log, notifiers...)
	evts, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	go relay.Run(ctx, evts)
	log.Info("chat notifications enabled", zap.Int("targets", relay.Len()))
	return nil
}
