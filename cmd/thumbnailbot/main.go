package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"thumbnail-bot/internal/bot"
	"thumbnail-bot/internal/config"
	"thumbnail-bot/internal/conversation"
	"thumbnail-bot/internal/repository"
	"thumbnail-bot/internal/service"
	"thumbnail-bot/internal/web"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "thumbnailbot",
	Short: "Telegram bot that stores reusable URL button templates",
	Long: `thumbnailbot keeps named lists of URL buttons per Telegram user.

Configuration comes from environment variables (BOT_TOKEN, DATABASE_URL, ...)
and an optional YAML file given with --config. Environment values win.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := repository.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseName, repository.RetryPolicy{
		Attempts:        cfg.DBConnectAttempts,
		InitialInterval: repository.DefaultRetryPolicy.InitialInterval,
	}, logger.Named("store"))
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	store, closeStore, err := sessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	userRepo := repository.NewUserRepository(db)
	templateSvc := service.NewTemplateService(repository.NewTemplateRepository(db), cfg.AdminIDs, cfg.ListLimit)
	engine := conversation.NewEngine(store, templateSvc, cfg.SessionIdleTimeout, logger.Named("conversation"))

	scheduler := service.NewSchedulerService(time.Local, logger.Named("scheduler"))
	if _, err := scheduler.ScheduleReaper("session-reaper", time.Minute, 30*time.Second, engine); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	var telegramBot *bot.Bot
	if cfg.RunPolling {
		telegramBot, err = bot.New(cfg.BotToken, userRepo, templateSvc, engine, logger.Named("bot"))
		if err != nil {
			return err
		}
	} else {
		logger.Info("polling disabled, serving health endpoint only")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return web.Start(gctx, cfg.Port, logger.Named("web"))
	})
	if telegramBot != nil {
		g.Go(func() error {
			return telegramBot.Start(gctx)
		})
	}

	logger.Info("thumbnail bot started", zap.Int("port", cfg.Port), zap.Bool("polling", cfg.RunPolling))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stopped with error", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// sessionStore picks redis when REDIS_URL is set and the in-memory table otherwise.
func sessionStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (conversation.Store, func(), error) {
	if cfg.RedisURL == "" {
		return conversation.NewMemoryStore(), func() {}, nil
	}
	client, err := conversation.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis session store")
	return conversation.NewRedisStore(client, cfg.SessionIdleTimeout), func() { _ = client.Close() }, nil
}
