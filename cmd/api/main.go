package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ads-marketplace/deal-engine/internal/config"
	"github.com/ads-marketplace/deal-engine/internal/db"
	"github.com/ads-marketplace/deal-engine/internal/events"
	apphttp "github.com/ads-marketplace/deal-engine/internal/http"
	"github.com/ads-marketplace/deal-engine/internal/http/handlers"
	"github.com/ads-marketplace/deal-engine/internal/metrics"
	"github.com/ads-marketplace/deal-engine/internal/platform"
	"github.com/ads-marketplace/deal-engine/internal/repositories"
	"github.com/ads-marketplace/deal-engine/internal/services"
	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Repositories
	channelRepo := repositories.NewChannelRepo(pool)
	dealRepo := repositories.NewDealRepo(pool)
	ledgerRepo := repositories.NewLedgerRepo(pool)
	clickRepo := repositories.NewClickRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	notifier := services.NewEventNotifier(publisher, log)

	// Platform
	bot := platform.NewBotClient(cfg.BotInternalURL, cfg.BotToken, log)
	telegram := platform.NewTelegram(bot, platform.NewEmbedProber(cfg.TMEBaseURL, cfg.TMEFetchTimeoutMS, log), log)

	// Monitors live in the worker. The API only settles click deals whose budget runs out on a
	// redirect, so its registry stays empty.
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal("failed to create scheduler", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Shutdown()

	// Services
	fees := services.NewFeeSchedule(cfg.FeeTiers, cfg.AmountScale)
	ledger := services.NewEscrowLedger(dealRepo, ledgerRepo, channelRepo, auditRepo, publisher, fees, cfg.ClickOvershootPolicy, m, log)
	registry := services.NewMonitorRegistry(ctx, scheduler, m, log)
	orchestrator := services.NewOrchestrator(dealRepo, channelRepo, ledger, telegram, notifier, registry, m, services.OrchestratorConfigFrom(cfg), log)
	clickMeter := services.NewClickMeter(clickRepo, dealRepo, orchestrator, m, log)
	dealService := services.NewDealService(dealRepo, channelRepo, ledger, auditRepo, publisher, log)
	channelService := services.NewChannelService(channelRepo, telegram, auditRepo, log)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, prometheus.DefaultGatherer, apphttp.Handlers{
		Deals:    handlers.NewDealHandler(dealService, log),
		Channels: handlers.NewChannelHandler(channelService, log),
		Clicks:   handlers.NewClickHandler(clickMeter, dealService, log),
		Meta:     handlers.NewMetaHandler(),
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
