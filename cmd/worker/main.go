package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ads-marketplace/deal-engine/internal/config"
	"github.com/ads-marketplace/deal-engine/internal/db"
	"github.com/ads-marketplace/deal-engine/internal/events"
	"github.com/ads-marketplace/deal-engine/internal/metrics"
	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/ads-marketplace/deal-engine/internal/platform"
	"github.com/ads-marketplace/deal-engine/internal/repositories"
	"github.com/ads-marketplace/deal-engine/internal/services"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Repos
	dealRepo := repositories.NewDealRepo(pool)
	channelRepo := repositories.NewChannelRepo(pool)
	ledgerRepo := repositories.NewLedgerRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)
	notifier := services.NewEventNotifier(publisher, log)

	// Platform
	bot := platform.NewBotClient(cfg.BotInternalURL, cfg.BotToken, log)
	telegram := platform.NewTelegram(bot, platform.NewEmbedProber(cfg.TMEBaseURL, cfg.TMEFetchTimeoutMS, log), log)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal("failed to create scheduler", zap.Error(err))
	}

	// Services
	fees := services.NewFeeSchedule(cfg.FeeTiers, cfg.AmountScale)
	ledger := services.NewEscrowLedger(dealRepo, ledgerRepo, channelRepo, auditRepo, publisher, fees, cfg.ClickOvershootPolicy, m, log)
	registry := services.NewMonitorRegistry(ctx, scheduler, m, log)
	orchestrator := services.NewOrchestrator(dealRepo, channelRepo, ledger, telegram, notifier, registry, m, services.OrchestratorConfigFrom(cfg), log)
	sweeper := services.NewExpirySweeper(dealRepo, ledger, notifier, m, cfg.PaymentTimeout, cfg.ApprovalTimeout, log)
	strikes := services.NewRedisStrikeCounter(rdb, cfg.RightsStrikeTTL)
	health := services.NewChannelHealthMonitor(channelRepo, dealRepo, ledger, telegram, notifier, strikes,
		cfg.RightsStrikeThreshold, cfg.ExternalCallTimeout, m, log)

	// Periodic jobs
	addPeriodicJob(scheduler, "expiry-sweeper", cfg.SweepInterval, func() {
		if err := sweeper.Sweep(ctx); err != nil {
			log.Error("expiry sweep failed", zap.Error(err))
		}
	}, log)
	addPeriodicJob(scheduler, "channel-health", cfg.HealthCheckInterval, func() {
		if err := health.CheckAll(ctx); err != nil {
			log.Error("channel health check failed", zap.Error(err))
		}
	}, log)
	scheduler.Start()

	// Deals entering held get posted; the API can also request a post explicitly.
	err = subscriber.Subscribe(ctx, events.StreamDeal, func(event events.Event) {
		switch {
		case event.Type == events.EventDealStatusChanged && event.PayloadString("new_status") == models.DealStatusHeld,
			event.Type == events.EventAutoPostRequested:
		default:
			return
		}

		dealID, err := uuid.Parse(event.PayloadString("deal_id"))
		if err != nil {
			log.Warn("deal event without a valid deal_id", zap.String("type", event.Type))
			return
		}
		go func() {
			if err := orchestrator.AutoPostDeal(ctx, dealID); err != nil {
				log.Error("auto post failed", zap.String("deal_id", dealID.String()), zap.Error(err))
			}
		}()
	})
	if err != nil {
		log.Fatal("failed to subscribe to deal events", zap.Error(err))
	}

	if err := orchestrator.ResumePostedDeals(ctx); err != nil {
		log.Error("failed to resume posted deals", zap.Error(err))
	}

	// Metrics
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%s", cfg.WorkerPort), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	log.Info("worker started", zap.String("metrics_addr", srv.Addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down worker")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
	if err := scheduler.Shutdown(); err != nil {
		log.Warn("scheduler shutdown", zap.Error(err))
	}
}

func addPeriodicJob(scheduler gocron.Scheduler, name string, every time.Duration, run func(), log *zap.Logger) {
	_, err := scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(run),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		log.Fatal("failed to schedule job", zap.String("job", name), zap.Error(err))
	}
}
