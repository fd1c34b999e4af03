package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ads-marketplace/deal-engine/internal/config"
	"github.com/ads-marketplace/deal-engine/internal/db"
	"github.com/ads-marketplace/deal-engine/internal/events"
	"github.com/ads-marketplace/deal-engine/internal/platform"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bot Notify Bridge subscribes to notification events and forwards them to the bot service,
// which renders the message text.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	bot := platform.NewBotClient(cfg.BotInternalURL, cfg.BotToken, log)

	log.Info("bot-notify-bridge started")

	err = subscriber.Subscribe(ctx, events.StreamBot, func(event events.Event) {
		if event.Type != events.EventBotNotification {
			return
		}
		forwardToBot(ctx, bot, event, log)
	})
	if err != nil {
		log.Fatal("failed to subscribe", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down bot-notify-bridge")
	cancel()
}

func forwardToBot(ctx context.Context, bot *platform.BotClient, event events.Event, log *zap.Logger) {
	userID, err := uuid.Parse(event.PayloadString("user_id"))
	if err != nil {
		log.Warn("notification without a valid user_id", zap.Any("payload", event.Payload))
		return
	}
	dealID, err := uuid.Parse(event.PayloadString("deal_id"))
	if err != nil {
		log.Warn("notification without a valid deal_id", zap.Any("payload", event.Payload))
		return
	}
	kind := event.PayloadString("kind")

	if err := bot.SendNotification(ctx, userID, kind, dealID); err != nil {
		log.Warn("failed to forward notification",
			zap.String("user_id", userID.String()),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}
