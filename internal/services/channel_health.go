package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ads-marketplace/deal-engine/internal/metrics"
	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StrikeCounter counts consecutive confirmed rights revocations per channel.
type StrikeCounter interface {
	Increment(ctx context.Context, channelID uuid.UUID) (int64, error)
	Reset(ctx context.Context, channelID uuid.UUID) error
}

type RedisStrikeCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStrikeCounter(rdb *redis.Client, ttl time.Duration) *RedisStrikeCounter {
	return &RedisStrikeCounter{rdb: rdb, ttl: ttl}
}

func strikeKey(channelID uuid.UUID) string {
	return fmt.Sprintf("channel-health:strikes:%s", channelID)
}

// Increment refreshes the TTL on every strike so only an unbroken series of checks accumulates.
func (c *RedisStrikeCounter) Increment(ctx context.Context, channelID uuid.UUID) (int64, error) {
	key := strikeKey(channelID)
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisStrikeCounter) Reset(ctx context.Context, channelID uuid.UUID) error {
	return c.rdb.Del(ctx, strikeKey(channelID)).Err()
}

// ChannelHealthMonitor deactivates channels that lost posting rights and unwinds their deals.
type ChannelHealthMonitor struct {
	channels  ChannelStore
	deals     DealStore
	ledger    *EscrowLedger
	platform  ChannelPlatform
	notifier  Notifier
	strikes   StrikeCounter
	threshold int64
	timeout   time.Duration
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewChannelHealthMonitor(
	channels ChannelStore,
	deals DealStore,
	ledger *EscrowLedger,
	platform ChannelPlatform,
	notifier Notifier,
	strikes StrikeCounter,
	threshold int,
	timeout time.Duration,
	m *metrics.Metrics,
	log *zap.Logger,
) *ChannelHealthMonitor {
	if threshold < 1 {
		threshold = 1
	}
	return &ChannelHealthMonitor{
		channels:  channels,
		deals:     deals,
		ledger:    ledger,
		platform:  platform,
		notifier:  notifier,
		strikes:   strikes,
		threshold: int64(threshold),
		timeout:   timeout,
		metrics:   m,
		log:       log,
	}
}

func (h *ChannelHealthMonitor) CheckAll(ctx context.Context) error {
	start := time.Now()
	defer func() {
		h.metrics.JobDuration.WithLabelValues("channel_health").Observe(time.Since(start).Seconds())
	}()

	channels, err := h.channels.ListActive(ctx)
	if err != nil {
		return err
	}
	for i := range channels {
		h.CheckChannel(ctx, &channels[i])
	}
	return nil
}

// CheckChannel acts only after RIGHTS_STRIKE_THRESHOLD consecutive confirmed revocations.
// Indeterminate results neither add nor clear strikes.
func (h *ChannelHealthMonitor) CheckChannel(ctx context.Context, ch *models.Channel) {
	log := h.log.With(zap.String("channel_id", ch.ID.String()), zap.String("channel", ch.ExternalRef))

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	rights, err := h.platform.CheckPostingRights(callCtx, ch)
	cancel()
	if err != nil {
		rights = models.PostingRightsIndeterminate
		log.Warn("posting rights check failed", zap.Error(err))
	}
	h.metrics.RightsChecks.WithLabelValues(string(rights)).Inc()

	switch rights {
	case models.PostingRightsGranted:
		if err := h.strikes.Reset(ctx, ch.ID); err != nil {
			log.Warn("failed to reset strikes", zap.Error(err))
		}
	case models.PostingRightsRevoked:
		n, err := h.strikes.Increment(ctx, ch.ID)
		if err != nil {
			log.Error("failed to record strike", zap.Error(err))
			return
		}
		log.Warn("posting rights revoked", zap.Int64("strikes", n))
		if n >= h.threshold {
			h.deactivate(ctx, ch, log)
		}
	default:
		log.Info("posting rights indeterminate")
	}
}

func (h *ChannelHealthMonitor) deactivate(ctx context.Context, ch *models.Channel, log *zap.Logger) {
	if err := h.channels.Deactivate(ctx, ch.ID); err != nil {
		log.Error("failed to deactivate channel", zap.Error(err))
		return
	}
	log.Warn("channel deactivated after repeated rights revocation")

	deals, err := h.deals.ListByChannel(ctx, ch.ID, []string{models.DealStatusHeld, models.DealStatusPosted})
	if err != nil {
		log.Error("failed to list deals of deactivated channel", zap.Error(err))
		return
	}

	for _, deal := range deals {
		dlog := log.With(zap.String("deal_id", deal.ID.String()))
		from := deal.Status
		if from == models.DealStatusPosted {
			if _, err := h.ledger.Transition(ctx, deal.ID, models.DealStatusPosted, models.DealStatusDisputed, models.DealPatch{}); err != nil {
				logSkip(dlog, "dispute", err)
				continue
			}
			from = models.DealStatusDisputed
		}
		if _, err := h.ledger.Refund(ctx, deal.ID, from); err != nil {
			logSkip(dlog, "refund", err)
			continue
		}
		notifyAll(ctx, h.notifier, NotifyRightsRevoked, deal.ID, deal.AdvertiserUserID, ch.OwnerUserID)
	}

	if err := h.strikes.Reset(ctx, ch.ID); err != nil {
		log.Warn("failed to reset strikes", zap.Error(err))
	}
}
