package services

import (
	"context"
	"sync"
	"time"

	"github.com/ads-marketplace/deal-engine/internal/config"
	"github.com/ads-marketplace/deal-engine/internal/metrics"
	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type OrchestratorConfig struct {
	PostMaxAttempts     int
	PostBackoffBase     time.Duration
	ExternalCallTimeout time.Duration
	ShortInterval       time.Duration
	LongInterval        time.Duration
	ShortDealThreshold  time.Duration
	ClickMaxDuration    time.Duration
	ResumeConcurrency   int
}

func OrchestratorConfigFrom(cfg *config.Config) OrchestratorConfig {
	return OrchestratorConfig{
		PostMaxAttempts:     cfg.PostMaxAttempts,
		PostBackoffBase:     cfg.PostBackoffBase,
		ExternalCallTimeout: cfg.ExternalCallTimeout,
		ShortInterval:       cfg.MonitorShortInterval,
		LongInterval:        cfg.MonitorLongInterval,
		ShortDealThreshold:  cfg.MonitorShortDealThreshold,
		ClickMaxDuration:    cfg.ClickMaxDuration,
		ResumeConcurrency:   cfg.ResumeConcurrency,
	}
}

// Orchestrator posts held deals, watches them while live and settles them.
type Orchestrator struct {
	deals    DealStore
	channels ChannelStore
	ledger   *EscrowLedger
	platform ChannelPlatform
	notifier Notifier
	registry Registry
	metrics  *metrics.Metrics
	cfg      OrchestratorConfig
	now      func() time.Time
	log      *zap.Logger

	mu      sync.Mutex
	posting map[uuid.UUID]struct{}
}

func NewOrchestrator(
	deals DealStore,
	channels ChannelStore,
	ledger *EscrowLedger,
	platform ChannelPlatform,
	notifier Notifier,
	registry Registry,
	m *metrics.Metrics,
	cfg OrchestratorConfig,
	log *zap.Logger,
) *Orchestrator {
	if cfg.PostMaxAttempts < 1 {
		cfg.PostMaxAttempts = 1
	}
	if cfg.ResumeConcurrency < 1 {
		cfg.ResumeConcurrency = 1
	}
	return &Orchestrator{
		deals:    deals,
		channels: channels,
		ledger:   ledger,
		platform: platform,
		notifier: notifier,
		registry: registry,
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
		log:      log,
		posting:  make(map[uuid.UUID]struct{}),
	}
}

// AutoPostDeal publishes a held deal and starts monitoring it. Publishing failures end in a
// refund and are not returned. Calls for deals that are not held are no-ops.
func (o *Orchestrator) AutoPostDeal(ctx context.Context, dealID uuid.UUID) error {
	if !o.claimPosting(dealID) {
		o.log.Info("auto-post already in progress", zap.String("deal_id", dealID.String()))
		return nil
	}
	defer o.releasePosting(dealID)

	deal, err := o.deals.GetByID(ctx, dealID)
	if err != nil {
		return err
	}
	if deal.Status != models.DealStatusHeld {
		o.log.Info("auto-post skipped", zap.String("deal_id", dealID.String()), zap.String("status", deal.Status))
		return nil
	}

	ch, err := o.channels.GetByID(ctx, deal.ChannelID)
	if err != nil {
		return err
	}

	contentRef, err := o.publish(ctx, deal, ch)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// interrupted, not failed: the deal stays held and is picked up by ResumePostedDeals
			o.log.Info("auto-post interrupted", zap.String("deal_id", dealID.String()), zap.Error(err))
			return nil
		}
		o.log.Warn("publishing failed, refunding deal", zap.String("deal_id", dealID.String()), zap.Error(err))
		settleCtx := context.WithoutCancel(ctx)
		if _, rerr := o.ledger.Refund(settleCtx, dealID, models.DealStatusHeld); rerr != nil {
			o.log.Error("refund after failed publish", zap.String("deal_id", dealID.String()), zap.Error(rerr))
			return nil
		}
		notifyAll(settleCtx, o.notifier, NotifyPostFailed, dealID, deal.AdvertiserUserID)
		return nil
	}

	now := o.now()
	posted, err := o.ledger.Transition(ctx, dealID, models.DealStatusHeld, models.DealStatusPosted, models.DealPatch{
		PostRef:  &contentRef,
		PostedAt: &now,
	})
	if err != nil {
		// content is live but the deal moved on, e.g. refunded by the health monitor
		o.log.Error("published deal could not be marked posted",
			zap.String("deal_id", dealID.String()),
			zap.String("post_ref", contentRef),
			zap.Error(err),
		)
		return nil
	}

	o.startMonitoring(posted)
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, deal *models.Deal, ch *models.Channel) (string, error) {
	backoff := retry.WithMaxRetries(uint64(o.cfg.PostMaxAttempts-1), retry.NewExponential(o.cfg.PostBackoffBase))

	var contentRef string
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.ExternalCallTimeout)
		defer cancel()

		ref, err := o.platform.Publish(callCtx, ch, deal.Creative)
		if err != nil {
			o.metrics.PostAttempts.WithLabelValues("failure").Inc()
			o.log.Warn("publish attempt failed",
				zap.String("deal_id", deal.ID.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		o.metrics.PostAttempts.WithLabelValues("success").Inc()
		contentRef = ref
		return nil
	})
	return contentRef, err
}

func (o *Orchestrator) claimPosting(dealID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.posting[dealID]; busy {
		return false
	}
	o.posting[dealID] = struct{}{}
	return true
}

func (o *Orchestrator) releasePosting(dealID uuid.UUID) {
	o.mu.Lock()
	delete(o.posting, dealID)
	o.mu.Unlock()
}

// runLimit is how long the content must stay live: the deal duration in time mode, the optional
// per-deal cap or the configured maximum in click mode.
func (o *Orchestrator) runLimit(deal *models.Deal) time.Duration {
	if deal.IsClickMode() && deal.DurationSeconds <= 0 {
		return o.cfg.ClickMaxDuration
	}
	return deal.Duration()
}

func (o *Orchestrator) baseInterval(deal *models.Deal) time.Duration {
	if o.runLimit(deal) <= o.cfg.ShortDealThreshold {
		return o.cfg.ShortInterval
	}
	return o.cfg.LongInterval
}

func (o *Orchestrator) remaining(deal *models.Deal) time.Duration {
	limit := o.runLimit(deal)
	if limit <= 0 {
		return 0
	}
	return limit - deal.Elapsed(o.now())
}

func (o *Orchestrator) fulfilled(deal *models.Deal) bool {
	if deal.IsClickMode() && deal.BudgetExhausted() {
		return true
	}
	limit := o.runLimit(deal)
	return limit > 0 && deal.Elapsed(o.now()) >= limit
}

// NextInterval is min(base interval, remaining run time) so the last check lands on the deadline.
func (o *Orchestrator) NextInterval(deal *models.Deal) time.Duration {
	interval := o.baseInterval(deal)
	if rem := o.remaining(deal); rem > 0 && rem < interval {
		interval = rem
	}
	return interval
}

func (o *Orchestrator) startMonitoring(deal *models.Deal) {
	interval := o.NextInterval(deal)
	if err := o.registry.Schedule(deal.ID, interval, o.tick(deal.ID)); err != nil {
		o.log.Error("failed to schedule monitor", zap.String("deal_id", deal.ID.String()), zap.Error(err))
		return
	}
	o.log.Info("monitoring started",
		zap.String("deal_id", deal.ID.String()),
		zap.Duration("interval", interval),
		zap.Duration("remaining", o.remaining(deal)),
	)
}

func (o *Orchestrator) tick(dealID uuid.UUID) func(context.Context) {
	return func(ctx context.Context) { o.CheckDeal(ctx, dealID) }
}

// CheckDeal runs one monitoring tick for a posted deal.
func (o *Orchestrator) CheckDeal(ctx context.Context, dealID uuid.UUID) {
	log := o.log.With(zap.String("deal_id", dealID.String()))

	deal, err := o.deals.GetByID(ctx, dealID)
	if errors.Is(err, models.ErrNotFound) {
		o.registry.Cancel(dealID)
		return
	}
	if err != nil {
		log.Warn("monitor tick: load deal", zap.Error(err))
		return
	}
	if deal.Status != models.DealStatusPosted {
		o.registry.Cancel(dealID)
		log.Info("monitoring stopped", zap.String("status", deal.Status))
		return
	}

	if o.probe(ctx, deal) == models.LivenessDeleted {
		o.registry.Cancel(dealID)
		o.dispute(ctx, deal)
		return
	}

	if o.fulfilled(deal) {
		o.registry.Cancel(dealID)
		o.complete(ctx, deal)
		return
	}

	remaining := o.remaining(deal)
	log.Debug("deal still running", zap.Duration("remaining", remaining), zap.Int("clicks", deal.ClickCount))
	if current, ok := o.registry.Interval(dealID); ok && remaining > 0 && remaining < current {
		if err := o.registry.Schedule(dealID, remaining, o.tick(dealID)); err != nil {
			log.Error("failed to reschedule monitor", zap.Error(err))
		}
	}
}

// probe treats any ambiguity as alive so owners are not penalized for platform hiccups.
func (o *Orchestrator) probe(ctx context.Context, deal *models.Deal) models.Liveness {
	log := o.log.With(zap.String("deal_id", deal.ID.String()))
	if deal.PostRef == nil {
		log.Warn("posted deal has no content reference")
		return models.LivenessIndeterminate
	}

	ch, err := o.channels.GetByID(ctx, deal.ChannelID)
	if err != nil {
		log.Warn("liveness probe: load channel", zap.Error(err))
		return models.LivenessIndeterminate
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.ExternalCallTimeout)
	defer cancel()

	result, err := o.platform.ProbeLiveness(callCtx, ch, *deal.PostRef)
	if err != nil {
		o.metrics.LivenessProbes.WithLabelValues("error").Inc()
		log.Warn("liveness probe failed, assuming alive", zap.Error(err))
		return models.LivenessIndeterminate
	}
	o.metrics.LivenessProbes.WithLabelValues(string(result)).Inc()
	if result == models.LivenessIndeterminate {
		log.Info("liveness indeterminate, assuming alive")
	}
	return result
}

func (o *Orchestrator) dispute(ctx context.Context, deal *models.Deal) {
	log := o.log.With(zap.String("deal_id", deal.ID.String()))
	log.Warn("posted content deleted before fulfillment")

	if _, err := o.ledger.Transition(ctx, deal.ID, models.DealStatusPosted, models.DealStatusDisputed, models.DealPatch{}); err != nil {
		logSkip(log, "dispute", err)
		return
	}
	if _, err := o.ledger.Refund(ctx, deal.ID, models.DealStatusDisputed); err != nil {
		log.Error("refund of disputed deal failed", zap.Error(err))
		return
	}

	owner := o.ownerOf(ctx, deal)
	notifyAll(ctx, o.notifier, NotifyPostDeleted, deal.ID, deal.AdvertiserUserID, owner)
}

// complete verifies and releases. The posted->verified update makes it safe to call concurrently.
func (o *Orchestrator) complete(ctx context.Context, deal *models.Deal) {
	log := o.log.With(zap.String("deal_id", deal.ID.String()))

	now := o.now()
	verified, err := o.ledger.Transition(ctx, deal.ID, models.DealStatusPosted, models.DealStatusVerified, models.DealPatch{
		VerifiedAt: &now,
	})
	if err != nil {
		logSkip(log, "verify", err)
		return
	}
	o.release(ctx, verified)
}

func (o *Orchestrator) release(ctx context.Context, deal *models.Deal) {
	amount := o.ledger.ReleaseAmount(deal)
	if _, err := o.ledger.Release(ctx, deal.ID, amount); err != nil {
		logSkip(o.log.With(zap.String("deal_id", deal.ID.String())), "release", err)
		return
	}

	kind := NotifyDealCompleted
	if deal.IsClickMode() && deal.BudgetExhausted() {
		kind = NotifyBudgetExhausted
	}
	notifyAll(ctx, o.notifier, kind, deal.ID, deal.AdvertiserUserID, o.ownerOf(ctx, deal))
}

// CompleteBudgetExhausted settles a click deal whose spend reached its budget.
func (o *Orchestrator) CompleteBudgetExhausted(ctx context.Context, deal *models.Deal) error {
	if deal.Status != models.DealStatusPosted {
		return nil
	}
	o.registry.Cancel(deal.ID)
	o.complete(ctx, deal)
	return nil
}

// ResumePostedDeals restores monitoring after a restart. Deals already past their deadline are
// probed once and settled right away; deals stranded in verified are released and deals still
// held are posted, or refunded when posting fails.
func (o *Orchestrator) ResumePostedDeals(ctx context.Context) error {
	held, err := o.deals.ListByStatus(ctx, models.DealStatusHeld)
	if err != nil {
		return err
	}
	verified, err := o.deals.ListByStatus(ctx, models.DealStatusVerified)
	if err != nil {
		return err
	}
	posted, err := o.deals.ListByStatus(ctx, models.DealStatusPosted)
	if err != nil {
		return err
	}

	var due []uuid.UUID
	for i := range posted {
		deal := &posted[i]
		if o.fulfilled(deal) {
			due = append(due, deal.ID)
			continue
		}
		o.startMonitoring(deal)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ResumeConcurrency)
	for i := range verified {
		deal := verified[i]
		g.Go(func() error {
			o.log.Info("releasing deal stranded in verified", zap.String("deal_id", deal.ID.String()))
			o.release(gctx, &deal)
			return nil
		})
	}
	for _, id := range due {
		g.Go(func() error {
			o.CheckDeal(gctx, id)
			return nil
		})
	}
	for i := range held {
		id := held[i].ID
		g.Go(func() error {
			if err := o.AutoPostDeal(gctx, id); err != nil {
				o.log.Error("auto post of held deal failed", zap.String("deal_id", id.String()), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	o.log.Info("posted deals resumed",
		zap.Int("monitored", len(posted)-len(due)),
		zap.Int("settled", len(due)),
		zap.Int("recovered", len(verified)),
		zap.Int("held", len(held)),
	)
	return nil
}

func (o *Orchestrator) ownerOf(ctx context.Context, deal *models.Deal) uuid.UUID {
	ch, err := o.channels.GetByID(ctx, deal.ChannelID)
	if err != nil {
		o.log.Warn("channel owner lookup failed", zap.String("deal_id", deal.ID.String()), zap.Error(err))
		return uuid.Nil
	}
	return ch.OwnerUserID
}

// logSkip logs losing a status race at info level and anything else as an error.
func logSkip(log *zap.Logger, op string, err error) {
	if errors.Is(err, models.ErrConcurrentModification) {
		log.Info(op+" skipped, deal changed concurrently", zap.Error(err))
		return
	}
	log.Error(op+" failed", zap.Error(err))
}
