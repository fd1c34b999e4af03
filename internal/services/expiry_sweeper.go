package services

import (
	"context"
	"time"

	"github.com/ads-marketplace/deal-engine/internal/metrics"
	"github.com/ads-marketplace/deal-engine/internal/models"
	"go.uber.org/zap"
)

const approvalTimeoutReason = "channel owner did not respond in time"

// ExpirySweeper ends deals that waited too long for payment or approval.
type ExpirySweeper struct {
	deals           DealStore
	ledger          *EscrowLedger
	notifier        Notifier
	metrics         *metrics.Metrics
	paymentTimeout  time.Duration
	approvalTimeout time.Duration
	now             func() time.Time
	log             *zap.Logger
}

func NewExpirySweeper(
	deals DealStore,
	ledger *EscrowLedger,
	notifier Notifier,
	m *metrics.Metrics,
	paymentTimeout, approvalTimeout time.Duration,
	log *zap.Logger,
) *ExpirySweeper {
	return &ExpirySweeper{
		deals:           deals,
		ledger:          ledger,
		notifier:        notifier,
		metrics:         m,
		paymentTimeout:  paymentTimeout,
		approvalTimeout: approvalTimeout,
		now:             time.Now,
		log:             log,
	}
}

// Sweep never touches held or posted deals; those belong to the orchestrator.
func (s *ExpirySweeper) Sweep(ctx context.Context) error {
	start := time.Now()
	defer func() {
		s.metrics.JobDuration.WithLabelValues("expiry_sweep").Observe(time.Since(start).Seconds())
	}()

	reason := approvalTimeoutReason
	rules := []struct {
		from    string
		to      string
		timeout time.Duration
		patch   models.DealPatch
		kind    string
	}{
		{models.DealStatusApproved, models.DealStatusExpired, s.paymentTimeout, models.DealPatch{}, NotifyDealExpired},
		{models.DealStatusPendingApproval, models.DealStatusRejected, s.approvalTimeout, models.DealPatch{RejectionReason: &reason}, NotifyDealRejected},
	}

	now := s.now()
	for _, rule := range rules {
		deals, err := s.deals.ListStale(ctx, rule.from, now.Add(-rule.timeout))
		if err != nil {
			return err
		}

		for _, deal := range deals {
			log := s.log.With(zap.String("deal_id", deal.ID.String()), zap.String("status", deal.Status))
			if _, err := s.ledger.Transition(ctx, deal.ID, rule.from, rule.to, rule.patch); err != nil {
				logSkip(log, "expire", err)
				continue
			}
			s.metrics.SweptDeals.WithLabelValues(rule.to).Inc()
			log.Info("timed out deal closed", zap.String("new_status", rule.to))
			notifyAll(ctx, s.notifier, rule.kind, deal.ID, deal.AdvertiserUserID)
		}
	}
	return nil
}
