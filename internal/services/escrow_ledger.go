package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ads-marketplace/deal-engine/internal/config"
	"github.com/ads-marketplace/deal-engine/internal/events"
	"github.com/ads-marketplace/deal-engine/internal/metrics"
	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type actorKey struct{}

// WithActor attributes transitions made with ctx to a user in the audit log.
func WithActor(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

func actorFrom(ctx context.Context) (*uuid.UUID, string) {
	if id, ok := ctx.Value(actorKey{}).(uuid.UUID); ok {
		return &id, models.ActorTypeUser
	}
	return nil, models.ActorTypeSystem
}

// moneyMoving statuses can only be entered through Hold, Release or Refund.
var moneyMoving = map[string]bool{
	models.DealStatusHeld:      true,
	models.DealStatusCompleted: true,
	models.DealStatusRefunded:  true,
}

// EscrowLedger is the single writer of deal status and ledger entries.
type EscrowLedger struct {
	deals     DealStore
	ledger    LedgerStore
	channels  ChannelStore
	audit     AuditStore
	publisher events.Publisher
	fees      *FeeSchedule
	overshoot string
	metrics   *metrics.Metrics
	now       func() time.Time
	log       *zap.Logger
}

func NewEscrowLedger(
	deals DealStore,
	ledger LedgerStore,
	channels ChannelStore,
	audit AuditStore,
	publisher events.Publisher,
	fees *FeeSchedule,
	overshoot string,
	m *metrics.Metrics,
	log *zap.Logger,
) *EscrowLedger {
	return &EscrowLedger{
		deals:     deals,
		ledger:    ledger,
		channels:  channels,
		audit:     audit,
		publisher: publisher,
		fees:      fees,
		overshoot: overshoot,
		metrics:   m,
		now:       time.Now,
		log:       log,
	}
}

// Transition applies a status change that moves no funds.
func (l *EscrowLedger) Transition(ctx context.Context, dealID uuid.UUID, from, to string, patch models.DealPatch) (*models.Deal, error) {
	if moneyMoving[to] {
		return nil, errors.Wrapf(models.ErrInvalidTransition, "transition to %s must go through the escrow ledger", to)
	}
	if err := models.AssertTransition(from, to); err != nil {
		return nil, err
	}
	return l.apply(ctx, dealID, from, to, patch, nil)
}

// Hold moves an approved deal into escrow. amount must equal the deal's escrow amount.
func (l *EscrowLedger) Hold(ctx context.Context, dealID uuid.UUID, amount decimal.Decimal) (*models.Deal, error) {
	deal, err := l.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if err := models.AssertTransition(deal.Status, models.DealStatusHeld); err != nil {
		return nil, err
	}
	if !amount.IsPositive() || !amount.Equal(deal.EscrowAmount()) {
		return nil, errors.Wrapf(models.ErrInvalidAmount, "hold %s, expected %s", amount, deal.EscrowAmount())
	}

	now := l.now()
	entries := []models.Transaction{{DealID: dealID, Type: models.TransactionTypeHold, Amount: amount}}
	return l.apply(ctx, dealID, deal.Status, models.DealStatusHeld, models.DealPatch{PaidAt: &now}, entries)
}

// ReleaseAmount is the price for time deals and the spend for click deals. Under the cap
// policy the click spend is limited to the budget held in escrow.
func (l *EscrowLedger) ReleaseAmount(deal *models.Deal) decimal.Decimal {
	if !deal.IsClickMode() {
		return deal.EscrowAmount()
	}
	if l.overshoot == config.OvershootActual {
		return deal.Spent
	}
	return decimal.Min(deal.Spent, deal.EscrowAmount())
}

// checkRelease accepts exactly the escrow amount for time deals. Click deals may release at
// most what was spent, and at most the escrow amount under the cap policy.
func (l *EscrowLedger) checkRelease(deal *models.Deal, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.Wrapf(models.ErrInvalidAmount, "release %s", amount)
	}
	if !deal.IsClickMode() {
		if !amount.Equal(deal.EscrowAmount()) {
			return errors.Wrapf(models.ErrInvalidAmount, "release %s, expected %s", amount, deal.EscrowAmount())
		}
		return nil
	}
	if amount.GreaterThan(deal.Spent) {
		return errors.Wrapf(models.ErrInvalidAmount, "release %s exceeds spend %s", amount, deal.Spent)
	}
	if l.overshoot != config.OvershootActual && amount.GreaterThan(deal.EscrowAmount()) {
		return errors.Wrapf(models.ErrInvalidAmount, "release %s exceeds escrow %s", amount, deal.EscrowAmount())
	}
	return nil
}

// Release completes a verified deal, paying amount to the owner. For click deals the unspent
// part of the budget is refunded in the same transaction.
func (l *EscrowLedger) Release(ctx context.Context, dealID uuid.UUID, amount decimal.Decimal) (*models.Deal, error) {
	deal, err := l.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if err := models.AssertTransition(deal.Status, models.DealStatusCompleted); err != nil {
		return nil, err
	}
	if err := l.checkRelease(deal, amount); err != nil {
		return nil, err
	}

	entries := []models.Transaction{{DealID: dealID, Type: models.TransactionTypeRelease, Amount: amount}}
	if deal.IsClickMode() {
		if rest := deal.EscrowAmount().Sub(amount); rest.IsPositive() {
			entries = append(entries, models.Transaction{DealID: dealID, Type: models.TransactionTypeRefund, Amount: rest})
		}
	}

	now := l.now()
	updated, err := l.apply(ctx, dealID, deal.Status, models.DealStatusCompleted, models.DealPatch{CompletedAt: &now}, entries)
	if err != nil {
		return nil, err
	}

	l.recordEarning(ctx, updated, amount)
	return updated, nil
}

// Refund returns the whole escrow amount to the advertiser. from is held or disputed.
func (l *EscrowLedger) Refund(ctx context.Context, dealID uuid.UUID, from string) (*models.Deal, error) {
	if err := models.AssertTransition(from, models.DealStatusRefunded); err != nil {
		return nil, err
	}
	deal, err := l.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}

	entries := []models.Transaction{{DealID: dealID, Type: models.TransactionTypeRefund, Amount: deal.EscrowAmount()}}
	return l.apply(ctx, dealID, from, models.DealStatusRefunded, models.DealPatch{}, entries)
}

func (l *EscrowLedger) Transactions(ctx context.Context, dealID uuid.UUID) ([]models.Transaction, error) {
	return l.ledger.ListTransactions(ctx, dealID)
}

func (l *EscrowLedger) Earning(ctx context.Context, dealID uuid.UUID) (*models.OwnerEarning, error) {
	return l.ledger.GetEarning(ctx, dealID)
}

func (l *EscrowLedger) apply(ctx context.Context, dealID uuid.UUID, from, to string, patch models.DealPatch, entries []models.Transaction) (*models.Deal, error) {
	deal, err := l.deals.TransitionStatus(ctx, dealID, from, to, patch, entries)
	if err != nil {
		return nil, err
	}

	l.metrics.Transitions.WithLabelValues(from, to).Inc()
	for _, e := range entries {
		l.metrics.LedgerEntries.WithLabelValues(e.Type).Inc()
	}

	actorID, actorType := actorFrom(ctx)
	meta := map[string]any{"old_status": from, "new_status": to}
	if len(entries) > 0 {
		amounts := make(map[string]string, len(entries))
		for _, e := range entries {
			amounts[e.Type] = e.Amount.String()
		}
		meta["ledger"] = amounts
	}
	if err := l.audit.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      fmt.Sprintf("deal_status_%s_to_%s", from, to),
		EntityType:  "deal",
		EntityID:    &deal.ID,
		Meta:        meta,
	}); err != nil {
		l.log.Warn("failed to write audit entry", zap.String("deal_id", dealID.String()), zap.Error(err))
	}

	if err := l.publisher.Publish(ctx, events.StreamDeal, events.Event{
		Type: events.EventDealStatusChanged,
		Payload: map[string]any{
			"deal_id":      deal.ID.String(),
			"old_status":   from,
			"new_status":   to,
			"pricing_mode": deal.PricingMode,
		},
	}); err != nil {
		l.log.Warn("failed to publish deal event", zap.String("deal_id", dealID.String()), zap.Error(err))
	}

	l.log.Info("deal transitioned",
		zap.String("deal_id", dealID.String()),
		zap.String("from", from),
		zap.String("to", to),
	)
	return deal, nil
}

// recordEarning never fails the release; a missing earning is reconciled out of band.
func (l *EscrowLedger) recordEarning(ctx context.Context, deal *models.Deal, gross decimal.Decimal) {
	if !gross.IsPositive() {
		return
	}

	ch, err := l.channels.GetByID(ctx, deal.ChannelID)
	if err != nil {
		l.log.Error("earning not recorded: channel lookup failed",
			zap.String("deal_id", deal.ID.String()),
			zap.Error(err),
		)
		return
	}

	net, fee := l.fees.Split(gross)
	created, err := l.ledger.CreateEarning(ctx, &models.OwnerEarning{
		DealID:       deal.ID,
		ChannelID:    deal.ChannelID,
		OwnerUserID:  ch.OwnerUserID,
		GrossAmount:  gross,
		PlatformFee:  fee,
		NetAmount:    net,
		PayoutStatus: models.PayoutStatusPending,
	})
	if err != nil {
		l.log.Error("earning not recorded",
			zap.String("deal_id", deal.ID.String()),
			zap.String("gross", gross.String()),
			zap.Error(err),
		)
		return
	}
	if !created {
		l.log.Warn("earning already exists", zap.String("deal_id", deal.ID.String()))
	}
}
