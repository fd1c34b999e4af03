package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ads-marketplace/deal-engine/internal/metrics"
	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BudgetCompleter settles click deals whose budget ran out.
type BudgetCompleter interface {
	CompleteBudgetExhausted(ctx context.Context, deal *models.Deal) error
}

type ClickMeter struct {
	clicks    ClickStore
	deals     DealStore
	completer BudgetCompleter
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewClickMeter(clicks ClickStore, deals DealStore, completer BudgetCompleter, m *metrics.Metrics, log *zap.Logger) *ClickMeter {
	return &ClickMeter{
		clicks:    clicks,
		deals:     deals,
		completer: completer,
		metrics:   m,
		log:       log,
	}
}

// VisitorFingerprint identifies a visitor from request traits without storing them.
func VisitorFingerprint(ip, userAgent, acceptLanguage string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(ip)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(userAgent)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(acceptLanguage)))
	return hex.EncodeToString(h.Sum(nil))
}

// RecordVisitorClick reports whether this is the visitor's first click on the deal.
func (m *ClickMeter) RecordVisitorClick(ctx context.Context, dealID uuid.UUID, fingerprint string) (bool, error) {
	isNew, err := m.clicks.RecordClick(ctx, dealID, fingerprint)
	if err != nil {
		return false, err
	}
	if !isNew {
		m.metrics.Clicks.WithLabelValues("duplicate").Inc()
	}
	return isNew, nil
}

// SpendClick charges one click. Returns nil, nil when the deal is not a posted click deal or
// its budget is already spent.
func (m *ClickMeter) SpendClick(ctx context.Context, dealID uuid.UUID, unitPrice decimal.Decimal) (*models.Deal, error) {
	deal, err := m.deals.SpendClick(ctx, dealID, unitPrice)
	if err != nil {
		return nil, err
	}
	if deal == nil {
		m.metrics.Clicks.WithLabelValues("not_spendable").Inc()
		return nil, nil
	}
	m.metrics.Clicks.WithLabelValues("spent").Inc()
	return deal, nil
}

// UniqueVisitors counts distinct visitors of the deal's link, charged or not.
func (m *ClickMeter) UniqueVisitors(ctx context.Context, dealID uuid.UUID) (int, error) {
	return m.clicks.CountClicks(ctx, dealID)
}

// TrackClick records a visit and, for click deals, charges it and settles the deal once the
// budget is exhausted. The returned deal carries the creative link to redirect to.
func (m *ClickMeter) TrackClick(ctx context.Context, dealID uuid.UUID, fingerprint string) (*models.Deal, error) {
	deal, err := m.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}

	isNew, err := m.RecordVisitorClick(ctx, dealID, fingerprint)
	if err != nil {
		return nil, err
	}
	if !isNew || !deal.IsClickMode() || deal.ClickPrice == nil {
		return deal, nil
	}

	spent, err := m.SpendClick(ctx, dealID, *deal.ClickPrice)
	if err != nil {
		return nil, err
	}
	if spent == nil {
		return deal, nil
	}

	if spent.BudgetExhausted() {
		m.log.Info("click budget exhausted",
			zap.String("deal_id", dealID.String()),
			zap.String("spent", spent.Spent.String()),
			zap.Int("clicks", spent.ClickCount),
		)
		if err := m.completer.CompleteBudgetExhausted(ctx, spent); err != nil {
			m.log.Error("budget completion failed", zap.String("deal_id", dealID.String()), zap.Error(err))
		}
	}
	return spent, nil
}
