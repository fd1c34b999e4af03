package services

import (
	"context"
	"strings"

	"github.com/ads-marketplace/deal-engine/internal/events"
	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CreateDealInput struct {
	AdvertiserUserID uuid.UUID
	ChannelID        uuid.UUID
	Creative         models.Creative
	PricingMode      string
	Price            *decimal.Decimal // time mode; defaults to the channel price
	DurationSeconds  int              // time mode duration, optional run cap in click mode
	Budget           *decimal.Decimal // click mode
}

// DealService is the entry point of the API process into the engine.
type DealService struct {
	deals     DealStore
	channels  ChannelStore
	ledger    *EscrowLedger
	audit     AuditStore
	publisher events.Publisher
	log       *zap.Logger
}

func NewDealService(
	deals DealStore,
	channels ChannelStore,
	ledger *EscrowLedger,
	audit AuditStore,
	publisher events.Publisher,
	log *zap.Logger,
) *DealService {
	return &DealService{
		deals:     deals,
		channels:  channels,
		ledger:    ledger,
		audit:     audit,
		publisher: publisher,
		log:       log,
	}
}

func (s *DealService) CreateDeal(ctx context.Context, in CreateDealInput) (*models.Deal, error) {
	if !models.IsValidPricingMode(in.PricingMode) {
		return nil, errors.Wrapf(models.ErrInvalidDeal, "unknown pricing mode %q", in.PricingMode)
	}
	if strings.TrimSpace(in.Creative.Text) == "" {
		return nil, errors.Wrap(models.ErrInvalidDeal, "creative text is required")
	}
	if in.DurationSeconds < 0 {
		return nil, errors.Wrap(models.ErrInvalidDeal, "duration must not be negative")
	}

	ch, err := s.channels.GetByID(ctx, in.ChannelID)
	if err != nil {
		return nil, err
	}
	if !ch.IsActive {
		return nil, errors.Wrapf(models.ErrInvalidDeal, "channel %s is not active", ch.ID)
	}

	deal := &models.Deal{
		ChannelID:        in.ChannelID,
		AdvertiserUserID: in.AdvertiserUserID,
		Creative:         in.Creative,
		PricingMode:      in.PricingMode,
		DurationSeconds:  in.DurationSeconds,
		Status:           models.DealStatusCreated,
	}

	switch in.PricingMode {
	case models.PricingModeTime:
		price := in.Price
		if price == nil || price.IsZero() {
			price = ch.PricePerDuration
		}
		if price == nil || !price.IsPositive() {
			return nil, errors.Wrap(models.ErrInvalidDeal, "no price for time-based deal")
		}
		if in.DurationSeconds == 0 {
			return nil, errors.Wrap(models.ErrInvalidDeal, "duration is required for time-based deal")
		}
		deal.Price = price
	case models.PricingModeClick:
		if ch.PricePerClick == nil || !ch.PricePerClick.IsPositive() {
			return nil, errors.Wrapf(models.ErrInvalidDeal, "channel %s does not sell clicks", ch.ID)
		}
		if in.Budget == nil || in.Budget.LessThan(*ch.PricePerClick) {
			return nil, errors.Wrap(models.ErrInvalidDeal, "budget must cover at least one click")
		}
		if in.Creative.LinkURL == nil || *in.Creative.LinkURL == "" {
			return nil, errors.Wrap(models.ErrInvalidDeal, "click-based deal needs a link")
		}
		clickPrice := *ch.PricePerClick
		deal.Budget = in.Budget
		deal.ClickPrice = &clickPrice
	}

	if err := s.deals.Create(ctx, deal); err != nil {
		return nil, err
	}

	if err := s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &in.AdvertiserUserID,
		ActorType:   models.ActorTypeUser,
		Action:      "deal_created",
		EntityType:  "deal",
		EntityID:    &deal.ID,
		Meta:        map[string]any{"pricing_mode": deal.PricingMode, "escrow": deal.EscrowAmount().String()},
	}); err != nil {
		s.log.Warn("failed to write audit entry", zap.String("deal_id", deal.ID.String()), zap.Error(err))
	}

	return deal, nil
}

func (s *DealService) GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	return s.deals.GetByID(ctx, id)
}

func (s *DealService) Transactions(ctx context.Context, id uuid.UUID) ([]models.Transaction, error) {
	if _, err := s.deals.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.ledger.Transactions(ctx, id)
}

// Earning is the owner's share of a completed deal.
func (s *DealService) Earning(ctx context.Context, id uuid.UUID) (*models.OwnerEarning, error) {
	return s.ledger.Earning(ctx, id)
}

// History lists the deal's audit trail, newest first.
func (s *DealService) History(ctx context.Context, id uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if _, err := s.deals.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.GetByEntity(ctx, "deal", id, limit, offset)
}

// TransitionDeal applies a non-monetary transition requested by a user or an external workflow.
func (s *DealService) TransitionDeal(ctx context.Context, id uuid.UUID, from, to string, reason *string, actorID *uuid.UUID) (*models.Deal, error) {
	if actorID != nil {
		ctx = WithActor(ctx, *actorID)
	}
	var patch models.DealPatch
	if to == models.DealStatusRejected {
		patch.RejectionReason = reason
	}
	return s.ledger.Transition(ctx, id, from, to, patch)
}

func (s *DealService) HoldEscrow(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Deal, error) {
	return s.ledger.Hold(ctx, id, amount)
}

func (s *DealService) ReleaseEscrow(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Deal, error) {
	return s.ledger.Release(ctx, id, amount)
}

func (s *DealService) RefundEscrow(ctx context.Context, id uuid.UUID, from string) (*models.Deal, error) {
	return s.ledger.Refund(ctx, id, from)
}

// RequestAutoPost asks the worker to publish a held deal.
func (s *DealService) RequestAutoPost(ctx context.Context, id uuid.UUID) error {
	deal, err := s.deals.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if deal.Status != models.DealStatusHeld {
		return &models.InvalidTransitionError{From: deal.Status, To: models.DealStatusPosted}
	}
	return s.publisher.Publish(ctx, events.StreamDeal, events.Event{
		Type:    events.EventAutoPostRequested,
		Payload: map[string]any{"deal_id": id.String()},
	})
}
