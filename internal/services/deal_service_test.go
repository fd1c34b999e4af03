package services

import (
	"context"
	"testing"
	"time"

	"github.com/ads-marketplace/deal-engine/internal/events"
	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestCreateDeal(t *testing.T) {
	link := "https://example.com/offer"

	tests := []struct {
		name       string
		in         func(h *harness) CreateDealInput
		wantErr    error
		wantEscrow string
	}{
		{
			name: "time deal uses channel price",
			in: func(h *harness) CreateDealInput {
				return CreateDealInput{
					ChannelID:       h.channel.ID,
					Creative:        models.Creative{Text: "hello"},
					PricingMode:     models.PricingModeTime,
					DurationSeconds: 3600,
				}
			},
			wantEscrow: "50",
		},
		{
			name: "time deal with negotiated price",
			in: func(h *harness) CreateDealInput {
				return CreateDealInput{
					ChannelID:       h.channel.ID,
					Creative:        models.Creative{Text: "hello"},
					PricingMode:     models.PricingModeTime,
					Price:           dec("75.5"),
					DurationSeconds: 3600,
				}
			},
			wantEscrow: "75.5",
		},
		{
			name: "click deal",
			in: func(h *harness) CreateDealInput {
				return CreateDealInput{
					ChannelID:   h.channel.ID,
					Creative:    models.Creative{Text: "hello", LinkURL: &link},
					PricingMode: models.PricingModeClick,
					Budget:      dec("25"),
				}
			},
			wantEscrow: "25",
		},
		{
			name: "unknown pricing mode",
			in: func(h *harness) CreateDealInput {
				return CreateDealInput{ChannelID: h.channel.ID, Creative: models.Creative{Text: "hello"}, PricingMode: "cpm"}
			},
			wantErr: models.ErrInvalidDeal,
		},
		{
			name: "empty creative",
			in: func(h *harness) CreateDealInput {
				return CreateDealInput{ChannelID: h.channel.ID, Creative: models.Creative{Text: "  "}, PricingMode: models.PricingModeTime, DurationSeconds: 60}
			},
			wantErr: models.ErrInvalidDeal,
		},
		{
			name: "time deal without duration",
			in: func(h *harness) CreateDealInput {
				return CreateDealInput{ChannelID: h.channel.ID, Creative: models.Creative{Text: "hello"}, PricingMode: models.PricingModeTime}
			},
			wantErr: models.ErrInvalidDeal,
		},
		{
			name: "click budget below one click",
			in: func(h *harness) CreateDealInput {
				return CreateDealInput{
					ChannelID:   h.channel.ID,
					Creative:    models.Creative{Text: "hello", LinkURL: &link},
					PricingMode: models.PricingModeClick,
					Budget:      dec("0.5"),
				}
			},
			wantErr: models.ErrInvalidDeal,
		},
		{
			name: "click deal without link",
			in: func(h *harness) CreateDealInput {
				return CreateDealInput{
					ChannelID:   h.channel.ID,
					Creative:    models.Creative{Text: "hello"},
					PricingMode: models.PricingModeClick,
					Budget:      dec("25"),
				}
			},
			wantErr: models.ErrInvalidDeal,
		},
		{
			name: "unknown channel",
			in: func(h *harness) CreateDealInput {
				return CreateDealInput{ChannelID: uuid.New(), Creative: models.Creative{Text: "hello"}, PricingMode: models.PricingModeTime, DurationSeconds: 60}
			},
			wantErr: models.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			in := tt.in(h)
			in.AdvertiserUserID = uuid.New()

			deal, err := h.service.CreateDeal(context.Background(), in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, h.store.deals)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.DealStatusCreated, deal.Status)
			assert.Equal(t, tt.wantEscrow, deal.EscrowAmount().String())

			require.Len(t, h.store.audit, 1)
			assert.Equal(t, "deal_created", h.store.audit[0].Action)
		})
	}
}

func TestCreateClickDealSnapshotsPrice(t *testing.T) {
	h := newHarness(t)
	link := "https://example.com/offer"

	deal, err := h.service.CreateDeal(context.Background(), CreateDealInput{
		AdvertiserUserID: uuid.New(),
		ChannelID:        h.channel.ID,
		Creative:         models.Creative{Text: "hello", LinkURL: &link},
		PricingMode:      models.PricingModeClick,
		Budget:           dec("10"),
	})
	require.NoError(t, err)

	h.store.mu.Lock()
	*h.channel.PricePerClick = decimal.NewFromInt(5)
	h.store.mu.Unlock()

	got, err := h.service.GetDeal(context.Background(), deal.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ClickPrice)
	assert.Equal(t, "1", got.ClickPrice.String())
}

func TestCreateDealOnInactiveChannel(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.channels.Deactivate(context.Background(), h.channel.ID))

	_, err := h.service.CreateDeal(context.Background(), CreateDealInput{
		AdvertiserUserID: uuid.New(),
		ChannelID:        h.channel.ID,
		Creative:         models.Creative{Text: "hello"},
		PricingMode:      models.PricingModeTime,
		DurationSeconds:  60,
	})
	require.ErrorIs(t, err, models.ErrInvalidDeal)
}

func TestTransitionDealRecordsReasonAndActor(t *testing.T) {
	h := newHarness(t)
	d := h.seedDeal(models.DealStatusPendingApproval, models.PricingModeTime, decimal.NewFromInt(50), time.Hour)
	owner := h.channel.OwnerUserID
	reason := "off-topic"

	got, err := h.service.TransitionDeal(context.Background(), d.ID, models.DealStatusPendingApproval, models.DealStatusRejected, &reason, &owner)
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusRejected, got.Status)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, reason, *got.RejectionReason)

	require.Len(t, h.store.audit, 1)
	require.NotNil(t, h.store.audit[0].ActorUserID)
	assert.Equal(t, owner, *h.store.audit[0].ActorUserID)
}

func TestEscrowLifecycleThroughService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.seedDeal(models.DealStatusApproved, models.PricingModeTime, decimal.NewFromInt(50), time.Hour)

	_, err := h.service.HoldEscrow(ctx, d.ID, decimal.NewFromInt(50))
	require.NoError(t, err)
	_, err = h.service.ReleaseEscrow(ctx, d.ID, decimal.NewFromInt(50))
	require.ErrorIs(t, err, models.ErrInvalidTransition, "release needs verified")
	_, err = h.service.RefundEscrow(ctx, d.ID, models.DealStatusHeld)
	require.NoError(t, err)

	txs, err := h.service.Transactions(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, models.TransactionTypeHold, txs[0].Type)
	assert.Equal(t, models.TransactionTypeRefund, txs[1].Type)

	_, err = h.service.Transactions(ctx, uuid.New())
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestRequestAutoPost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	approved := h.seedDeal(models.DealStatusApproved, models.PricingModeTime, decimal.NewFromInt(50), time.Hour)
	err := h.service.RequestAutoPost(ctx, approved.ID)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Empty(t, h.publisher.events)

	held := h.seedDeal(models.DealStatusHeld, models.PricingModeTime, decimal.NewFromInt(50), time.Hour)
	require.NoError(t, h.service.RequestAutoPost(ctx, held.ID))
	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, events.EventAutoPostRequested, h.publisher.events[0].Type)
	assert.Equal(t, held.ID.String(), h.publisher.events[0].PayloadString("deal_id"))
}

func TestEarningAndHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.seedDeal(models.DealStatusVerified, models.PricingModeTime, decimal.NewFromInt(200), time.Hour)

	_, err := h.service.Earning(ctx, d.ID)
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = h.service.ReleaseEscrow(ctx, d.ID, decimal.NewFromInt(200))
	require.NoError(t, err)

	earning, err := h.service.Earning(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "180", earning.NetAmount.String())
	assert.Equal(t, "20", earning.PlatformFee.String())

	history, err := h.service.History(ctx, d.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "deal_status_verified_to_completed", history[0].Action)

	_, err = h.service.History(ctx, uuid.New(), 10, 0)
	require.ErrorIs(t, err, models.ErrNotFound)
}
