package services

import (
	"context"
	"testing"

	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNormalizeUsername(t *testing.T) {
	tests := map[string]string{
		"@CryptoNews":               "cryptonews",
		"cryptonews":                "cryptonews",
		" https://t.me/CryptoNews ": "cryptonews",
		"t.me/cryptonews/42":        "cryptonews",
		"http://t.me/cryptonews":    "cryptonews",
		"":                          "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeUsername(in), in)
	}
}

func TestRegisterChannel(t *testing.T) {
	h := newHarness(t)
	svc := NewChannelService(h.channels, h.platform, h.store, zap.NewNop())
	owner := uuid.New()
	price := decimal.NewFromInt(30)

	ch, err := svc.RegisterChannel(context.Background(), RegisterChannelInput{
		OwnerUserID:      owner,
		Username:         "@NewChannel",
		PricePerDuration: &price,
	})
	require.NoError(t, err)
	assert.Equal(t, "newchannel", ch.ExternalRef)
	assert.True(t, ch.IsActive)
	assert.True(t, ch.CanPost)

	got, err := svc.GetChannel(context.Background(), ch.ID)
	require.NoError(t, err)
	assert.Equal(t, owner, got.OwnerUserID)

	require.Len(t, h.store.audit, 1)
	assert.Equal(t, "channel_registered", h.store.audit[0].Action)

	// registering again updates the same channel
	h.platform.rights = []models.PostingRights{models.PostingRightsRevoked}
	again, err := svc.RegisterChannel(context.Background(), RegisterChannelInput{OwnerUserID: owner, Username: "newchannel"})
	require.NoError(t, err)
	assert.Equal(t, ch.ID, again.ID)
	assert.False(t, again.CanPost)
}

func TestRegisterChannelValidation(t *testing.T) {
	h := newHarness(t)
	svc := NewChannelService(h.channels, h.platform, h.store, zap.NewNop())
	negative := decimal.NewFromInt(-1)

	_, err := svc.RegisterChannel(context.Background(), RegisterChannelInput{Username: "@"})
	require.ErrorIs(t, err, models.ErrInvalidDeal)

	_, err = svc.RegisterChannel(context.Background(), RegisterChannelInput{Username: "ok", PricePerClick: &negative})
	require.ErrorIs(t, err, models.ErrInvalidAmount)
}
