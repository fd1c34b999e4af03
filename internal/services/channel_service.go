package services

import (
	"context"
	"strings"

	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ChannelRegistry is the channel store plus registration.
type ChannelRegistry interface {
	ChannelStore
	Create(ctx context.Context, ch *models.Channel) error
}

type RegisterChannelInput struct {
	OwnerUserID      uuid.UUID
	Username         string
	Title            *string
	PricePerDuration *decimal.Decimal
	PricePerClick    *decimal.Decimal
}

type ChannelService struct {
	channels ChannelRegistry
	platform ChannelPlatform
	audit    AuditStore
	log      *zap.Logger
}

func NewChannelService(channels ChannelRegistry, platform ChannelPlatform, audit AuditStore, log *zap.Logger) *ChannelService {
	return &ChannelService{
		channels: channels,
		platform: platform,
		audit:    audit,
		log:      log,
	}
}

// NormalizeUsername accepts "@name", "t.me/name" and "https://t.me/name".
func NormalizeUsername(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "t.me/")
	s = strings.TrimPrefix(s, "@")
	s, _, _ = strings.Cut(s, "/")
	return strings.ToLower(s)
}

// RegisterChannel upserts a channel and records whether the bot may post to it right now.
func (s *ChannelService) RegisterChannel(ctx context.Context, in RegisterChannelInput) (*models.Channel, error) {
	username := NormalizeUsername(in.Username)
	if username == "" {
		return nil, errors.Wrap(models.ErrInvalidDeal, "channel username is required")
	}
	for _, p := range []*decimal.Decimal{in.PricePerDuration, in.PricePerClick} {
		if p != nil && p.IsNegative() {
			return nil, errors.Wrap(models.ErrInvalidAmount, "channel prices must not be negative")
		}
	}

	ch := &models.Channel{
		OwnerUserID:      in.OwnerUserID,
		ExternalRef:      username,
		Title:            in.Title,
		IsActive:         true,
		ApprovalStatus:   models.ChannelApprovalApproved,
		PricePerDuration: in.PricePerDuration,
		PricePerClick:    in.PricePerClick,
	}

	rights, err := s.platform.CheckPostingRights(ctx, ch)
	if err != nil {
		s.log.Warn("posting rights check failed during registration", zap.String("channel", username), zap.Error(err))
	}
	ch.CanPost = rights == models.PostingRightsGranted

	if err := s.channels.Create(ctx, ch); err != nil {
		return nil, err
	}

	if err := s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &in.OwnerUserID,
		ActorType:   models.ActorTypeUser,
		Action:      "channel_registered",
		EntityType:  "channel",
		EntityID:    &ch.ID,
		Meta:        map[string]any{"external_ref": username, "can_post": ch.CanPost},
	}); err != nil {
		s.log.Warn("failed to write audit entry", zap.String("channel_id", ch.ID.String()), zap.Error(err))
	}
	return ch, nil
}

func (s *ChannelService) GetChannel(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	return s.channels.GetByID(ctx, id)
}
