package handlers

import (
	"context"

	"github.com/ads-marketplace/deal-engine/internal/http/dto"
	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/ads-marketplace/deal-engine/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ChannelRegistrar interface {
	RegisterChannel(ctx context.Context, in services.RegisterChannelInput) (*models.Channel, error)
	GetChannel(ctx context.Context, id uuid.UUID) (*models.Channel, error)
}

type ChannelHandler struct {
	channels ChannelRegistrar
	log      *zap.Logger
}

func NewChannelHandler(channels ChannelRegistrar, log *zap.Logger) *ChannelHandler {
	return &ChannelHandler{channels: channels, log: log}
}

func (h *ChannelHandler) RegisterChannel(c *fiber.Ctx) error {
	var req dto.RegisterChannelRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Username == "" {
		return badRequest(c, "username is required")
	}

	ownerID, err := uuid.Parse(req.OwnerUserID)
	if err != nil {
		return badRequest(c, "invalid owner_user_id")
	}
	perDuration, err := parseAmount(req.PricePerDuration)
	if err != nil {
		return badRequest(c, "invalid price_per_duration")
	}
	perClick, err := parseAmount(req.PricePerClick)
	if err != nil {
		return badRequest(c, "invalid price_per_click")
	}

	ch, err := h.channels.RegisterChannel(c.UserContext(), services.RegisterChannelInput{
		OwnerUserID:      ownerID,
		Username:         req.Username,
		Title:            req.Title,
		PricePerDuration: perDuration,
		PricePerClick:    perClick,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: ch})
}

func (h *ChannelHandler) GetChannel(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid channel id")
	}

	ch, err := h.channels.GetChannel(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: ch})
}
