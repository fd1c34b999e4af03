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

type ClickTracker interface {
	TrackClick(ctx context.Context, dealID uuid.UUID, fingerprint string) (*models.Deal, error)
	UniqueVisitors(ctx context.Context, dealID uuid.UUID) (int, error)
}

type ClickHandler struct {
	clicks ClickTracker
	deals  DealEngine
	log    *zap.Logger
}

func NewClickHandler(clicks ClickTracker, deals DealEngine, log *zap.Logger) *ClickHandler {
	return &ClickHandler{clicks: clicks, deals: deals, log: log}
}

// Redirect records the visit and sends the visitor on to the creative link.
func (h *ClickHandler) Redirect(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.SendStatus(fiber.StatusNotFound)
	}

	fp := services.VisitorFingerprint(c.IP(), c.Get(fiber.HeaderUserAgent), c.Get(fiber.HeaderAcceptLanguage))
	deal, err := h.clicks.TrackClick(c.UserContext(), id, fp)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if deal.Creative.LinkURL == nil || *deal.Creative.LinkURL == "" {
		return c.SendStatus(fiber.StatusNotFound)
	}

	return c.Redirect(*deal.Creative.LinkURL, fiber.StatusFound)
}

func (h *ClickHandler) Stats(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	deal, err := h.deals.GetDeal(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	visitors, err := h.clicks.UniqueVisitors(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}

	resp := dto.ClickStatsResponse{
		DealID:         deal.ID.String(),
		UniqueVisitors: visitors,
		ChargedClicks:  deal.ClickCount,
		Spent:          deal.Spent.String(),
	}
	if deal.Budget != nil {
		resp.Budget = deal.Budget.String()
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: resp})
}
