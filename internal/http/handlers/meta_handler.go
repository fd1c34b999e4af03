package handlers

import (
	"github.com/ads-marketplace/deal-engine/internal/http/dto"
	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/gofiber/fiber/v2"
)

type MetaHandler struct{}

func NewMetaHandler() *MetaHandler {
	return &MetaHandler{}
}

type MetaPricingMode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

var pricingModes = []MetaPricingMode{
	{ID: models.PricingModeTime, Label: "Fixed duration"},
	{ID: models.PricingModeClick, Label: "Pay per click"},
}

func statusTable() []dto.StatusInfo {
	out := make([]dto.StatusInfo, 0, len(models.AllDealStatuses))
	for _, s := range models.AllDealStatuses {
		next := append([]string{}, models.ValidDealTransitions[s]...)
		out = append(out, dto.StatusInfo{
			Status:   s,
			Terminal: models.IsTerminalStatus(s),
			Next:     next,
		})
	}
	return out
}

func (h *MetaHandler) GetStatuses(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: statusTable()})
}

func (h *MetaHandler) GetPricingModes(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: pricingModes})
}
