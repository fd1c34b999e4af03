package handlers

import (
	"context"
	"strconv"

	"github.com/ads-marketplace/deal-engine/internal/http/dto"
	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/ads-marketplace/deal-engine/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DealEngine is the part of services.DealService the internal API exposes.
type DealEngine interface {
	CreateDeal(ctx context.Context, in services.CreateDealInput) (*models.Deal, error)
	GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	Transactions(ctx context.Context, id uuid.UUID) ([]models.Transaction, error)
	Earning(ctx context.Context, id uuid.UUID) (*models.OwnerEarning, error)
	History(ctx context.Context, id uuid.UUID, limit, offset int) ([]models.AuditLog, error)
	TransitionDeal(ctx context.Context, id uuid.UUID, from, to string, reason *string, actorID *uuid.UUID) (*models.Deal, error)
	HoldEscrow(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Deal, error)
	ReleaseEscrow(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Deal, error)
	RefundEscrow(ctx context.Context, id uuid.UUID, from string) (*models.Deal, error)
	RequestAutoPost(ctx context.Context, id uuid.UUID) error
}

type DealHandler struct {
	deals DealEngine
	log   *zap.Logger
}

func NewDealHandler(deals DealEngine, log *zap.Logger) *DealHandler {
	return &DealHandler{deals: deals, log: log}
}

func (h *DealHandler) CreateDeal(c *fiber.Ctx) error {
	var req dto.CreateDealRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	advertiserID, err := uuid.Parse(req.AdvertiserUserID)
	if err != nil {
		return badRequest(c, "invalid advertiser_user_id")
	}
	channelID, err := uuid.Parse(req.ChannelID)
	if err != nil {
		return badRequest(c, "invalid channel_id")
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		return badRequest(c, "invalid price")
	}
	budget, err := parseAmount(req.Budget)
	if err != nil {
		return badRequest(c, "invalid budget")
	}

	deal, err := h.deals.CreateDeal(c.UserContext(), services.CreateDealInput{
		AdvertiserUserID: advertiserID,
		ChannelID:        channelID,
		PricingMode:      req.PricingMode,
		Price:            price,
		DurationSeconds:  req.DurationSeconds,
		Budget:           budget,
		Creative: models.Creative{
			Text:        req.Creative.Text,
			ImageRef:    req.Creative.ImageRef,
			LinkURL:     req.Creative.LinkURL,
			ButtonLabel: req.Creative.ButtonLabel,
		},
	})
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	deal, err := h.deals.GetDeal(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) GetTransactions(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	txs, err := h.deals.Transactions(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if txs == nil {
		txs = []models.Transaction{}
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: txs})
}

func (h *DealHandler) GetEarning(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	earning, err := h.deals.Earning(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: earning})
}

func (h *DealHandler) GetHistory(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	logs, err := h.deals.History(c.UserContext(), id, limit, offset)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func (h *DealHandler) Transition(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil || req.From == "" || req.To == "" {
		return badRequest(c, "from and to are required")
	}

	var actorID *uuid.UUID
	if req.ActorUserID != nil {
		parsed, err := uuid.Parse(*req.ActorUserID)
		if err != nil {
			return badRequest(c, "invalid actor_user_id")
		}
		actorID = &parsed
	}

	deal, err := h.deals.TransitionDeal(c.UserContext(), id, req.From, req.To, req.Reason, actorID)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) Hold(c *fiber.Ctx) error {
	return h.moveFunds(c, h.deals.HoldEscrow)
}

func (h *DealHandler) Release(c *fiber.Ctx) error {
	return h.moveFunds(c, h.deals.ReleaseEscrow)
}

func (h *DealHandler) moveFunds(c *fiber.Ctx, op func(context.Context, uuid.UUID, decimal.Decimal) (*models.Deal, error)) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	var req dto.AmountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	amount, err := parseAmount(&req.Amount)
	if err != nil || amount == nil {
		return badRequest(c, "amount is required")
	}

	deal, err := op(c.UserContext(), id, *amount)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) Refund(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	var req dto.RefundRequest
	if err := c.BodyParser(&req); err != nil || req.From == "" {
		return badRequest(c, "from is required")
	}

	deal, err := h.deals.RefundEscrow(c.UserContext(), id, req.From)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) AutoPost(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	if err := h.deals.RequestAutoPost(c.UserContext(), id); err != nil {
		return writeError(c, h.log, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(dto.SuccessResponse{OK: true})
}
