package services

import (
	"context"
	"time"

	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DealStore is the deal persistence the engine needs. repositories.DealRepo implements it.
type DealStore interface {
	Create(ctx context.Context, d *models.Deal) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	ListByStatus(ctx context.Context, status string) ([]models.Deal, error)
	ListStale(ctx context.Context, status string, before time.Time) ([]models.Deal, error)
	ListByChannel(ctx context.Context, channelID uuid.UUID, statuses []string) ([]models.Deal, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, patch models.DealPatch, entries []models.Transaction) (*models.Deal, error)
	SpendClick(ctx context.Context, id uuid.UUID, unitPrice decimal.Decimal) (*models.Deal, error)
}

type LedgerStore interface {
	ListTransactions(ctx context.Context, dealID uuid.UUID) ([]models.Transaction, error)
	CreateEarning(ctx context.Context, e *models.OwnerEarning) (bool, error)
	GetEarning(ctx context.Context, dealID uuid.UUID) (*models.OwnerEarning, error)
}

type ClickStore interface {
	RecordClick(ctx context.Context, dealID uuid.UUID, fingerprint string) (bool, error)
	CountClicks(ctx context.Context, dealID uuid.UUID) (int, error)
}

type ChannelStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	ListActive(ctx context.Context) ([]models.Channel, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// ChannelPlatform is the external channel the ads are published to.
type ChannelPlatform interface {
	Publish(ctx context.Context, ch *models.Channel, creative models.Creative) (string, error)
	ProbeLiveness(ctx context.Context, ch *models.Channel, contentRef string) (models.Liveness, error)
	CheckPostingRights(ctx context.Context, ch *models.Channel) (models.PostingRights, error)
}
