package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger entry types
const (
	TransactionTypeHold    = "hold"
	TransactionTypeRelease = "release"
	TransactionTypeRefund  = "refund"
)

// Payout statuses of an owner earning. Payout itself happens outside the engine.
const (
	PayoutStatusPending = "pending"
	PayoutStatusPaid    = "paid"
)

// Transaction is an append-only escrow ledger row.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	DealID    uuid.UUID       `json:"deal_id"`
	Type      string          `json:"type"` // hold / release / refund
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

type OwnerEarning struct {
	ID           uuid.UUID       `json:"id"`
	DealID       uuid.UUID       `json:"deal_id"`
	ChannelID    uuid.UUID       `json:"channel_id"`
	OwnerUserID  uuid.UUID       `json:"owner_user_id"`
	GrossAmount  decimal.Decimal `json:"gross_amount"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	NetAmount    decimal.Decimal `json:"net_amount"`
	PayoutStatus string          `json:"payout_status"`
	PayoutDate   *time.Time      `json:"payout_date,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
