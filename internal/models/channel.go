package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Channel approval statuses
const (
	ChannelApprovalPending  = "pending"
	ChannelApprovalApproved = "approved"
	ChannelApprovalRejected = "rejected"
)

type Channel struct {
	ID               uuid.UUID        `json:"id"`
	OwnerUserID      uuid.UUID        `json:"owner_user_id"`
	ExternalRef      string           `json:"external_ref"` // telegram username without @
	Title            *string          `json:"title,omitempty"`
	IsActive         bool             `json:"is_active"`
	CanPost          bool             `json:"can_post"`
	ApprovalStatus   string           `json:"approval_status"`
	PricePerDuration *decimal.Decimal `json:"price_per_duration,omitempty"`
	PricePerClick    *decimal.Decimal `json:"price_per_click,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Liveness is the outcome of probing posted content on the external channel.
type Liveness string

const (
	LivenessAlive         Liveness = "alive"
	LivenessDeleted       Liveness = "deleted"
	LivenessIndeterminate Liveness = "indeterminate"
)

// PostingRights is the outcome of checking whether the platform may still post to a channel.
type PostingRights string

const (
	PostingRightsGranted       PostingRights = "granted"
	PostingRightsRevoked       PostingRights = "revoked"
	PostingRightsIndeterminate PostingRights = "indeterminate"
)
