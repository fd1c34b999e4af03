package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Deal statuses
const (
	DealStatusCreated         = "created"
	DealStatusPendingReview   = "pending_review"
	DealStatusPendingApproval = "pending_approval"
	DealStatusApproved        = "approved"
	DealStatusRejected        = "rejected"
	DealStatusHeld            = "held"
	DealStatusPosted          = "posted"
	DealStatusVerified        = "verified"
	DealStatusCompleted       = "completed"
	DealStatusDisputed        = "disputed"
	DealStatusRefunded        = "refunded"
	DealStatusExpired         = "expired"
	DealStatusCancelled       = "cancelled"
)

// Pricing modes
const (
	PricingModeTime  = "time"
	PricingModeClick = "click"
)

// Valid state transitions: from -> []to
var ValidDealTransitions = map[string][]string{
	DealStatusCreated:         {DealStatusPendingReview, DealStatusPendingApproval, DealStatusCancelled},
	DealStatusPendingReview:   {DealStatusPendingApproval, DealStatusRejected},
	DealStatusPendingApproval: {DealStatusApproved, DealStatusRejected, DealStatusCancelled},
	DealStatusApproved:        {DealStatusHeld, DealStatusExpired, DealStatusCancelled},
	DealStatusRejected:        {},
	DealStatusHeld:            {DealStatusPosted, DealStatusRefunded},
	DealStatusPosted:          {DealStatusVerified, DealStatusDisputed},
	DealStatusVerified:        {DealStatusCompleted},
	DealStatusCompleted:       {},
	DealStatusDisputed:        {DealStatusRefunded},
	DealStatusRefunded:        {},
	DealStatusExpired:         {},
	DealStatusCancelled:       {},
}

// AllDealStatuses lists every status in lifecycle order.
var AllDealStatuses = []string{
	DealStatusCreated, DealStatusPendingReview, DealStatusPendingApproval, DealStatusApproved,
	DealStatusRejected, DealStatusHeld, DealStatusPosted, DealStatusVerified, DealStatusCompleted,
	DealStatusDisputed, DealStatusRefunded, DealStatusExpired, DealStatusCancelled,
}

func CanTransition(from, to string) bool {
	allowed, ok := ValidDealTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// AssertTransition returns an *InvalidTransitionError when the edge is not in the graph.
func AssertTransition(from, to string) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

func IsTerminalStatus(status string) bool {
	allowed, ok := ValidDealTransitions[status]
	return ok && len(allowed) == 0
}

func IsValidPricingMode(m string) bool {
	return m == PricingModeTime || m == PricingModeClick
}

// Creative is the ad payload published to the channel.
type Creative struct {
	Text        string  `json:"text"`
	ImageRef    *string `json:"image_ref,omitempty"`
	LinkURL     *string `json:"link_url,omitempty"`
	ButtonLabel *string `json:"button_label,omitempty"`
}

type Deal struct {
	ID               uuid.UUID        `json:"id"`
	ChannelID        uuid.UUID        `json:"channel_id"`
	AdvertiserUserID uuid.UUID        `json:"advertiser_user_id"`
	Creative         Creative         `json:"creative"`
	PricingMode      string           `json:"pricing_mode"` // time / click
	Price            *decimal.Decimal `json:"price,omitempty"`
	DurationSeconds  int              `json:"duration_seconds"`
	Budget           *decimal.Decimal `json:"budget,omitempty"`
	ClickPrice       *decimal.Decimal `json:"click_price,omitempty"`
	Spent            decimal.Decimal  `json:"spent"`
	ClickCount       int              `json:"click_count"`
	Status           string           `json:"status"`
	PostRef          *string          `json:"post_ref,omitempty"`
	PostedAt         *time.Time       `json:"posted_at,omitempty"`
	VerifiedAt       *time.Time       `json:"verified_at,omitempty"`
	PaidAt           *time.Time       `json:"paid_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	RejectionReason  *string          `json:"rejection_reason,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// EscrowAmount is the amount held for the deal: the fixed price in time mode, the budget in click mode.
func (d *Deal) EscrowAmount() decimal.Decimal {
	switch d.PricingMode {
	case PricingModeClick:
		if d.Budget != nil {
			return *d.Budget
		}
	default:
		if d.Price != nil {
			return *d.Price
		}
	}
	return decimal.Zero
}

func (d *Deal) IsClickMode() bool {
	return d.PricingMode == PricingModeClick
}

// BudgetExhausted reports spent >= budget for click-mode deals.
func (d *Deal) BudgetExhausted() bool {
	if !d.IsClickMode() || d.Budget == nil {
		return false
	}
	return d.Spent.GreaterThanOrEqual(*d.Budget)
}

func (d *Deal) Duration() time.Duration {
	return time.Duration(d.DurationSeconds) * time.Second
}

// Elapsed returns how long the content has been live at now. Zero when not posted yet.
func (d *Deal) Elapsed(now time.Time) time.Duration {
	if d.PostedAt == nil {
		return 0
	}
	e := now.Sub(*d.PostedAt)
	if e < 0 {
		return 0
	}
	return e
}

// DealPatch carries the columns stamped alongside a status change. Nil fields are left untouched.
type DealPatch struct {
	PostRef         *string
	PostedAt        *time.Time
	VerifiedAt      *time.Time
	PaidAt          *time.Time
	CompletedAt     *time.Time
	RejectionReason *string
}
