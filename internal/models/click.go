package models

import (
	"time"

	"github.com/google/uuid"
)

// ClickRecord marks a unique visitor of a deal. Existence of the row is the dedup.
type ClickRecord struct {
	ID          uuid.UUID `json:"id"`
	DealID      uuid.UUID `json:"deal_id"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}
