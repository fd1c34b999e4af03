package repositories

import (
	"context"

	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// LedgerRepo reads deal transactions and owns owner earnings. Ledger rows themselves are
// written by DealRepo.TransitionStatus together with the status change.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

func (r *LedgerRepo) ListTransactions(ctx context.Context, dealID uuid.UUID) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deal_id, type, amount, created_at
		FROM deal_transactions WHERE deal_id = $1 ORDER BY created_at, id
	`, dealID)
	if err != nil {
		return nil, errors.Wrapf(err, "list transactions of deal %s", dealID)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.DealID, &t.Type, &t.Amount, &t.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan transaction")
		}
		txs = append(txs, t)
	}
	return txs, errors.Wrap(rows.Err(), "iterate transactions")
}

// CreateEarning inserts the owner's earning for a deal. Returns false when one already exists.
func (r *LedgerRepo) CreateEarning(ctx context.Context, e *models.OwnerEarning) (bool, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO owner_earnings (deal_id, channel_id, owner_user_id, gross_amount, platform_fee, net_amount, payout_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (deal_id) DO NOTHING
		RETURNING id, created_at
	`, e.DealID, e.ChannelID, e.OwnerUserID, e.GrossAmount, e.PlatformFee, e.NetAmount, e.PayoutStatus,
	).Scan(&e.ID, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "insert earning for deal %s", e.DealID)
	}
	return true, nil
}

func (r *LedgerRepo) GetEarning(ctx context.Context, dealID uuid.UUID) (*models.OwnerEarning, error) {
	var e models.OwnerEarning
	err := r.pool.QueryRow(ctx, `
		SELECT id, deal_id, channel_id, owner_user_id, gross_amount, platform_fee, net_amount,
		       payout_status, payout_date, created_at
		FROM owner_earnings WHERE deal_id = $1
	`, dealID).Scan(&e.ID, &e.DealID, &e.ChannelID, &e.OwnerUserID, &e.GrossAmount, &e.PlatformFee, &e.NetAmount,
		&e.PayoutStatus, &e.PayoutDate, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "earning of deal %s", dealID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get earning of deal %s", dealID)
	}
	return &e, nil
}
