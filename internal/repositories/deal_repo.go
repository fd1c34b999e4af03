package repositories

import (
	"context"
	"time"

	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const dealColumns = `id, channel_id, advertiser_user_id,
	creative_text, creative_image_ref, creative_link_url, creative_button,
	pricing_mode, price, duration_seconds, budget, click_price, spent, click_count,
	status, post_ref, posted_at, verified_at, paid_at, completed_at, rejection_reason,
	created_at, updated_at`

type DealRepo struct {
	pool *pgxpool.Pool
}

func NewDealRepo(pool *pgxpool.Pool) *DealRepo {
	return &DealRepo{pool: pool}
}

func scanDeal(row pgx.Row) (*models.Deal, error) {
	var d models.Deal
	err := row.Scan(&d.ID, &d.ChannelID, &d.AdvertiserUserID,
		&d.Creative.Text, &d.Creative.ImageRef, &d.Creative.LinkURL, &d.Creative.ButtonLabel,
		&d.PricingMode, &d.Price, &d.DurationSeconds, &d.Budget, &d.ClickPrice, &d.Spent, &d.ClickCount,
		&d.Status, &d.PostRef, &d.PostedAt, &d.VerifiedAt, &d.PaidAt, &d.CompletedAt, &d.RejectionReason,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDeals(rows pgx.Rows) ([]models.Deal, error) {
	defer rows.Close()
	var deals []models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, rows.Err()
}

func (r *DealRepo) Create(ctx context.Context, d *models.Deal) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO deals (channel_id, advertiser_user_id, creative_text, creative_image_ref, creative_link_url,
		                   creative_button, pricing_mode, price, duration_seconds, budget, click_price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, spent, click_count, created_at, updated_at
	`, d.ChannelID, d.AdvertiserUserID, d.Creative.Text, d.Creative.ImageRef, d.Creative.LinkURL,
		d.Creative.ButtonLabel, d.PricingMode, d.Price, d.DurationSeconds, d.Budget, d.ClickPrice, d.Status,
	).Scan(&d.ID, &d.Spent, &d.ClickCount, &d.CreatedAt, &d.UpdatedAt)
	return errors.Wrap(err, "insert deal")
}

func (r *DealRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	d, err := scanDeal(r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "deal %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get deal %s", id)
	}
	return d, nil
}

func (r *DealRepo) ListByStatus(ctx context.Context, status string) ([]models.Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals WHERE status = $1 ORDER BY updated_at
	`, status)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s deals", status)
	}
	deals, err := collectDeals(rows)
	return deals, errors.Wrapf(err, "scan %s deals", status)
}

// ListStale returns deals in status whose last update happened before the cutoff.
func (r *DealRepo) ListStale(ctx context.Context, status string, before time.Time) ([]models.Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals WHERE status = $1 AND updated_at < $2 ORDER BY updated_at
	`, status, before)
	if err != nil {
		return nil, errors.Wrapf(err, "list stale %s deals", status)
	}
	deals, err := collectDeals(rows)
	return deals, errors.Wrapf(err, "scan stale %s deals", status)
}

func (r *DealRepo) ListByChannel(ctx context.Context, channelID uuid.UUID, statuses []string) ([]models.Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals WHERE channel_id = $1 AND status = ANY($2) ORDER BY created_at
	`, channelID, statuses)
	if err != nil {
		return nil, errors.Wrapf(err, "list deals of channel %s", channelID)
	}
	deals, err := collectDeals(rows)
	return deals, errors.Wrapf(err, "scan deals of channel %s", channelID)
}

// TransitionStatus moves the deal from -> to only if its current status is still from, stamps the
// patch columns and appends ledger entries, all in one transaction.
func (r *DealRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, patch models.DealPatch, entries []models.Transaction) (*models.Deal, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin transition")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	d, err := scanDeal(tx.QueryRow(ctx, `
		UPDATE deals SET
			status = $3,
			post_ref = COALESCE($4, post_ref),
			posted_at = COALESCE($5, posted_at),
			verified_at = COALESCE($6, verified_at),
			paid_at = COALESCE($7, paid_at),
			completed_at = COALESCE($8, completed_at),
			rejection_reason = COALESCE($9, rejection_reason),
			updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+dealColumns,
		id, from, to, patch.PostRef, patch.PostedAt, patch.VerifiedAt, patch.PaidAt, patch.CompletedAt, patch.RejectionReason))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM deals WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, errors.Wrapf(err, "check deal %s", id)
		}
		if !exists {
			return nil, errors.Wrapf(models.ErrNotFound, "deal %s", id)
		}
		return nil, errors.Wrapf(models.ErrConcurrentModification, "deal %s is no longer %s", id, from)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "transition deal %s %s->%s", id, from, to)
	}

	for _, e := range entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO deal_transactions (deal_id, type, amount) VALUES ($1, $2, $3)
		`, id, e.Type, e.Amount); err != nil {
			return nil, errors.Wrapf(err, "append %s entry for deal %s", e.Type, id)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrapf(err, "commit transition of deal %s", id)
	}
	return d, nil
}

// SpendClick atomically charges one click. Only the click that crosses the budget may overshoot
// it. Returns nil, nil when the deal is not a posted click deal or its budget is already spent.
func (r *DealRepo) SpendClick(ctx context.Context, id uuid.UUID, unitPrice decimal.Decimal) (*models.Deal, error) {
	d, err := scanDeal(r.pool.QueryRow(ctx, `
		UPDATE deals SET spent = spent + $2, click_count = click_count + 1, updated_at = now()
		WHERE id = $1 AND status = 'posted' AND pricing_mode = 'click' AND spent < budget
		RETURNING `+dealColumns,
		id, unitPrice))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "spend click on deal %s", id)
	}
	return d, nil
}
