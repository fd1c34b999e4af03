package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type ClickRepo struct {
	pool *pgxpool.Pool
}

func NewClickRepo(pool *pgxpool.Pool) *ClickRepo {
	return &ClickRepo{pool: pool}
}

// RecordClick stores one visit per (deal, fingerprint). The unique constraint decides novelty.
func (r *ClickRepo) RecordClick(ctx context.Context, dealID uuid.UUID, fingerprint string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO click_records (deal_id, fingerprint) VALUES ($1, $2)
		ON CONFLICT (deal_id, fingerprint) DO NOTHING
	`, dealID, fingerprint)
	if err != nil {
		return false, errors.Wrapf(err, "record click on deal %s", dealID)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ClickRepo) CountClicks(ctx context.Context, dealID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM click_records WHERE deal_id = $1`, dealID).Scan(&n)
	return n, errors.Wrapf(err, "count clicks of deal %s", dealID)
}
