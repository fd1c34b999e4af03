package repositories

import (
	"context"

	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const channelColumns = `id, owner_user_id, external_ref, title, is_active, can_post, approval_status,
	price_per_duration, price_per_click, created_at, updated_at`

type ChannelRepo struct {
	pool *pgxpool.Pool
}

func NewChannelRepo(pool *pgxpool.Pool) *ChannelRepo {
	return &ChannelRepo{pool: pool}
}

func scanChannel(row pgx.Row) (*models.Channel, error) {
	var ch models.Channel
	err := row.Scan(&ch.ID, &ch.OwnerUserID, &ch.ExternalRef, &ch.Title, &ch.IsActive, &ch.CanPost,
		&ch.ApprovalStatus, &ch.PricePerDuration, &ch.PricePerClick, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *ChannelRepo) Create(ctx context.Context, ch *models.Channel) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO channels (owner_user_id, external_ref, title, is_active, can_post, approval_status,
		                      price_per_duration, price_per_click)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_ref) DO UPDATE SET
			title = COALESCE(EXCLUDED.title, channels.title),
			is_active = EXCLUDED.is_active,
			can_post = EXCLUDED.can_post,
			price_per_duration = EXCLUDED.price_per_duration,
			price_per_click = EXCLUDED.price_per_click,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`, ch.OwnerUserID, ch.ExternalRef, ch.Title, ch.IsActive, ch.CanPost, ch.ApprovalStatus,
		ch.PricePerDuration, ch.PricePerClick,
	).Scan(&ch.ID, &ch.CreatedAt, &ch.UpdatedAt)
	return errors.Wrap(err, "upsert channel")
}

func (r *ChannelRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	ch, err := scanChannel(r.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "channel %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get channel %s", id)
	}
	return ch, nil
}

func (r *ChannelRepo) ListActive(ctx context.Context) ([]models.Channel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+channelColumns+` FROM channels WHERE is_active = true ORDER BY created_at
	`)
	if err != nil {
		return nil, errors.Wrap(err, "list active channels")
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan channel")
		}
		channels = append(channels, *ch)
	}
	return channels, errors.Wrap(rows.Err(), "iterate channels")
}

// Deactivate clears the active and posting-rights flags. Channels are never deleted.
func (r *ChannelRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE channels SET is_active = false, can_post = false, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return errors.Wrapf(err, "deactivate channel %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(models.ErrNotFound, "channel %s", id)
	}
	return nil
}
