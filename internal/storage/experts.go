package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wayfarer-labs/guidematch/internal/model"
)

const expertColumns = `id, profession, bio, name, avatar_url, profile_url`

func scanExpert(row pgx.CollectableRow) (model.Candidate, error) {
	var c model.Candidate
	err := row.Scan(&c.ID, &c.Profession, &c.Bio, &c.Name, &c.AvatarURL, &c.ProfileURL)
	return c, err
}

// ListActiveExperts returns up to limit active experts in creation order.
func (db *DB) ListActiveExperts(ctx context.Context, limit int) ([]model.Candidate, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+expertColumns+` FROM experts
		 WHERE active
		 ORDER BY created_at, id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list experts: %w", err)
	}
	experts, err := pgx.CollectRows(rows, scanExpert)
	if err != nil {
		return nil, fmt.Errorf("storage: scan experts: %w", err)
	}
	return experts, nil
}

// GetExpert returns one expert by id, active or not.
func (db *DB) GetExpert(ctx context.Context, id string) (model.Candidate, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+expertColumns+` FROM experts WHERE id = $1`, id)
	if err != nil {
		return model.Candidate{}, fmt.Errorf("storage: get expert: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanExpert)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Candidate{}, fmt.Errorf("storage: expert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Candidate{}, fmt.Errorf("storage: get expert: %w", err)
	}
	return c, nil
}

// UpsertExperts inserts or updates experts in one transaction, retrying on
// serialization conflicts.
func (db *DB) UpsertExperts(ctx context.Context, experts []model.Candidate) error {
	return WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
			batch := &pgx.Batch{}
			for _, e := range experts {
				batch.Queue(`INSERT INTO experts (`+expertColumns+`)
					VALUES ($1, $2, $3, $4, $5, $6)
					ON CONFLICT (id) DO UPDATE SET
						profession = EXCLUDED.profession,
						bio = EXCLUDED.bio,
						name = EXCLUDED.name,
						avatar_url = EXCLUDED.avatar_url,
						profile_url = EXCLUDED.profile_url,
						active = true,
						updated_at = now()`,
					e.ID, e.Profession, e.Bio, e.Name, e.AvatarURL, e.ProfileURL)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("storage: upsert experts: %w", err)
			}
			return nil
		})
	})
}

// DeactivateExpert hides an expert from the directory without deleting it.
func (db *DB) DeactivateExpert(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `UPDATE experts SET active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: deactivate expert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: expert %s: %w", id, ErrNotFound)
	}
	return nil
}
