package floorplan

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chairflow/chairflow/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) Get(ctx context.Context, clinicID uuid.UUID) (*Layout, error) {
	var (
		layout Layout
		items  []byte
	)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT clinic_id, items, version, updated_at, updated_by
		FROM floor_plan_config WHERE clinic_id = $1`, clinicID).
		Scan(&layout.ClinicID, &items, &layout.Version, &layout.UpdatedAt, &layout.UpdatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLayoutNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &layout.Items); err != nil {
		return nil, err
	}
	return &layout, nil
}

func (r *repoPG) Save(ctx context.Context, layout *Layout, expectedVersion int64) error {
	items, err := json.Marshal(layout.Items)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	if expectedVersion == 0 {
		tag, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO floor_plan_config (clinic_id, items, version, updated_at, updated_by)
			VALUES ($1,$2,1,$3,$4)
			ON CONFLICT (clinic_id) DO NOTHING`,
			layout.ClinicID, items, now, layout.UpdatedBy)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrLayoutConflict
		}
		layout.Version = 1
		layout.UpdatedAt = now
		return nil
	}

	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE floor_plan_config
		SET items = $1, version = version + 1, updated_at = $2, updated_by = $3
		WHERE clinic_id = $4 AND version = $5`,
		items, now, layout.UpdatedBy, layout.ClinicID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLayoutConflict
	}
	layout.Version = expectedVersion + 1
	layout.UpdatedAt = now
	return nil
}
