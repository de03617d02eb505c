package assignment

import (
	"context"
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

const assignmentCols = `id, clinic_id, staff_id, resource_id, flow_id, assigned_at, released_at`

func (r *repoPG) Insert(ctx context.Context, a *Assignment) error {
	a.ID = uuid.New()
	a.AssignedAt = time.Now().UTC()

	// The partial unique index on (staff_id, resource_id) WHERE released_at
	// IS NULL backs this check; the pre-read gives a friendlier error for
	// the common case.
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM staff_assignment
			WHERE staff_id = $1 AND resource_id = $2 AND released_at IS NULL
		)`, a.StaffID, a.ResourceID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrStaffAlreadyAssigned
	}

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO staff_assignment (id, clinic_id, staff_id, resource_id, flow_id, assigned_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.ClinicID, a.StaffID, a.ResourceID, a.FlowID, a.AssignedAt,
	)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+assignmentCols+` FROM staff_assignment WHERE id = $1`, id)
	return scanAssignment(row)
}

func (r *repoPG) ActiveForResource(ctx context.Context, resourceID uuid.UUID) ([]*Assignment, error) {
	return r.list(ctx,
		`SELECT `+assignmentCols+` FROM staff_assignment
		 WHERE resource_id = $1 AND released_at IS NULL ORDER BY assigned_at`, resourceID)
}

func (r *repoPG) ActiveForStaff(ctx context.Context, staffID uuid.UUID) ([]*Assignment, error) {
	return r.list(ctx,
		`SELECT `+assignmentCols+` FROM staff_assignment
		 WHERE staff_id = $1 AND released_at IS NULL ORDER BY assigned_at`, staffID)
}

func (r *repoPG) ActiveForClinic(ctx context.Context, clinicID uuid.UUID) ([]*Assignment, error) {
	return r.list(ctx,
		`SELECT `+assignmentCols+` FROM staff_assignment
		 WHERE clinic_id = $1 AND released_at IS NULL ORDER BY assigned_at`, clinicID)
}

func (r *repoPG) ReleaseByResource(ctx context.Context, resourceID uuid.UUID) ([]*Assignment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE staff_assignment SET released_at = $1
		WHERE resource_id = $2 AND released_at IS NULL
		RETURNING `+assignmentCols,
		time.Now().UTC(), resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (r *repoPG) Release(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE staff_assignment SET released_at = $1
		WHERE id = $2 AND released_at IS NULL
		RETURNING `+assignmentCols,
		time.Now().UTC(), id)
	return scanAssignment(row)
}

func (r *repoPG) list(ctx context.Context, query string, arg interface{}) ([]*Assignment, error) {
	rows, err := r.conn(ctx).Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*Assignment, error) {
	var out []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var a Assignment
	err := row.Scan(&a.ID, &a.ClinicID, &a.StaffID, &a.ResourceID, &a.FlowID, &a.AssignedAt, &a.ReleasedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
