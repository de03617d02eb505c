package resource

import (
	"context"
	"errors"
	"strings"
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

const resourceCols = `id, clinic_id, name, kind, capabilities, created_at`
const occupancyCols = `resource_id, clinic_id, status, occupying_flow_id, block_reason, blocked_until, status_changed_at, version`

func (r *repoPG) CreateResource(ctx context.Context, res *Resource) error {
	res.ID = uuid.New()
	res.CreatedAt = time.Now().UTC()
	if res.Capabilities == nil {
		res.Capabilities = []string{}
	}

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO resource (id, clinic_id, name, kind, capabilities, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		res.ID, res.ClinicID, res.Name, res.Kind, res.Capabilities, res.CreatedAt,
	)
	if err != nil {
		return err
	}

	// Every resource starts available; the occupancy row lives for the
	// lifetime of the resource.
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO resource_occupancy (resource_id, clinic_id, status, status_changed_at, version)
		VALUES ($1,$2,$3,$4,1)`,
		res.ID, res.ClinicID, StatusAvailable, res.CreatedAt,
	)
	return err
}

func (r *repoPG) GetResource(ctx context.Context, id uuid.UUID) (*Resource, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+resourceCols+` FROM resource WHERE id = $1`, id)
	return scanResource(row)
}

func (r *repoPG) ListResources(ctx context.Context, clinicID uuid.UUID) ([]*Resource, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+resourceCols+` FROM resource WHERE clinic_id = $1 ORDER BY name, id`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *repoPG) GetOccupancy(ctx context.Context, resourceID uuid.UUID) (*Occupancy, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+occupancyCols+` FROM resource_occupancy WHERE resource_id = $1`, resourceID)
	return scanOccupancy(row)
}

func (r *repoPG) ListOccupancies(ctx context.Context, clinicID uuid.UUID) ([]*Occupancy, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+occupancyCols+` FROM resource_occupancy WHERE clinic_id = $1 ORDER BY status_changed_at, resource_id`,
		clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Occupancy
	for rows.Next() {
		occ, err := scanOccupancy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, occ)
	}
	return out, nil
}

func (r *repoPG) SelectAvailable(ctx context.Context, clinicID uuid.UUID, capability string) (*Resource, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+qualify("r", resourceCols)+`
		FROM resource r
		JOIN resource_occupancy o ON o.resource_id = r.id
		WHERE r.clinic_id = $1
		  AND o.status = $2
		  AND ($3 = '' OR $3 = ANY(r.capabilities))
		ORDER BY o.status_changed_at, r.id
		LIMIT 1`,
		clinicID, StatusAvailable, capability)
	res, err := scanResource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrResourceUnavailable
	}
	return res, err
}

func (r *repoPG) UpdateStatus(ctx context.Context, resourceID uuid.UUID, from []Status, change StatusChange) (*Occupancy, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE resource_occupancy
		SET status = $1,
		    occupying_flow_id = $2,
		    block_reason = $3,
		    blocked_until = $4,
		    status_changed_at = $5,
		    version = version + 1
		WHERE resource_id = $6 AND status = ANY($7)
		RETURNING `+occupancyCols,
		change.To, change.OccupyingFlowID, change.BlockReason, change.BlockedUntil,
		time.Now().UTC(), resourceID, statusStrings(from),
	)
	occ, err := scanOccupancy(row)
	if errors.Is(err, ErrResourceNotFound) {
		// Zero rows matched: lost the race, or the id is bad. Look once
		// more to tell the caller which.
		if _, gerr := r.GetOccupancy(ctx, resourceID); errors.Is(gerr, ErrResourceNotFound) {
			return nil, ErrResourceNotFound
		}
		return nil, ErrResourceUnavailable
	}
	return occ, err
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// qualify prefixes each column in a comma-separated list with an alias.
func qualify(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanResource(row pgx.Row) (*Resource, error) {
	var res Resource
	err := row.Scan(&res.ID, &res.ClinicID, &res.Name, &res.Kind, &res.Capabilities, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func scanOccupancy(row pgx.Row) (*Occupancy, error) {
	var occ Occupancy
	err := row.Scan(&occ.ResourceID, &occ.ClinicID, &occ.Status, &occ.OccupyingFlowID,
		&occ.BlockReason, &occ.BlockedUntil, &occ.StatusChangedAt, &occ.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &occ, nil
}
