package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
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

const entryCols = `id, clinic_id, subject_type, subject_id, from_value, to_value, actor_id, occurred_at`

func (r *repoPG) Insert(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_entry (id, clinic_id, subject_type, subject_id, from_value, to_value, actor_id, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.ClinicID, e.SubjectType, e.SubjectID, e.FromValue, e.ToValue, e.ActorID, e.OccurredAt,
	)
	return err
}

func (r *repoPG) Query(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	where := `WHERE clinic_id = $1`
	args := []interface{}{f.ClinicID}

	if f.SubjectType != "" {
		args = append(args, f.SubjectType)
		where += fmt.Sprintf(` AND subject_type = $%d`, len(args))
	}
	if f.SubjectID != nil {
		args = append(args, *f.SubjectID)
		where += fmt.Sprintf(` AND subject_id = $%d`, len(args))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		where += fmt.Sprintf(` AND occurred_at >= $%d`, len(args))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		where += fmt.Sprintf(` AND occurred_at < $%d`, len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM audit_entry `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+` FROM audit_entry `+where+
			fmt.Sprintf(` ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ClinicID, &e.SubjectType, &e.SubjectID, &e.FromValue, &e.ToValue, &e.ActorID, &e.OccurredAt); err != nil {
			return nil, 0, err
		}
		entries = append(entries, &e)
	}
	return entries, total, nil
}

func (r *repoPG) ListClinicsActive(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT DISTINCT clinic_id FROM audit_entry WHERE occurred_at >= $1`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clinics []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		clinics = append(clinics, id)
	}
	return clinics, nil
}
