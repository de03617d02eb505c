package flow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

const flowCols = `id, clinic_id, patient_id, appointment_id, procedure, expected_minutes,
	required_capability, resource_id, stage, sub_stage, checked_in_at, called_at, seated_at,
	treatment_started_at, completed_at, checked_out_at, cancelled_at, version, updated_at`

func (r *repoPG) Insert(ctx context.Context, st *State) error {
	st.ID = uuid.New()
	st.Version = 1
	now := time.Now().UTC()
	if st.CheckedInAt.IsZero() {
		st.CheckedInAt = now
	}
	st.UpdatedAt = now

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_flow (id, clinic_id, patient_id, appointment_id, procedure,
			expected_minutes, required_capability, resource_id, stage, sub_stage,
			checked_in_at, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		st.ID, st.ClinicID, st.PatientID, st.AppointmentID, st.Procedure,
		st.ExpectedMinutes, st.RequiredCapability, st.ResourceID, st.Stage, st.SubStage,
		st.CheckedInAt, st.Version, st.UpdatedAt,
	)
	// Two check-ins racing past the service pre-check resolve on the
	// one-active-visit-per-patient unique index.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateActiveVisit
	}
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*State, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+flowCols+` FROM patient_flow WHERE id = $1`, id)
	return scanState(row)
}

func (r *repoPG) GetActiveByPatient(ctx context.Context, clinicID, patientID uuid.UUID) (*State, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+flowCols+` FROM patient_flow
		WHERE clinic_id = $1 AND patient_id = $2 AND stage NOT IN ($3, $4)
		LIMIT 1`,
		clinicID, patientID, StageCheckedOut, StageCancelled)
	return scanState(row)
}

func (r *repoPG) ListActive(ctx context.Context, clinicID uuid.UUID) ([]*State, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+flowCols+` FROM patient_flow
		WHERE clinic_id = $1 AND stage NOT IN ($2, $3)
		ORDER BY checked_in_at, id`,
		clinicID, StageCheckedOut, StageCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, st *State, expectedVersion int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_flow
		SET stage = $1, sub_stage = $2, resource_id = $3,
		    called_at = $4, seated_at = $5, treatment_started_at = $6,
		    completed_at = $7, checked_out_at = $8, cancelled_at = $9,
		    version = version + 1, updated_at = $10
		WHERE id = $11 AND version = $12`,
		st.Stage, st.SubStage, st.ResourceID,
		st.CalledAt, st.SeatedAt, st.TreatmentStartedAt,
		st.CompletedAt, st.CheckedOutAt, st.CancelledAt,
		time.Now().UTC(), st.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := r.Get(ctx, st.ID); errors.Is(gerr, ErrFlowNotFound) {
			return ErrFlowNotFound
		}
		return ErrStaleVersion
	}
	st.Version = expectedVersion + 1
	return nil
}

func scanState(row pgx.Row) (*State, error) {
	var st State
	err := row.Scan(&st.ID, &st.ClinicID, &st.PatientID, &st.AppointmentID, &st.Procedure,
		&st.ExpectedMinutes, &st.RequiredCapability, &st.ResourceID, &st.Stage, &st.SubStage,
		&st.CheckedInAt, &st.CalledAt, &st.SeatedAt, &st.TreatmentStartedAt,
		&st.CompletedAt, &st.CheckedOutAt, &st.CancelledAt, &st.Version, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}
