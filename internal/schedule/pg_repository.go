package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var specialty *string
	var availabilityJSON []byte

	err := row.Scan(
		&p.ID,
		&p.Name,
		&specialty,
		&availabilityJSON,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	p.Specialty = specialty
	if len(availabilityJSON) > 0 {
		if err := json.Unmarshal(availabilityJSON, &p.Availability); err != nil {
			return nil, fmt.Errorf("decode provider availability: %w", err)
		}
	}
	return &p, nil
}

func scanLocation(row pgx.Row) (*Location, error) {
	var l Location

	err := row.Scan(
		&l.ID,
		&l.Name,
		&l.Capacity,
		&l.Active,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}

	return &l, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.LocationID,
		&a.PatientID,
		&a.StartAt,
		&a.DurationMinutes,
		&a.Type,
		&a.Status,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

const appointmentColumns = `id, provider_id, location_id, patient_id, start_at, duration_minutes, visit_type, status, notes, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, availability, active, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) GetLocationByID(ctx context.Context, id uuid.UUID) (*Location, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, capacity, active, created_at, updated_at
		FROM locations
		WHERE id = $1
	`, id)
	return scanLocation(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListProviderAppointments(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND start_at >= $2
		  AND start_at < $3
		ORDER BY start_at
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListLocationAppointments(ctx context.Context, locationID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE location_id = $1
		  AND start_at >= $2
		  AND start_at < $3
		ORDER BY start_at
	`, locationID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// overlapExistsTx checks inside the transaction whether any non-cancelled
// appointment of the provider overlaps [start, end). excludeID skips the row
// being rescheduled.
func overlapExistsTx(ctx context.Context, tx pgx.Tx, providerID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	var count int
	err := tx.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE provider_id = $1
		  AND status <> 'cancelled'
		  AND id <> $4
		  AND start_at < $3
		  AND start_at + make_interval(mins => duration_minutes) > $2
	`, providerID, start, end, excludeID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// lockProviderTx takes a transaction-scoped advisory lock on the provider so
// competing booking transactions serialize their re-check and write.
func lockProviderTx(ctx context.Context, tx pgx.Tx, providerID uuid.UUID) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, providerID)
	return err
}

func (r *PgRepository) InsertAtomic(ctx context.Context, appt *Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockProviderTx(ctx, tx, appt.ProviderID); err != nil {
		return fmt.Errorf("lock provider: %w", err)
	}

	overlap, err := overlapExistsTx(ctx, tx, appt.ProviderID, appt.StartAt, appt.EndAt(), uuid.Nil)
	if err != nil {
		return fmt.Errorf("recheck overlap: %w", err)
	}
	if overlap {
		return ErrOverlapDetected
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, provider_id, location_id, patient_id, start_at, duration_minutes, visit_type, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.ProviderID, appt.LocationID, appt.PatientID, appt.StartAt, appt.DurationMinutes, appt.Type, appt.Status, appt.Notes)

	inserted, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	*appt = *inserted

	return tx.Commit(ctx)
}

func (r *PgRepository) UpdateAtomic(ctx context.Context, appt *Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockProviderTx(ctx, tx, appt.ProviderID); err != nil {
		return fmt.Errorf("lock provider: %w", err)
	}

	overlap, err := overlapExistsTx(ctx, tx, appt.ProviderID, appt.StartAt, appt.EndAt(), appt.ID)
	if err != nil {
		return fmt.Errorf("recheck overlap: %w", err)
	}
	if overlap {
		return ErrOverlapDetected
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET start_at = $2,
		    duration_minutes = $3,
		    notes = $4,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.StartAt, appt.DurationMinutes, appt.Notes)

	updated, err := scanAppointment(row)
	if err != nil {
		return err
	}
	*appt = *updated

	return tx.Commit(ctx)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateProviderAvailability(ctx context.Context, providerID uuid.UUID, availability WeeklyAvailability) error {
	data, err := json.Marshal(availability)
	if err != nil {
		return fmt.Errorf("encode availability: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE providers
		SET availability = $2,
		    updated_at = now()
		WHERE id = $1
	`, providerID, data)
	if err != nil {
		return fmt.Errorf("update availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProviderNotFound
	}
	return nil
}

func (r *PgRepository) BulkDelete(ctx context.Context, ids []uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return 0, fmt.Errorf("bulk delete: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, status Status) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = ANY($1)
	`, ids, status)
	if err != nil {
		return 0, fmt.Errorf("bulk update status: %w", err)
	}
	return tag.RowsAffected(), nil
}
