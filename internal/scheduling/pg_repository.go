package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	txMaxRetries   = 3
	txRetryBackoff = 25 * time.Millisecond
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the same methods
// run inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

// InTx runs fn inside one transaction. Serialization failures and deadlocks
// are transient, so they are retried a bounded number of times with backoff
// before surfacing.
func (r *PgRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	var lastErr error
	for attempt := 0; attempt <= txMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(txRetryBackoff * time.Duration(attempt)):
			}
		}

		err := r.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryableTxError(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("transaction retries exhausted: %w", lastErr)
}

func (r *PgRepository) runTx(ctx context.Context, fn func(tx Repository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txRepo := &PgRepository{pool: r.pool, q: tx}
	if err := fn(txRepo); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure, deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// Helpers

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

func scanClinician(row pgx.Row) (*Clinician, error) {
	var c Clinician
	var specialty *string

	err := row.Scan(
		&c.ID,
		&c.Name,
		&specialty,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicianNotFound
		}
		return nil, err
	}

	c.Specialty = specialty
	return &c, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.ClinicianID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var cancelledAt *time.Time
	var cancellationReason *string

	err := row.Scan(
		&b.ID,
		&b.PatientID,
		&b.ClinicianID,
		&b.SlotID,
		&b.Reason,
		&b.Status,
		&b.CreatedAt,
		&cancelledAt,
		&cancellationReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	b.CancelledAt = cancelledAt
	b.CancellationReason = cancellationReason
	return &b, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetClinicianByID(ctx context.Context, id uuid.UUID) (*Clinician, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM clinicians
		WHERE id = $1
	`, id)
	return scanClinician(row)
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, clinician_id, start_time, end_time, status, created_at, updated_at
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) InsertSlot(ctx context.Context, slot *Slot) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO slots (id, clinician_id, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
	`, slot.ID, slot.ClinicianID, slot.StartTime, slot.EndTime, slot.Status)
	if err != nil {
		// The exclusion constraint is the durable backstop for the overlap
		// invariant when two transactions race past the application check.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
			return ErrSlotConflict
		}
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

func (r *PgRepository) CountOverlappingSlots(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT count(*)
		FROM slots
		WHERE clinician_id = $1
		  AND status IN ('available', 'booked')
		  AND start_time < $3
		  AND end_time > $2
	`, clinicianID, start, end).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count overlapping slots: %w", err)
	}
	return n, nil
}

func (r *PgRepository) ListAvailableSlots(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, clinician_id, start_time, end_time, status, created_at, updated_at
		FROM slots
		WHERE clinician_id = $1
		  AND status = 'available'
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time ASC
	`, clinicianID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ClinicianSchedule(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]ScheduleEntry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT s.id, s.clinician_id, s.start_time, s.end_time, s.status, s.created_at, s.updated_at,
		       b.id, b.patient_id, p.name, b.reason
		FROM slots s
		LEFT JOIN bookings b ON b.slot_id = s.id AND b.status <> 'cancelled'
		LEFT JOIN patients p ON p.id = b.patient_id
		WHERE s.clinician_id = $1
		  AND s.start_time < $3
		  AND s.end_time > $2
		ORDER BY s.start_time ASC
	`, clinicianID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ScheduleEntry
	for rows.Next() {
		var entry ScheduleEntry
		var bookingID, patientID *uuid.UUID
		var patientName, reason *string

		err := rows.Scan(
			&entry.ID,
			&entry.ClinicianID,
			&entry.StartTime,
			&entry.EndTime,
			&entry.Status,
			&entry.CreatedAt,
			&entry.UpdatedAt,
			&bookingID,
			&patientID,
			&patientName,
			&reason,
		)
		if err != nil {
			return nil, err
		}

		if bookingID != nil && patientID != nil {
			sb := ScheduleBooking{
				BookingID: *bookingID,
				PatientID: *patientID,
			}
			if patientName != nil {
				sb.PatientName = *patientName
			}
			if reason != nil {
				sb.Reason = *reason
			}
			entry.Booking = &sb
		}

		result = append(result, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ClaimSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE slots
		SET status = 'booked',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'available'
		RETURNING id, clinician_id, start_time, end_time, status, created_at, updated_at
	`, id)

	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			// Missing and non-available look the same to the caller.
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}
	return slot, nil
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE slots
		SET status = 'available',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'booked'
		RETURNING id, clinician_id, start_time, end_time, status, created_at, updated_at
	`, id)

	slot, err := scanSlot(row)
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, err
	}

	// No booked row matched: the release is idempotent if the slot is
	// already available, an error otherwise.
	existing, err := r.GetSlotByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status != SlotAvailable {
		return nil, fmt.Errorf("release slot %s: unexpected status %s", id, existing.Status)
	}
	return existing, nil
}

func (r *PgRepository) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM slots
		WHERE id = $1
		  AND status = 'available'
	`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// Cancelled bookings still reference the slot; keep the history.
			return ErrSlotNotDeletable
		}
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := r.GetSlotByID(ctx, id); err != nil {
		return err
	}
	return ErrSlotNotDeletable
}

func (r *PgRepository) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, patient_id, clinician_id, slot_id, reason, status, created_at, cancelled_at, cancellation_reason
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) InsertBooking(ctx context.Context, b *Booking) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO bookings (id, patient_id, clinician_id, slot_id, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.PatientID, b.ClinicianID, b.SlotID, b.Reason, b.Status, b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Partial unique index on active bookings per slot.
			return ErrSlotUnavailable
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *PgRepository) MarkBookingCancelled(ctx context.Context, id uuid.UUID, reason string, at time.Time) (*Booking, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
		    cancelled_at = $2,
		    cancellation_reason = $3
		WHERE id = $1
		  AND status = 'confirmed'
		RETURNING id, patient_id, clinician_id, slot_id, reason, status, created_at, cancelled_at, cancellation_reason
	`, id, at, reason)
	return scanBooking(row)
}

func (r *PgRepository) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]BookingDetail, error) {
	rows, err := r.q.Query(ctx, `
		SELECT b.id, b.patient_id, b.clinician_id, b.slot_id, b.reason, b.status, b.created_at, b.cancelled_at, b.cancellation_reason,
		       s.start_time, s.end_time
		FROM bookings b
		JOIN slots s ON s.id = b.slot_id
		WHERE b.patient_id = $1
		ORDER BY s.start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BookingDetail
	for rows.Next() {
		var d BookingDetail
		err := rows.Scan(
			&d.ID,
			&d.PatientID,
			&d.ClinicianID,
			&d.SlotID,
			&d.Reason,
			&d.Status,
			&d.CreatedAt,
			&d.CancelledAt,
			&d.CancellationReason,
			&d.SlotStartTime,
			&d.SlotEndTime,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertOutboxEvent(ctx context.Context, ev OutboxEvent) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_outbox (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (r *PgRepository) FindUnpublishedEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, event_type, booking_id, payload, created_at, published_at
		FROM event_outbox
		WHERE published_at IS NULL
		ORDER BY id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		err := rows.Scan(
			&ev.ID,
			&ev.EventType,
			&ev.BookingID,
			&ev.Payload,
			&ev.CreatedAt,
			&ev.PublishedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) MarkEventPublished(ctx context.Context, id int64, at time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE event_outbox
		SET published_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark event published: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
