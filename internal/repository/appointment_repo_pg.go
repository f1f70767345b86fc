package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vzale/apptbooking/internal/domain"
)

// ErrSlotConflict reports that an active appointment already holds the
// (staff, datetime) pair.
var ErrSlotConflict = errors.New("slot conflict")

type AppointmentRepository interface {
	// Book commits the appointment inside one transaction: a locked conflict
	// read, the guard callback, a second conflict read, the insert and the
	// strong-id assignment. Any failure rolls the whole transaction back.
	Book(ctx context.Context, appt *domain.Appointment, guard func(context.Context) error) error
	GetByID(ctx context.Context, id int64) (*domain.Appointment, error)
	FindRecentByKey(ctx context.Context, key string, since time.Time) (*domain.Appointment, error)
	ListDay(ctx context.Context, staffID int64, dayStart, dayEnd time.Time, excludeID int64) ([]domain.Appointment, error)
	Cancel(ctx context.Context, id int64) (*domain.Appointment, error)
	Reschedule(ctx context.Context, id int64, newAt time.Time) (*domain.Appointment, error)
}

type PGAppointmentRepository struct {
	db *pgxpool.Pool
}

func NewAppointmentRepository(db *pgxpool.Pool) AppointmentRepository {
	return &PGAppointmentRepository{db: db}
}

const appointmentColumns = `id, strong_id, customer_name, email, phone, scheduled_at, status, service_id, staff_id, idempotency_key, original_at, rescheduled_at, created_at`

func scanAppointment(row pgx.Row) (*domain.Appointment, error) {
	var a domain.Appointment
	var strongID *string
	if err := row.Scan(&a.ID, &strongID, &a.CustomerName, &a.Email, &a.Phone, &a.ScheduledAt, &a.Status,
		&a.ServiceID, &a.StaffID, &a.IdempotencyKey, &a.OriginalAt, &a.RescheduledAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	if strongID != nil {
		a.StrongID = *strongID
	}
	return &a, nil
}

// lockConflict takes a row lock on any active appointment for the slot.
// Concurrent bookers for the same slot serialize here until the first
// transaction commits or rolls back.
func lockConflict(ctx context.Context, tx pgx.Tx, staffID int64, at time.Time, excludeID int64) error {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM appointments
		WHERE staff_id = $1 AND scheduled_at = $2 AND status = ANY($3) AND id <> $4
		FOR UPDATE`, staffID, at, domain.ActiveStatuses, excludeID).Scan(&id)
	if err == nil {
		return ErrSlotConflict
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}

func (r *PGAppointmentRepository) Book(ctx context.Context, appt *domain.Appointment, guard func(context.Context) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockConflict(ctx, tx, appt.StaffID, appt.ScheduledAt, 0); err != nil {
		return err
	}

	if guard != nil {
		if err := guard(ctx); err != nil {
			return err
		}
	}

	// Re-check after the guard. The row lock only covers existing rows, so
	// an insert racing between the first read and ours can still slip in
	// under read-committed isolation; the unique partial index on
	// (staff_id, scheduled_at) is the schema-level backstop.
	if err := lockConflict(ctx, tx, appt.StaffID, appt.ScheduledAt, 0); err != nil {
		return err
	}

	appt.Status = domain.StatusConfirmed
	if err := tx.QueryRow(ctx, `INSERT INTO appointments
		(customer_name, email, phone, scheduled_at, status, service_id, staff_id, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		appt.CustomerName, appt.Email, appt.Phone, appt.ScheduledAt, appt.Status,
		appt.ServiceID, appt.StaffID, appt.IdempotencyKey).
		Scan(&appt.ID, &appt.CreatedAt); err != nil {
		return err
	}

	appt.StrongID = domain.StrongID(appt.ID, appt.CreatedAt)
	if _, err := tx.Exec(ctx, `UPDATE appointments SET strong_id = $1 WHERE id = $2`, appt.StrongID, appt.ID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *PGAppointmentRepository) GetByID(ctx context.Context, id int64) (*domain.Appointment, error) {
	a, err := scanAppointment(r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

func (r *PGAppointmentRepository) FindRecentByKey(ctx context.Context, key string, since time.Time) (*domain.Appointment, error) {
	a, err := scanAppointment(r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments
		WHERE idempotency_key = $1 AND created_at >= $2 AND status = ANY($3)
		ORDER BY created_at DESC LIMIT 1`, key, since, domain.ActiveStatuses))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

func (r *PGAppointmentRepository) ListDay(ctx context.Context, staffID int64, dayStart, dayEnd time.Time, excludeID int64) ([]domain.Appointment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments
		WHERE staff_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3 AND status = ANY($4) AND id <> $5
		ORDER BY scheduled_at`, staffID, dayStart, dayEnd, domain.ActiveStatuses, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []domain.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, *a)
	}
	return appts, rows.Err()
}

// Cancel flips the status and keeps the row for audit. Cancelling an
// already-cancelled appointment succeeds.
func (r *PGAppointmentRepository) Cancel(ctx context.Context, id int64) (*domain.Appointment, error) {
	a, err := scanAppointment(r.db.QueryRow(ctx, `UPDATE appointments SET status = $1 WHERE id = $2
		RETURNING `+appointmentColumns, domain.StatusCancelled, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

func (r *PGAppointmentRepository) Reschedule(ctx context.Context, id int64, newAt time.Time) (*domain.Appointment, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	current, err := scanAppointment(tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// The appointment being moved must not block itself.
	if err := lockConflict(ctx, tx, current.StaffID, newAt, id); err != nil {
		return nil, err
	}

	original := current.ScheduledAt
	if current.OriginalAt != nil {
		original = *current.OriginalAt
	}
	updated, err := scanAppointment(tx.QueryRow(ctx, `UPDATE appointments
		SET scheduled_at = $1, original_at = $2, rescheduled_at = now() WHERE id = $3
		RETURNING `+appointmentColumns, newAt, original, id))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

var _ AppointmentRepository = (*PGAppointmentRepository)(nil)
