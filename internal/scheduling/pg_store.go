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

	"github.com/hackgods/hospital-scheduling/internal/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgStore is the Postgres implementation of Store. Transactions run at read
// committed with a per-transaction lock_timeout.
type PgStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewPgStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PgStore {
	return &PgStore{pool: pool, lockTimeout: lockTimeout}
}

func (s *PgStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return storeErr("begin tx", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if s.lockTimeout > 0 {
		// SET LOCAL takes no bind parameters
		if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())); err != nil {
			return storeErr("set lock_timeout", err)
		}
	}

	if err = fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// storeErr wraps err and tags retryable contention with ErrStoreContention.
func storeErr(op string, err error) error {
	if db.IsTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreContention, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

const patientCols = `id, name, email, created_at, updated_at`

const clinicianCols = `id, name, specialty, created_at, updated_at`

const slotCols = `id, clinician_id, start_time, end_time, status, version, emergency, created_at, updated_at`

const bookingCols = `id, patient_id, slot_id, status, reason_for_visit, is_walk_in, rescheduled_from, created_at, updated_at`

const detailCols = `b.id, b.patient_id, b.slot_id, b.status, b.reason_for_visit, b.is_walk_in, b.rescheduled_from, b.created_at, b.updated_at,
	s.id, s.clinician_id, s.start_time, s.end_time, s.status, s.version, s.emergency, s.created_at, s.updated_at,
	p.id, p.name, p.email, p.created_at, p.updated_at,
	c.id, c.name, c.specialty, c.created_at, c.updated_at`

const detailFrom = `
	FROM bookings b
	JOIN slots s ON s.id = b.slot_id
	JOIN patients p ON p.id = b.patient_id
	JOIN clinicians c ON c.id = s.clinician_id`

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, storeErr("scan patient", err)
	}
	return &p, nil
}

func scanClinician(row pgx.Row) (*Clinician, error) {
	var c Clinician
	err := row.Scan(&c.ID, &c.Name, &c.Specialty, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicianNotFound
		}
		return nil, storeErr("scan clinician", err)
	}
	return &c, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.ClinicianID, &s.Start, &s.End, &s.Status, &s.Version, &s.Emergency, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, storeErr("scan slot", err)
	}
	return &s, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.PatientID, &b.SlotID, &b.Status, &b.ReasonForVisit, &b.IsWalkIn,
		&b.RescheduledFrom, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, storeErr("scan booking", err)
	}
	return &b, nil
}

func scanDetail(row pgx.Row) (*BookingDetail, error) {
	var (
		d BookingDetail
		s Slot
		p Patient
		c Clinician
	)
	err := row.Scan(
		&d.ID, &d.PatientID, &d.SlotID, &d.Status, &d.ReasonForVisit, &d.IsWalkIn, &d.RescheduledFrom, &d.CreatedAt, &d.UpdatedAt,
		&s.ID, &s.ClinicianID, &s.Start, &s.End, &s.Status, &s.Version, &s.Emergency, &s.CreatedAt, &s.UpdatedAt,
		&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt,
		&c.ID, &c.Name, &c.Specialty, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, storeErr("scan booking detail", err)
	}
	d.Slot, d.Patient, d.Clinician = &s, &p, &c
	return &d, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	result := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate rows", err)
	}
	return result, nil
}

// Snapshot reads

func (s *PgStore) GetBookingDetail(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	return scanDetail(s.pool.QueryRow(ctx, `SELECT `+detailCols+detailFrom+` WHERE b.id = $1`, id))
}

func (s *PgStore) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]BookingDetail, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+detailCols+detailFrom+`
		WHERE b.patient_id = $1
		ORDER BY s.start_time DESC, b.created_at DESC
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, storeErr("list bookings by patient", err)
	}
	return collect(rows, scanDetail)
}

func (s *PgStore) ListAvailableSlots(ctx context.Context, clinicianID uuid.UUID) ([]Slot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+slotCols+` FROM slots
		WHERE clinician_id = $1 AND status = 'available'
		ORDER BY start_time`, clinicianID)
	if err != nil {
		return nil, storeErr("list available slots", err)
	}
	return collect(rows, scanSlot)
}

func (s *PgStore) ListWalkIns(ctx context.Context, from, to time.Time) ([]BookingDetail, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+detailCols+detailFrom+`
		WHERE b.is_walk_in
		  AND b.status <> 'cancelled'
		  AND s.start_time < $2
		  AND s.end_time > $1
		ORDER BY s.start_time`, from, to)
	if err != nil {
		return nil, storeErr("list walk-ins", err)
	}
	return collect(rows, scanDetail)
}

// Transactional access

type pgTx struct {
	q queryable
}

func (t *pgTx) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(t.q.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

// LockPatient takes FOR NO KEY UPDATE, which still serializes walk-in
// admissions but leaves the FOR KEY SHARE taken by bookings FK checks free.
func (t *pgTx) LockPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(t.q.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1 FOR NO KEY UPDATE`, id))
}

func (t *pgTx) GetClinician(ctx context.Context, id uuid.UUID) (*Clinician, error) {
	return scanClinician(t.q.QueryRow(ctx, `SELECT `+clinicianCols+` FROM clinicians WHERE id = $1`, id))
}

func (t *pgTx) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return scanSlot(t.q.QueryRow(ctx, `SELECT `+slotCols+` FROM slots WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) LockSlots(ctx context.Context, ids ...uuid.UUID) error {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}

	rows, err := t.q.Query(ctx, `SELECT id FROM slots WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`, keys)
	if err != nil {
		return storeErr("lock slots", err)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return storeErr("lock slots", err)
	}
	return nil
}

func (t *pgTx) FindOverlappingSlots(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) ([]Slot, error) {
	rows, err := t.q.Query(ctx, `SELECT `+slotCols+` FROM slots
		WHERE clinician_id = $1
		  AND NOT emergency
		  AND tstzrange(start_time, end_time, '[)') && tstzrange($2, $3, '[)')
		ORDER BY start_time`, clinicianID, start, end)
	if err != nil {
		return nil, storeErr("find overlapping slots", err)
	}
	return collect(rows, scanSlot)
}

func (t *pgTx) InsertSlot(ctx context.Context, s *Slot) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO slots (id, clinician_id, start_time, end_time, status, version, emergency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, now(), now())
		RETURNING version, created_at, updated_at
	`, s.ID, s.ClinicianID, s.Start, s.End, s.Status, s.Emergency).Scan(&s.Version, &s.CreatedAt, &s.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case db.IsConstraintViolation(err, db.CodeExclusionViolation, db.ConstraintSlotNoOverlap):
		return fmt.Errorf("%w: clinician %s already has a slot in [%s, %s)", ErrSlotConflict,
			s.ClinicianID, s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339))
	case db.IsConstraintViolation(err, db.CodeForeignKeyViolation, ""):
		return ErrClinicianNotFound
	default:
		return storeErr("insert slot", err)
	}
}

func (t *pgTx) UpdateSlotStatus(ctx context.Context, id uuid.UUID, version int64, to SlotStatus) (*Slot, error) {
	slot, err := scanSlot(t.q.QueryRow(ctx, `
		UPDATE slots
		SET status = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $3
		RETURNING `+slotCols, id, to, version))
	if errors.Is(err, ErrSlotNotFound) {
		return nil, fmt.Errorf("%w: slot %s changed since version %d", ErrStoreContention, id, version)
	}
	return slot, err
}

func (t *pgTx) LockBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return scanBooking(t.q.QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) InsertBooking(ctx context.Context, b *Booking) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO bookings (id, patient_id, slot_id, status, reason_for_visit, is_walk_in, rescheduled_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at
	`, b.ID, b.PatientID, b.SlotID, b.Status, b.ReasonForVisit, b.IsWalkIn, b.RescheduledFrom).Scan(&b.CreatedAt, &b.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case db.IsConstraintViolation(err, db.CodeUniqueViolation, db.ConstraintOneLiveBookingSlot):
		return fmt.Errorf("%w: slot %s already has a live booking", ErrSlotUnavailable, b.SlotID)
	case db.IsConstraintViolation(err, db.CodeUniqueViolation, db.ConstraintOneActiveWalkIn):
		return fmt.Errorf("%w: patient %s", ErrDuplicateWalkIn, b.PatientID)
	case db.IsConstraintViolation(err, db.CodeForeignKeyViolation, ""):
		return ErrPatientNotFound
	default:
		return storeErr("insert booking", err)
	}
}

func (t *pgTx) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, error) {
	b, err := scanBooking(t.q.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingCols, id, to, from))
	if errors.Is(err, ErrBookingNotFound) {
		return nil, fmt.Errorf("%w: booking %s is no longer %s", ErrInvalidStatusTransition, id, from)
	}
	return b, err
}

func (t *pgTx) FindActiveWalkIn(ctx context.Context, patientID uuid.UUID) (*Booking, error) {
	return scanBooking(t.q.QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings
		WHERE patient_id = $1
		  AND is_walk_in
		  AND status IN ('pending', 'confirmed')
		LIMIT 1`, patientID))
}

func (t *pgTx) LockEndedWalkIns(ctx context.Context, cutoff time.Time, limit int) ([]Booking, error) {
	rows, err := t.q.Query(ctx, `
		SELECT b.id, b.patient_id, b.slot_id, b.status, b.reason_for_visit, b.is_walk_in, b.rescheduled_from, b.created_at, b.updated_at
		FROM bookings b
		JOIN slots s ON s.id = b.slot_id
		WHERE b.is_walk_in
		  AND b.status IN ('pending', 'confirmed')
		  AND s.end_time < $1
		ORDER BY s.end_time
		LIMIT $2
		FOR UPDATE OF b SKIP LOCKED`, cutoff, limit)
	if err != nil {
		return nil, storeErr("lock ended walk-ins", err)
	}
	return collect(rows, scanBooking)
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, slot_id, actor_id, actor_role, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`, ev.EventType, ev.BookingID, ev.SlotID, ev.ActorID, string(ev.ActorRole), ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return storeErr("insert event log", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
