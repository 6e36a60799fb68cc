package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound   = errors.New("patient not found")
	ErrClinicianNotFound = errors.New("clinician not found")
	ErrSlotNotFound      = errors.New("slot not found")
	ErrBookingNotFound   = errors.New("booking not found")

	ErrSlotConflict            = errors.New("slot overlaps an existing slot")
	ErrSlotUnavailable         = errors.New("slot is not available")
	ErrDuplicateWalkIn         = errors.New("patient already has an active walk-in")
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrStoreContention covers lock timeouts, deadlocks and version
	// mismatches. Nothing was written; the caller may retry.
	ErrStoreContention = errors.New("store contention, retry")
)

// Store hands out transactional units of work and serves snapshot reads.
//
// WithTx commits only if fn returns nil. Any error, panic or context
// expiry rolls back every write made through tx.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetBookingDetail(ctx context.Context, id uuid.UUID) (*BookingDetail, error)
	ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]BookingDetail, error)
	ListAvailableSlots(ctx context.Context, clinicianID uuid.UUID) ([]Slot, error)
	// ListWalkIns returns non-cancelled walk-ins whose slot intersects [from, to).
	ListWalkIns(ctx context.Context, from, to time.Time) ([]BookingDetail, error)
}

// Tx is the set of writes and locking reads available inside WithTx.
// Lock* methods hold the row until the transaction ends.
type Tx interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	LockPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetClinician(ctx context.Context, id uuid.UUID) (*Clinician, error)

	LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	// LockSlots locks the existing slots among ids in a stable order.
	LockSlots(ctx context.Context, ids ...uuid.UUID) error
	// FindOverlappingSlots ignores emergency slots.
	FindOverlappingSlots(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) ([]Slot, error)
	InsertSlot(ctx context.Context, s *Slot) error
	// UpdateSlotStatus is a compare-and-swap on version.
	UpdateSlotStatus(ctx context.Context, id uuid.UUID, version int64, to SlotStatus) (*Slot, error)

	LockBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	InsertBooking(ctx context.Context, b *Booking) error
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, error)
	// FindActiveWalkIn returns ErrBookingNotFound when the patient has none.
	FindActiveWalkIn(ctx context.Context, patientID uuid.UUID) (*Booking, error)
	// LockEndedWalkIns skips rows locked by other transactions.
	LockEndedWalkIns(ctx context.Context, cutoff time.Time, limit int) ([]Booking, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// AvailabilityCache caches ListAvailable results per clinician.
type AvailabilityCache interface {
	GetAvailable(ctx context.Context, clinicianID uuid.UUID) ([]Slot, bool, error)
	// Generation advances on every Invalidate of the clinician.
	Generation(ctx context.Context, clinicianID uuid.UUID) (int64, error)
	// SetAvailable stores slots only while the generation still equals gen.
	SetAvailable(ctx context.Context, clinicianID uuid.UUID, gen int64, slots []Slot) error
	Invalidate(ctx context.Context, clinicianIDs ...uuid.UUID) error
}
