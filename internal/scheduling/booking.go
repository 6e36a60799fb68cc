package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateBooking claims an available slot for a patient. The slot row is
// locked for the whole transaction, so concurrent claims on the same slot
// serialize and all but the first see ErrSlotUnavailable.
func (s *Service) CreateBooking(ctx context.Context, actor Actor, in CreateBookingInput) (*Booking, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var (
		created     *Booking
		clinicianID uuid.UUID
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetPatient(ctx, in.PatientID); err != nil {
			return err
		}

		slot, err := tx.LockSlot(ctx, in.SlotID)
		if err != nil {
			return err
		}
		if slot.Status != SlotAvailable {
			return fmt.Errorf("%w: slot %s is %s", ErrSlotUnavailable, slot.ID, slot.Status)
		}

		if _, err := tx.UpdateSlotStatus(ctx, slot.ID, slot.Version, SlotBooked); err != nil {
			return fmt.Errorf("book slot: %w", err)
		}

		b := &Booking{
			ID:             uuid.New(),
			PatientID:      in.PatientID,
			SlotID:         slot.ID,
			Status:         BookingConfirmed,
			ReasonForVisit: in.ReasonForVisit,
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		created = b
		clinicianID = slot.ClinicianID

		return s.recordEvent(ctx, tx, actor, EventBookingCreated, b.ID, slot.ID, map[string]any{
			"patient_id": in.PatientID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, clinicianID)
	return created, nil
}

// CancelBooking cancels a live booking and reopens its slot in the same
// transaction. Cancelling an already cancelled booking returns it unchanged
// and leaves the slot alone, since the slot may have been booked again since.
func (s *Service) CancelBooking(ctx context.Context, actor Actor, bookingID uuid.UUID) (*Booking, error) {
	var (
		result      *Booking
		clinicianID uuid.UUID
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status == BookingCancelled {
			result = b
			return nil
		}
		if !b.Status.IsLive() {
			return fmt.Errorf("%w: booking %s is %s", ErrInvalidStatusTransition, b.ID, b.Status)
		}

		slot, err := tx.LockSlot(ctx, b.SlotID)
		if err != nil {
			return fmt.Errorf("load booked slot: %w", err)
		}

		result, err = tx.UpdateBookingStatus(ctx, b.ID, b.Status, BookingCancelled)
		if err != nil {
			return fmt.Errorf("cancel booking: %w", err)
		}

		if err := releaseSlot(ctx, tx, slot); err != nil {
			return err
		}
		clinicianID = slot.ClinicianID

		return s.recordEvent(ctx, tx, actor, EventBookingCancelled, b.ID, slot.ID, map[string]any{
			"previous_status": string(b.Status),
		})
	})
	if err != nil {
		return nil, err
	}

	if clinicianID != uuid.Nil {
		s.invalidate(ctx, clinicianID)
	}
	return result, nil
}

// RescheduleBooking moves a live booking to another slot. The original
// booking is cancelled, its slot reopened, the new slot booked and a new
// confirmed booking inserted, all in one transaction.
func (s *Service) RescheduleBooking(ctx context.Context, actor Actor, bookingID, newSlotID uuid.UUID) (*Booking, error) {
	if newSlotID == uuid.Nil {
		return nil, invalid("new_slot_id", "is required")
	}

	var (
		created    *Booking
		clinicians []uuid.UUID
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		orig, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !orig.Status.IsLive() {
			return fmt.Errorf("%w: booking %s is %s", ErrInvalidStatusTransition, orig.ID, orig.Status)
		}

		// both slots up front, in a stable order, so opposing reschedules
		// cannot deadlock
		if err := tx.LockSlots(ctx, orig.SlotID, newSlotID); err != nil {
			return fmt.Errorf("lock slots: %w", err)
		}

		oldSlot, err := tx.LockSlot(ctx, orig.SlotID)
		if err != nil {
			return fmt.Errorf("load booked slot: %w", err)
		}
		if _, err := tx.UpdateBookingStatus(ctx, orig.ID, orig.Status, BookingCancelled); err != nil {
			return fmt.Errorf("cancel original booking: %w", err)
		}
		if err := releaseSlot(ctx, tx, oldSlot); err != nil {
			return err
		}

		newSlot, err := tx.LockSlot(ctx, newSlotID)
		if err != nil {
			return err
		}
		if newSlot.Status != SlotAvailable {
			return fmt.Errorf("%w: slot %s is %s", ErrSlotUnavailable, newSlot.ID, newSlot.Status)
		}
		if _, err := tx.UpdateSlotStatus(ctx, newSlot.ID, newSlot.Version, SlotBooked); err != nil {
			return fmt.Errorf("book slot: %w", err)
		}

		origID := orig.ID
		b := &Booking{
			ID:              uuid.New(),
			PatientID:       orig.PatientID,
			SlotID:          newSlot.ID,
			Status:          BookingConfirmed,
			ReasonForVisit:  orig.ReasonForVisit,
			RescheduledFrom: &origID,
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		created = b
		clinicians = []uuid.UUID{oldSlot.ClinicianID}
		if newSlot.ClinicianID != oldSlot.ClinicianID {
			clinicians = append(clinicians, newSlot.ClinicianID)
		}

		return s.recordEvent(ctx, tx, actor, EventBookingRescheduled, b.ID, newSlot.ID, map[string]any{
			"rescheduled_from": orig.ID.String(),
			"previous_slot_id": oldSlot.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, clinicians...)
	return created, nil
}

// releaseSlot frees the slot of a booking that ended early. Emergency slots
// belong to their walk-in alone, so they are retired as blocked rather than
// reopened.
func releaseSlot(ctx context.Context, tx Tx, slot *Slot) error {
	if slot.Status != SlotBooked {
		return nil
	}
	to := SlotAvailable
	if slot.Emergency {
		to = SlotBlocked
	}
	if _, err := tx.UpdateSlotStatus(ctx, slot.ID, slot.Version, to); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// CompleteBooking closes a live booking after the visit. The slot stays
// booked as history.
func (s *Service) CompleteBooking(ctx context.Context, actor Actor, bookingID uuid.UUID) (*Booking, error) {
	return s.finish(ctx, actor, bookingID, BookingCompleted, EventBookingCompleted)
}

// MarkNoShow closes a live booking whose patient never arrived. The slot
// stays booked as history.
func (s *Service) MarkNoShow(ctx context.Context, actor Actor, bookingID uuid.UUID) (*Booking, error) {
	return s.finish(ctx, actor, bookingID, BookingNoShow, EventBookingNoShow)
}

func (s *Service) finish(ctx context.Context, actor Actor, bookingID uuid.UUID, to BookingStatus, eventType string) (*Booking, error) {
	var result *Booking
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !b.Status.IsLive() {
			return fmt.Errorf("%w: booking %s is %s", ErrInvalidStatusTransition, b.ID, b.Status)
		}

		result, err = tx.UpdateBookingStatus(ctx, b.ID, b.Status, to)
		if err != nil {
			return fmt.Errorf("update booking status: %w", err)
		}

		return s.recordEvent(ctx, tx, actor, eventType, b.ID, b.SlotID, map[string]any{
			"previous_status": string(b.Status),
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetBooking retrieves a booking with its slot, patient and clinician.
func (s *Service) GetBooking(ctx context.Context, bookingID uuid.UUID) (*BookingDetail, error) {
	detail, err := s.store.GetBookingDetail(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return detail, nil
}

// ListPatientBookings lists a patient's bookings, latest slot first.
func (s *Service) ListPatientBookings(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]BookingDetail, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	bookings, err := s.store.ListBookingsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookings by patient: %w", err)
	}
	return bookings, nil
}
