package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// sweepBatch bounds how many walk-ins one sweep transaction closes.
const sweepBatch = 500

// RegisterWalkIn admits a patient immediately. It synthesizes an emergency
// slot starting now, already booked, and a confirmed walk-in booking on it.
// Emergency slots skip the overlap check: they may sit on top of the
// clinician's regular calendar.
//
// A patient holds at most one active walk-in at a time. The guard has no
// date bound; CompleteEndedWalkIns closes walk-ins once their slot is over.
func (s *Service) RegisterWalkIn(ctx context.Context, actor Actor, in RegisterWalkInInput) (*Booking, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var created *Booking
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		// serializes concurrent walk-ins for one patient
		if _, err := tx.LockPatient(ctx, in.PatientID); err != nil {
			return err
		}
		if _, err := tx.GetClinician(ctx, in.ClinicianID); err != nil {
			return err
		}

		existing, err := tx.FindActiveWalkIn(ctx, in.PatientID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: patient %s has walk-in booking %s", ErrDuplicateWalkIn, in.PatientID, existing.ID)
		case !errors.Is(err, ErrBookingNotFound):
			return fmt.Errorf("check active walk-in: %w", err)
		}

		now := s.clock()
		slot := &Slot{
			ID:          uuid.New(),
			ClinicianID: in.ClinicianID,
			Start:       now,
			End:         now.Add(s.walkInDuration),
			Status:      SlotBooked,
			Emergency:   true,
		}
		if err := tx.InsertSlot(ctx, slot); err != nil {
			return fmt.Errorf("insert emergency slot: %w", err)
		}

		b := &Booking{
			ID:             uuid.New(),
			PatientID:      in.PatientID,
			SlotID:         slot.ID,
			Status:         BookingConfirmed,
			ReasonForVisit: in.ReasonForVisit,
			IsWalkIn:       true,
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		created = b

		return s.recordEvent(ctx, tx, actor, EventWalkInRegistered, b.ID, slot.ID, map[string]any{
			"clinician_id": in.ClinicianID.String(),
			"start":        slot.Start,
			"end":          slot.End,
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ListWalkInsForDate lists non-cancelled walk-ins whose slot falls on the
// calendar day named by date's year, month and day, read in the clinic time
// zone.
func (s *Service) ListWalkInsForDate(ctx context.Context, date time.Time) ([]BookingDetail, error) {
	y, m, d := date.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	to := from.AddDate(0, 0, 1)

	walkIns, err := s.store.ListWalkIns(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list walk-ins: %w", err)
	}
	return walkIns, nil
}

// CompleteEndedWalkIns marks live walk-ins whose emergency slot ended before
// cutoff as completed, and returns how many it closed. Intended to be called
// by the sweeper periodically.
func (s *Service) CompleteEndedWalkIns(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for {
		n, err := s.completeWalkInBatch(ctx, cutoff)
		total += n
		if err != nil {
			return total, err
		}
		if n < sweepBatch {
			return total, nil
		}
	}
}

func (s *Service) completeWalkInBatch(ctx context.Context, cutoff time.Time) (int, error) {
	closed := 0
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		closed = 0
		ended, err := tx.LockEndedWalkIns(ctx, cutoff, sweepBatch)
		if err != nil {
			return fmt.Errorf("find ended walk-ins: %w", err)
		}

		for _, b := range ended {
			if _, err := tx.UpdateBookingStatus(ctx, b.ID, b.Status, BookingCompleted); err != nil {
				return fmt.Errorf("complete walk-in %s: %w", b.ID, err)
			}
			if err := s.recordEvent(ctx, tx, SystemActor, EventWalkInAutoClosed, b.ID, b.SlotID, map[string]any{
				"cutoff": cutoff,
			}); err != nil {
				return err
			}
			closed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if closed > 0 {
		s.logger.Info("completed ended walk-ins", zap.Int("count", closed), zap.Time("cutoff", cutoff))
	}
	return closed, nil
}
