package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefineSlot adds an available slot to a clinician's calendar. It fails with
// ErrSlotConflict if the interval overlaps any existing non-emergency slot,
// whatever its status.
func (s *Service) DefineSlot(ctx context.Context, actor Actor, in DefineSlotInput) (*Slot, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	start := in.Start.UTC().Truncate(time.Microsecond)
	end := in.End.UTC().Truncate(time.Microsecond)

	var created *Slot
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetClinician(ctx, in.ClinicianID); err != nil {
			return err
		}

		overlapping, err := tx.FindOverlappingSlots(ctx, in.ClinicianID, start, end)
		if err != nil {
			return fmt.Errorf("check overlapping slots: %w", err)
		}
		if len(overlapping) > 0 {
			o := overlapping[0]
			return fmt.Errorf("%w: slot %s [%s, %s)", ErrSlotConflict, o.ID,
				o.Start.Format(time.RFC3339), o.End.Format(time.RFC3339))
		}

		slot := &Slot{
			ID:          uuid.New(),
			ClinicianID: in.ClinicianID,
			Start:       start,
			End:         end,
			Status:      SlotAvailable,
		}
		if err := tx.InsertSlot(ctx, slot); err != nil {
			return err
		}
		created = slot

		return s.recordEvent(ctx, tx, actor, EventSlotDefined, uuid.Nil, slot.ID, map[string]any{
			"clinician_id": in.ClinicianID.String(),
			"start":        start,
			"end":          end,
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, created.ClinicianID)
	return created, nil
}

// BlockSlot takes an available slot off the bookable calendar.
func (s *Service) BlockSlot(ctx context.Context, actor Actor, slotID uuid.UUID) (*Slot, error) {
	var blocked *Slot
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		slot, err := tx.LockSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.Status != SlotAvailable {
			return fmt.Errorf("%w: slot %s is %s", ErrSlotUnavailable, slot.ID, slot.Status)
		}

		blocked, err = tx.UpdateSlotStatus(ctx, slot.ID, slot.Version, SlotBlocked)
		if err != nil {
			return fmt.Errorf("block slot: %w", err)
		}

		return s.recordEvent(ctx, tx, actor, EventSlotBlocked, uuid.Nil, slot.ID, map[string]any{})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, blocked.ClinicianID)
	return blocked, nil
}

// ListAvailable returns the clinician's available slots ordered by start.
func (s *Service) ListAvailable(ctx context.Context, clinicianID uuid.UUID) ([]Slot, error) {
	fill := false
	var gen int64
	if s.cache != nil {
		slots, ok, err := s.cache.GetAvailable(ctx, clinicianID)
		if err != nil {
			s.logger.Warn("availability cache read failed",
				zap.String("clinician_id", clinicianID.String()),
				zap.Error(err),
			)
		} else if ok {
			return slots, nil
		}

		// sampled before the store read so a commit in between voids the fill
		gen, err = s.cache.Generation(ctx, clinicianID)
		fill = err == nil
	}

	slots, err := s.store.ListAvailableSlots(ctx, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}

	if fill {
		if err := s.cache.SetAvailable(ctx, clinicianID, gen, slots); err != nil {
			s.logger.Warn("availability cache write failed",
				zap.String("clinician_id", clinicianID.String()),
				zap.Error(err),
			)
		}
	}
	return slots, nil
}
