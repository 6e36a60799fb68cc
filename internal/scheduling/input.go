package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidInput = errors.New("invalid input")

const (
	MaxSlotDuration   = 12 * time.Hour
	MaxReasonForVisit = 1000
)

func invalid(field, msg string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidInput, field, msg)
}

type DefineSlotInput struct {
	ClinicianID uuid.UUID
	Start       time.Time
	End         time.Time
}

func (in DefineSlotInput) Validate() error {
	if in.ClinicianID == uuid.Nil {
		return invalid("clinician_id", "is required")
	}
	if in.Start.IsZero() || in.End.IsZero() {
		return invalid("start/end", "are required")
	}
	if !in.Start.Before(in.End) {
		return invalid("start", "must be before end")
	}
	if in.End.Sub(in.Start) > MaxSlotDuration {
		return invalid("end", fmt.Sprintf("must be within %s of start", MaxSlotDuration))
	}
	return nil
}

type CreateBookingInput struct {
	PatientID      uuid.UUID
	SlotID         uuid.UUID
	ReasonForVisit string
}

func (in *CreateBookingInput) Validate() error {
	if in.PatientID == uuid.Nil {
		return invalid("patient_id", "is required")
	}
	if in.SlotID == uuid.Nil {
		return invalid("slot_id", "is required")
	}
	reason, err := normalizeReason(in.ReasonForVisit)
	if err != nil {
		return err
	}
	in.ReasonForVisit = reason
	return nil
}

type RegisterWalkInInput struct {
	PatientID      uuid.UUID
	ClinicianID    uuid.UUID
	ReasonForVisit string
}

func (in *RegisterWalkInInput) Validate() error {
	if in.PatientID == uuid.Nil {
		return invalid("patient_id", "is required")
	}
	if in.ClinicianID == uuid.Nil {
		return invalid("clinician_id", "is required")
	}
	reason, err := normalizeReason(in.ReasonForVisit)
	if err != nil {
		return err
	}
	in.ReasonForVisit = reason
	return nil
}

func normalizeReason(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) > MaxReasonForVisit {
		return "", invalid("reason_for_visit", fmt.Sprintf("must be at most %d bytes", MaxReasonForVisit))
	}
	return s, nil
}
