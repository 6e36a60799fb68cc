package scheduling

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestCreateBookingInput_Validate(t *testing.T) {
	tests := []struct {
		name    string
		in      CreateBookingInput
		wantErr bool
	}{
		{"valid", CreateBookingInput{PatientID: uuid.New(), SlotID: uuid.New(), ReasonForVisit: "checkup"}, false},
		{"empty reason", CreateBookingInput{PatientID: uuid.New(), SlotID: uuid.New()}, false},
		{"missing slot", CreateBookingInput{PatientID: uuid.New()}, true},
		{"reason too long", CreateBookingInput{PatientID: uuid.New(), SlotID: uuid.New(), ReasonForVisit: strings.Repeat("x", MaxReasonForVisit+1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRegisterWalkInInput_ValidateTrimsReason(t *testing.T) {
	in := RegisterWalkInInput{PatientID: uuid.New(), ClinicianID: uuid.New(), ReasonForVisit: "\n  fever \t"}
	if err := in.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.ReasonForVisit != "fever" {
		t.Errorf("expected trimmed reason, got %q", in.ReasonForVisit)
	}
}
