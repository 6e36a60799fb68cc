package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/scheduling"
)

type DefineSlotRequest struct {
	ClinicianID string    `json:"clinician_id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type CreateBookingRequest struct {
	SlotID         string `json:"slot_id"`
	PatientID      string `json:"patient_id"`
	ReasonForVisit string `json:"reason_for_visit"`
}

type RescheduleBookingRequest struct {
	NewSlotID string `json:"new_slot_id"`
}

type RegisterWalkInRequest struct {
	PatientID      string `json:"patient_id"`
	ClinicianID    string `json:"clinician_id"`
	ReasonForVisit string `json:"reason_for_visit"`
}

type SlotResponse struct {
	ID          uuid.UUID `json:"id"`
	ClinicianID uuid.UUID `json:"clinician_id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Status      string    `json:"status"`
	Version     int64     `json:"version"`
	Emergency   bool      `json:"emergency"`
}

type BookingResponse struct {
	ID              uuid.UUID  `json:"id"`
	SlotID          uuid.UUID  `json:"slot_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	Status          string     `json:"status"`
	ReasonForVisit  string     `json:"reason_for_visit,omitempty"`
	IsWalkIn        bool       `json:"is_walk_in"`
	RescheduledFrom *uuid.UUID `json:"rescheduled_from,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type PersonResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type BookingDetailResponse struct {
	BookingResponse
	Slot      SlotResponse   `json:"slot"`
	Patient   PersonResponse `json:"patient"`
	Clinician PersonResponse `json:"clinician"`
}

type ListResponse[T any] struct {
	Data []T `json:"data"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s scheduling.Slot) SlotResponse {
	return SlotResponse{
		ID:          s.ID,
		ClinicianID: s.ClinicianID,
		Start:       s.Start,
		End:         s.End,
		Status:      string(s.Status),
		Version:     s.Version,
		Emergency:   s.Emergency,
	}
}

func toBookingResponse(b scheduling.Booking) BookingResponse {
	return BookingResponse{
		ID:              b.ID,
		SlotID:          b.SlotID,
		PatientID:       b.PatientID,
		Status:          string(b.Status),
		ReasonForVisit:  b.ReasonForVisit,
		IsWalkIn:        b.IsWalkIn,
		RescheduledFrom: b.RescheduledFrom,
		CreatedAt:       b.CreatedAt,
	}
}

func toBookingDetailResponse(d scheduling.BookingDetail) BookingDetailResponse {
	resp := BookingDetailResponse{BookingResponse: toBookingResponse(d.Booking)}
	if d.Slot != nil {
		resp.Slot = toSlotResponse(*d.Slot)
	}
	if d.Patient != nil {
		resp.Patient = PersonResponse{ID: d.Patient.ID, Name: d.Patient.Name}
	}
	if d.Clinician != nil {
		resp.Clinician = PersonResponse{ID: d.Clinician.ID, Name: d.Clinician.Name}
	}
	return resp
}

func toSlotList(slots []scheduling.Slot) ListResponse[SlotResponse] {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	return ListResponse[SlotResponse]{Data: out}
}

func toBookingDetailList(details []scheduling.BookingDetail) ListResponse[BookingDetailResponse] {
	out := make([]BookingDetailResponse, 0, len(details))
	for _, d := range details {
		out = append(out, toBookingDetailResponse(d))
	}
	return ListResponse[BookingDetailResponse]{Data: out}
}
