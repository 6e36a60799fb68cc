package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotBlocked   SlotStatus = "blocked"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
	BookingNoShow    BookingStatus = "no_show"
)

// IsLive reports whether the booking still holds its slot.
func (s BookingStatus) IsLive() bool {
	return s == BookingPending || s == BookingConfirmed
}

type Role string

const (
	RolePatient   Role = "patient"
	RoleClinician Role = "clinician"
	RoleLabTech   Role = "lab_technician"
	RoleStaff     Role = "staff"
	RoleAdmin     Role = "admin"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleClinician, RoleLabTech, RoleStaff, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is the caller identity, authenticated upstream.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

var SystemActor = Actor{Role: RoleSystem}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Clinician struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot is a half-open interval [Start, End) on a clinician's calendar.
type Slot struct {
	ID          uuid.UUID
	ClinicianID uuid.UUID
	Start       time.Time
	End         time.Time
	Status      SlotStatus
	Version     int64
	Emergency   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Overlaps reports whether [start, end) intersects the slot.
func (s Slot) Overlaps(start, end time.Time) bool {
	return start.Before(s.End) && s.Start.Before(end)
}

type Booking struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	SlotID          uuid.UUID
	Status          BookingStatus
	ReasonForVisit  string
	IsWalkIn        bool
	RescheduledFrom *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	SlotID    *uuid.UUID
	ActorID   *uuid.UUID
	ActorRole Role
	Payload   []byte
	CreatedAt time.Time
}

// BookingDetail is a booking with its slot, patient and clinician resolved
// for display.
type BookingDetail struct {
	Booking
	Slot      *Slot
	Patient   *Patient
	Clinician *Clinician
}
