package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/scheduling"
)

// SchedulingService is the part of scheduling.Service the handlers call.
type SchedulingService interface {
	DefineSlot(ctx context.Context, actor scheduling.Actor, in scheduling.DefineSlotInput) (*scheduling.Slot, error)
	BlockSlot(ctx context.Context, actor scheduling.Actor, slotID uuid.UUID) (*scheduling.Slot, error)
	ListAvailable(ctx context.Context, clinicianID uuid.UUID) ([]scheduling.Slot, error)

	CreateBooking(ctx context.Context, actor scheduling.Actor, in scheduling.CreateBookingInput) (*scheduling.Booking, error)
	CancelBooking(ctx context.Context, actor scheduling.Actor, bookingID uuid.UUID) (*scheduling.Booking, error)
	RescheduleBooking(ctx context.Context, actor scheduling.Actor, bookingID, newSlotID uuid.UUID) (*scheduling.Booking, error)
	CompleteBooking(ctx context.Context, actor scheduling.Actor, bookingID uuid.UUID) (*scheduling.Booking, error)
	MarkNoShow(ctx context.Context, actor scheduling.Actor, bookingID uuid.UUID) (*scheduling.Booking, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*scheduling.BookingDetail, error)
	ListPatientBookings(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]scheduling.BookingDetail, error)

	RegisterWalkIn(ctx context.Context, actor scheduling.Actor, in scheduling.RegisterWalkInInput) (*scheduling.Booking, error)
	ListWalkInsForDate(ctx context.Context, date time.Time) ([]scheduling.BookingDetail, error)
}

const dateLayout = "2006-01-02"

// Slots

func defineSlotHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DefineSlotRequest
		if !decodeBody(w, r, &req) {
			return
		}

		clinicianID, ok := parseUUID(w, "clinician_id", req.ClinicianID)
		if !ok {
			return
		}

		actor, _ := GetActor(r.Context())
		slot, err := svc.DefineSlot(r.Context(), actor, scheduling.DefineSlotInput{
			ClinicianID: clinicianID,
			Start:       req.Start,
			End:         req.End,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotResponse(*slot))
	}
}

func blockSlotHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, "slot_id", chi.URLParam(r, "id"))
		if !ok {
			return
		}

		actor, _ := GetActor(r.Context())
		slot, err := svc.BlockSlot(r.Context(), actor, id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponse(*slot))
	}
}

func listAvailableSlotsHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicianID, ok := parseUUID(w, "clinician_id", chi.URLParam(r, "id"))
		if !ok {
			return
		}

		slots, err := svc.ListAvailable(r.Context(), clinicianID)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotList(slots))
	}
}

// Bookings

func createBookingHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if !decodeBody(w, r, &req) {
			return
		}

		slotID, ok := parseUUID(w, "slot_id", req.SlotID)
		if !ok {
			return
		}
		patientID, ok := parseUUID(w, "patient_id", req.PatientID)
		if !ok {
			return
		}

		actor, _ := GetActor(r.Context())
		b, err := svc.CreateBooking(r.Context(), actor, scheduling.CreateBookingInput{
			PatientID:      patientID,
			SlotID:         slotID,
			ReasonForVisit: req.ReasonForVisit,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(*b))
	}
}

func getBookingHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, "booking_id", chi.URLParam(r, "id"))
		if !ok {
			return
		}

		detail, err := svc.GetBooking(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingDetailResponse(*detail))
	}
}

type bookingTransition func(ctx context.Context, actor scheduling.Actor, bookingID uuid.UUID) (*scheduling.Booking, error)

// transitionHandler serves the POST /bookings/{id}/<action> routes that
// take no body.
func transitionHandler(fn bookingTransition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, "booking_id", chi.URLParam(r, "id"))
		if !ok {
			return
		}

		actor, _ := GetActor(r.Context())
		b, err := fn(r.Context(), actor, id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(*b))
	}
}

func rescheduleBookingHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, "booking_id", chi.URLParam(r, "id"))
		if !ok {
			return
		}

		var req RescheduleBookingRequest
		if !decodeBody(w, r, &req) {
			return
		}
		newSlotID, ok := parseUUID(w, "new_slot_id", req.NewSlotID)
		if !ok {
			return
		}

		actor, _ := GetActor(r.Context())
		b, err := svc.RescheduleBooking(r.Context(), actor, id, newSlotID)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(*b))
	}
}

func listPatientBookingsHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := parseUUID(w, "patient_id", chi.URLParam(r, "id"))
		if !ok {
			return
		}

		limit, ok := queryInt(w, r, "limit")
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset")
		if !ok {
			return
		}

		bookings, err := svc.ListPatientBookings(r.Context(), patientID, limit, offset)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingDetailList(bookings))
	}
}

// Walk-ins

func registerWalkInHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterWalkInRequest
		if !decodeBody(w, r, &req) {
			return
		}

		patientID, ok := parseUUID(w, "patient_id", req.PatientID)
		if !ok {
			return
		}
		clinicianID, ok := parseUUID(w, "clinician_id", req.ClinicianID)
		if !ok {
			return
		}

		actor, _ := GetActor(r.Context())
		b, err := svc.RegisterWalkIn(r.Context(), actor, scheduling.RegisterWalkInInput{
			PatientID:      patientID,
			ClinicianID:    clinicianID,
			ReasonForVisit: req.ReasonForVisit,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(*b))
	}
}

func listWalkInsHandler(svc SchedulingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("date")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "missing_date", "date query parameter is required (YYYY-MM-DD)")
			return
		}
		date, err := time.Parse(dateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted YYYY-MM-DD")
			return
		}

		walkIns, err := svc.ListWalkInsForDate(r.Context(), date)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingDetailList(walkIns))
	}
}

// Helpers

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func parseUUID(w http.ResponseWriter, field, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid_"+key, key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, scheduling.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrClinicianNotFound):
		writeError(w, http.StatusNotFound, "clinician_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, scheduling.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, scheduling.ErrDuplicateWalkIn):
		writeError(w, http.StatusConflict, "duplicate_walk_in", err.Error())
	case errors.Is(err, scheduling.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrStoreContention):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "store_contention", "the schedule is busy, please retry shortly")
	default:
		loggerFrom(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
