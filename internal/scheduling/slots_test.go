package scheduling

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDefineSlot(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 3, 3, 10, 0, 0, 0, time.FixedZone("UTC+2", 2*3600))

	slot, err := f.svc.DefineSlot(context.Background(), staffActor, DefineSlotInput{
		ClinicianID: f.clinician.ID,
		Start:       start,
		End:         start.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot.Status != SlotAvailable || slot.Emergency {
		t.Errorf("unexpected slot: %+v", slot)
	}
	if slot.Start.Location() != time.UTC || !slot.Start.Equal(start) {
		t.Errorf("expected start normalized to UTC, got %s", slot.Start)
	}
	if f.cache.invalidated[f.clinician.ID] != 1 {
		t.Errorf("expected availability invalidated once, got %d", f.cache.invalidated[f.clinician.ID])
	}
}

func TestDefineSlot_Overlap(t *testing.T) {
	base := testNow.Add(24 * time.Hour)

	tests := []struct {
		name     string
		start    time.Time
		end      time.Time
		conflict bool
	}{
		{"identical", base, base.Add(30 * time.Minute), true},
		{"starts inside", base.Add(15 * time.Minute), base.Add(45 * time.Minute), true},
		{"contains", base.Add(-time.Hour), base.Add(time.Hour), true},
		{"adjacent after", base.Add(30 * time.Minute), base.Add(time.Hour), false},
		{"adjacent before", base.Add(-30 * time.Minute), base, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			existing := f.defineSlot(t, base, 30*time.Minute)

			_, err := f.svc.DefineSlot(context.Background(), staffActor, DefineSlotInput{
				ClinicianID: f.clinician.ID,
				Start:       tt.start,
				End:         tt.end,
			})
			if !tt.conflict {
				if err != nil {
					t.Fatalf("expected no conflict, got %v", err)
				}
				return
			}
			if !errors.Is(err, ErrSlotConflict) {
				t.Fatalf("expected ErrSlotConflict, got %v", err)
			}
			if !strings.Contains(err.Error(), existing.ID.String()) {
				t.Errorf("expected error to name the conflicting slot, got %v", err)
			}
		})
	}
}

func TestDefineSlot_OverlapIgnoresStatusAndOtherClinicians(t *testing.T) {
	f := newFixture(t)
	base := testNow.Add(24 * time.Hour)
	slot := f.defineSlot(t, base, 30*time.Minute)
	if _, err := f.svc.BlockSlot(context.Background(), staffActor, slot.ID); err != nil {
		t.Fatalf("block: %v", err)
	}

	_, err := f.svc.DefineSlot(context.Background(), staffActor, DefineSlotInput{
		ClinicianID: f.clinician.ID, Start: base, End: base.Add(30 * time.Minute),
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected blocked slot to still conflict, got %v", err)
	}

	other := f.store.addClinician("Dr. Osei")
	if _, err := f.svc.DefineSlot(context.Background(), staffActor, DefineSlotInput{
		ClinicianID: other.ID, Start: base, End: base.Add(30 * time.Minute),
	}); err != nil {
		t.Fatalf("expected other clinician to be free, got %v", err)
	}
}

func TestDefineSlot_InsertBackstop(t *testing.T) {
	f := newFixture(t)
	base := testNow.Add(24 * time.Hour)
	f.defineSlot(t, base, 30*time.Minute)
	f.store.skipOverlapQuery = true

	_, err := f.svc.DefineSlot(context.Background(), staffActor, DefineSlotInput{
		ClinicianID: f.clinician.ID, Start: base.Add(10 * time.Minute), End: base.Add(20 * time.Minute),
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict from insert, got %v", err)
	}
	if slots, _, _ := f.store.counts(); slots != 1 {
		t.Errorf("expected 1 slot, got %d", slots)
	}
}

func TestDefineSlot_Invalid(t *testing.T) {
	f := newFixture(t)
	base := testNow.Add(24 * time.Hour)

	tests := []struct {
		name string
		in   DefineSlotInput
		want error
	}{
		{"missing clinician", DefineSlotInput{Start: base, End: base.Add(time.Hour)}, ErrInvalidInput},
		{"empty interval", DefineSlotInput{ClinicianID: f.clinician.ID, Start: base, End: base}, ErrInvalidInput},
		{"reversed", DefineSlotInput{ClinicianID: f.clinician.ID, Start: base, End: base.Add(-time.Minute)}, ErrInvalidInput},
		{"too long", DefineSlotInput{ClinicianID: f.clinician.ID, Start: base, End: base.Add(13 * time.Hour)}, ErrInvalidInput},
		{"unknown clinician", DefineSlotInput{ClinicianID: uuid.New(), Start: base, End: base.Add(time.Hour)}, ErrClinicianNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.DefineSlot(context.Background(), staffActor, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestBlockSlot(t *testing.T) {
	f := newFixture(t)
	slot := f.defineSlot(t, testNow.Add(time.Hour), 30*time.Minute)

	blocked, err := f.svc.BlockSlot(context.Background(), staffActor, slot.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocked.Status != SlotBlocked {
		t.Errorf("expected blocked, got %s", blocked.Status)
	}
	if _, err := f.svc.BlockSlot(context.Background(), staffActor, slot.ID); !errors.Is(err, ErrSlotUnavailable) {
		t.Errorf("expected ErrSlotUnavailable on repeat, got %v", err)
	}
	if _, err := f.svc.BlockSlot(context.Background(), staffActor, uuid.New()); !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("expected ErrSlotNotFound, got %v", err)
	}
}

func TestListAvailable_TracksBookings(t *testing.T) {
	f := newFixture(t)
	first := f.defineSlot(t, testNow.Add(2*time.Hour), 30*time.Minute)
	second := f.defineSlot(t, testNow.Add(time.Hour), 30*time.Minute)

	assertAvailable := func(want ...uuid.UUID) {
		t.Helper()
		slots, err := f.svc.ListAvailable(context.Background(), f.clinician.ID)
		if err != nil {
			t.Fatalf("list available: %v", err)
		}
		if len(slots) != len(want) {
			t.Fatalf("expected %d slots, got %d", len(want), len(slots))
		}
		for i, id := range want {
			if slots[i].ID != id {
				t.Errorf("slot %d: expected %s, got %s", i, id, slots[i].ID)
			}
		}
	}

	assertAvailable(second.ID, first.ID)
	assertAvailable(second.ID, first.ID)
	if f.cache.hits != 1 {
		t.Errorf("expected second read served from cache, got %d hits", f.cache.hits)
	}

	b := f.book(t, f.patient.ID, second.ID)
	assertAvailable(first.ID)

	if _, err := f.svc.CancelBooking(context.Background(), staffActor, b.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	assertAvailable(second.ID, first.ID)
}

func TestListAvailable_CommitDuringReadIsNotCached(t *testing.T) {
	f := newFixture(t)
	slot := f.defineSlot(t, testNow.Add(time.Hour), 30*time.Minute)

	f.store.afterListAvailable = func() {
		f.store.afterListAvailable = nil
		f.book(t, f.patient.ID, slot.ID)
	}

	// this read saw the slot before the booking committed
	slots, err := f.svc.ListAvailable(context.Background(), f.clinician.ID)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("expected the pre-booking read to return 1 slot, got %d", len(slots))
	}

	slots, err = f.svc.ListAvailable(context.Background(), f.clinician.ID)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("booked slot %s still listed after the booking committed", slot.ID)
	}
}

func TestListAvailable_CancelDuringReadIsNotCached(t *testing.T) {
	f := newFixture(t)
	slot := f.defineSlot(t, testNow.Add(time.Hour), 30*time.Minute)
	b := f.book(t, f.patient.ID, slot.ID)

	f.store.afterListAvailable = func() {
		f.store.afterListAvailable = nil
		if _, err := f.svc.CancelBooking(context.Background(), staffActor, b.ID); err != nil {
			t.Errorf("cancel: %v", err)
		}
	}

	if _, err := f.svc.ListAvailable(context.Background(), f.clinician.ID); err != nil {
		t.Fatalf("list available: %v", err)
	}
	slots, err := f.svc.ListAvailable(context.Background(), f.clinician.ID)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(slots) != 1 || slots[0].ID != slot.ID {
		t.Errorf("reopened slot %s missing after the cancel committed: %+v", slot.ID, slots)
	}
}

func TestListAvailable_CacheFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.defineSlot(t, testNow.Add(time.Hour), 30*time.Minute)
	f.cache.failReads = errors.New("connection refused")

	slots, err := f.svc.ListAvailable(context.Background(), f.clinician.ID)
	if err != nil {
		t.Fatalf("expected fallback to store, got %v", err)
	}
	if len(slots) != 1 {
		t.Errorf("expected 1 slot, got %d", len(slots))
	}
}
