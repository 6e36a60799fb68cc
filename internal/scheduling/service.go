package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-scheduling/internal/config"
)

const (
	EventSlotDefined        = "SLOT_DEFINED"
	EventSlotBlocked        = "SLOT_BLOCKED"
	EventBookingCreated     = "BOOKING_CREATED"
	EventBookingCancelled   = "BOOKING_CANCELLED"
	EventBookingRescheduled = "BOOKING_RESCHEDULED"
	EventBookingCompleted   = "BOOKING_COMPLETED"
	EventBookingNoShow      = "BOOKING_NO_SHOW"
	EventWalkInRegistered   = "WALK_IN_REGISTERED"
	EventWalkInAutoClosed   = "WALK_IN_AUTO_COMPLETED"
)

// Service owns every Slot and Booking mutation. Each mutating method is one
// Store transaction; the availability cache is invalidated after commit.
type Service struct {
	store  Store
	cache  AvailabilityCache
	logger *zap.Logger

	walkInDuration time.Duration
	loc            *time.Location
	now            func() time.Time
}

// NewService wires the scheduler. cache may be nil.
func NewService(store Store, cache AvailabilityCache, cfg config.Config, logger *zap.Logger) *Service {
	loc := cfg.ClinicTimezone
	if loc == nil {
		loc = time.UTC
	}
	walkIn := cfg.WalkInDuration
	if walkIn <= 0 {
		walkIn = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:          store,
		cache:          cache,
		logger:         logger,
		walkInDuration: walkIn,
		loc:            loc,
		now:            time.Now,
	}
}

// timestamps are stored with microsecond precision
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) recordEvent(ctx context.Context, tx Tx, actor Actor, eventType string, bookingID, slotID uuid.UUID, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		ActorRole: actor.Role,
		Payload:   data,
		CreatedAt: s.clock(),
	}
	if bookingID != uuid.Nil {
		ev.BookingID = &bookingID
	}
	if slotID != uuid.Nil {
		ev.SlotID = &slotID
	}
	if actor.ID != uuid.Nil {
		id := actor.ID
		ev.ActorID = &id
	}

	if err := tx.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("record %s event: %w", eventType, err)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, clinicianIDs ...uuid.UUID) {
	if s.cache == nil || len(clinicianIDs) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, clinicianIDs...); err != nil {
		s.logger.Warn("failed to invalidate availability cache",
			zap.Int("clinicians", len(clinicianIDs)),
			zap.Error(err),
		)
	}
}
