package service

import (
	"context"
	"fmt"
	"time"

	"carebook/internal/database"
	"carebook/internal/domain"
	"carebook/internal/events"
	"carebook/internal/metrics"
	"carebook/internal/models"
	"carebook/internal/scheduling"

	"github.com/rs/zerolog"
)

// BookingService drives the booking state machine against the store and
// keeps the external scheduling provider loosely in sync. Provider
// failures never block a local transition.
type BookingService struct {
	store     domain.BookingStore
	centers   domain.CenterDirectory
	provider  domain.SchedulingProvider
	dispatch  domain.Dispatcher
	eventBus  domain.EventPublisher
	logger    *zerolog.Logger
}

func NewBookingService(
	store domain.BookingStore,
	centers domain.CenterDirectory,
	provider domain.SchedulingProvider,
	dispatch domain.Dispatcher,
	eventBus domain.EventPublisher,
	logger *zerolog.Logger,
) *BookingService {
	return &BookingService{
		store:    store,
		centers:  centers,
		provider: provider,
		dispatch: dispatch,
		eventBus: eventBus,
		logger:   logger,
	}
}

func (s *BookingService) validateSlot(date time.Time, wallTime string) error {
	if _, err := time.Parse("15:04", wallTime); err != nil {
		return fmt.Errorf("%w: time must be HH:MM", database.ErrInvalidInput)
	}
	b := models.Booking{Date: date, Time: wallTime}
	if !b.StartsAt().After(time.Now()) {
		return database.ErrPastDate
	}
	return nil
}

// Create books a slot. The provider event is created before the local
// insert so no storage transaction waits on the network; a successful
// external call followed by a failed insert leaves an orphaned provider
// event, which is logged and accepted.
func (s *BookingService) Create(ctx context.Context, req domain.CreateBookingRequest) (*models.Booking, error) {
	if req.UserID <= 0 || req.CenterID <= 0 {
		return nil, fmt.Errorf("%w: user_id and center_id are required", database.ErrInvalidInput)
	}
	if !models.ValidBookingType(req.BookingType) {
		return nil, fmt.Errorf("%w: unknown booking type %q", database.ErrInvalidInput, req.BookingType)
	}
	if err := s.validateSlot(req.Date, req.Time); err != nil {
		return nil, err
	}

	center, err := s.centers.GetCenter(req.CenterID)
	if err != nil {
		return nil, err
	}
	var service *models.CenterService
	if req.ServiceID != nil {
		if service = center.Service(*req.ServiceID); service == nil {
			return nil, fmt.Errorf("service %d at center %d: %w", *req.ServiceID, center.ID, database.ErrNotFound)
		}
	}

	number, err := s.store.NextBookingNumber(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("generate booking number: %w", err)
	}

	booking := &models.Booking{
		BookingNumber: number,
		UserID:        req.UserID,
		CenterID:      req.CenterID,
		ServiceID:     req.ServiceID,
		Date:          req.Date,
		Time:          req.Time,
		BookingType:   req.BookingType,
		Status:        models.StatusPending,
		Questionnaire: req.Questionnaire,
		Notes:         req.Notes,
	}

	booking.ExternalRef = s.createProviderEvent(ctx, booking, center, service, req)

	if err := s.store.CreateBooking(ctx, booking); err != nil {
		if booking.ExternalRef != nil {
			// Known, accepted failure mode: the provider now holds an
			// event no local booking references.
			s.logger.Warn().
				Str("event_uri", booking.ExternalRef.EventURI).
				Str("booking_number", number).
				Msg("local insert failed after provider event creation, orphaned event left behind")
		}
		return nil, err
	}

	s.publishEvent(events.EventBookingCreated, booking, "", "api")

	if err := s.dispatch.EnqueueConfirmation(ctx, booking); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("enqueue confirmation error")
	}

	return booking, nil
}

func (s *BookingService) createProviderEvent(
	ctx context.Context,
	booking *models.Booking,
	center *models.Center,
	service *models.CenterService,
	req domain.CreateBookingRequest,
) *models.ExternalRef {
	if s.provider == nil || !s.provider.Enabled() {
		return nil
	}

	eventReq := scheduling.CreateEventRequest{
		CenterName:    center.Name,
		StartsAt:      booking.StartsAt(),
		AttendeeName:  req.UserName,
		AttendeeEmail: req.UserEmail,
		BookingNumber: booking.BookingNumber,
	}
	if service != nil {
		eventReq.ServiceName = service.Name
		eventReq.DurationMinutes = service.DurationMinutes
	}

	ref, err := s.provider.CreateEvent(ctx, eventReq)
	if err != nil {
		s.logger.Error().Err(err).
			Str("booking_number", booking.BookingNumber).
			Msg("provider event creation failed, continuing without external ref")
		return nil
	}
	return ref
}

// Update changes mutable fields while the booking is still active. A
// slot change is pushed to the provider best-effort.
func (s *BookingService) Update(ctx context.Context, bookingID int64, req domain.UpdateBookingRequest) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.IsActive() {
		return nil, fmt.Errorf("%w: immutable status %s", database.ErrStatusConflict, booking.Status)
	}

	slotChanged := false
	if req.Date != nil && req.Date.Format("2006-01-02") != booking.Date.Format("2006-01-02") {
		booking.Date = *req.Date
		slotChanged = true
	}
	if req.Time != nil && *req.Time != booking.Time {
		booking.Time = *req.Time
		slotChanged = true
	}
	if slotChanged {
		if err := s.validateSlot(booking.Date, booking.Time); err != nil {
			return nil, err
		}
	}
	if req.ServiceID != nil {
		center, err := s.centers.GetCenter(booking.CenterID)
		if err != nil {
			return nil, err
		}
		if center.Service(*req.ServiceID) == nil {
			return nil, fmt.Errorf("service %d at center %d: %w", *req.ServiceID, center.ID, database.ErrNotFound)
		}
		booking.ServiceID = req.ServiceID
	}
	if req.BookingType != nil {
		if !models.ValidBookingType(*req.BookingType) {
			return nil, fmt.Errorf("%w: unknown booking type %q", database.ErrInvalidInput, *req.BookingType)
		}
		booking.BookingType = *req.BookingType
	}
	if req.Questionnaire != nil {
		booking.Questionnaire = req.Questionnaire
	}
	if req.Notes != nil {
		booking.Notes = *req.Notes
	}

	if slotChanged && booking.ExternalRef != nil && s.provider != nil && s.provider.Enabled() {
		if err := s.provider.RescheduleEvent(ctx, booking.ExternalRef.EventURI, booking.StartsAt()); err != nil {
			s.logger.Error().Err(err).
				Int64("booking_id", booking.ID).
				Str("event_uri", booking.ExternalRef.EventURI).
				Msg("provider reschedule failed, local update proceeds")
		}
	}

	if err := s.store.UpdateBooking(ctx, booking); err != nil {
		return nil, err
	}

	if slotChanged {
		s.publishEvent(events.EventBookingRescheduled, booking, "", "api")
	}
	return booking, nil
}

// Cancel moves an active booking to cancelled. A second cancel is a
// reported conflict, not a silent no-op.
func (s *BookingService) Cancel(ctx context.Context, bookingID int64, reason string) error {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status == models.StatusCancelled {
		return fmt.Errorf("%w: booking %d is already cancelled", database.ErrStatusConflict, bookingID)
	}

	s.cancelProviderEvent(ctx, booking, reason)

	if err := s.store.CancelBooking(ctx, bookingID, reason); err != nil {
		return err
	}
	booking.Status = models.StatusCancelled
	booking.CancellationReason = reason

	s.publishEvent(events.EventBookingCancelled, booking, reason, "api")

	if err := s.dispatch.EnqueueCancellation(ctx, booking); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", bookingID).Msg("enqueue cancellation error")
	}
	return nil
}

func (s *BookingService) cancelProviderEvent(ctx context.Context, booking *models.Booking, reason string) {
	if booking.ExternalRef == nil || s.provider == nil || !s.provider.Enabled() {
		return
	}
	if err := s.provider.CancelEvent(ctx, booking.ExternalRef.EventURI, reason); err != nil {
		s.logger.Error().Err(err).
			Int64("booking_id", booking.ID).
			Str("event_uri", booking.ExternalRef.EventURI).
			Msg("provider cancel failed, local cancel proceeds")
	}
}

// Confirm is only legal from pending.
func (s *BookingService) Confirm(ctx context.Context, bookingID int64) error {
	if err := s.store.TransitionStatus(ctx, bookingID, models.StatusConfirmed, models.StatusPending); err != nil {
		return err
	}
	s.publishAfterTransition(ctx, bookingID, events.EventBookingConfirmed, "api")
	return nil
}

// Complete is only legal from confirmed.
func (s *BookingService) Complete(ctx context.Context, bookingID int64) error {
	if err := s.store.TransitionStatus(ctx, bookingID, models.StatusCompleted, models.StatusConfirmed); err != nil {
		return err
	}
	s.publishAfterTransition(ctx, bookingID, events.EventBookingCompleted, "api")
	return nil
}

// MarkNoShow is an administrative terminal transition from confirmed.
func (s *BookingService) MarkNoShow(ctx context.Context, bookingID int64) error {
	if err := s.store.TransitionStatus(ctx, bookingID, models.StatusNoShow, models.StatusConfirmed); err != nil {
		return err
	}
	s.publishAfterTransition(ctx, bookingID, events.EventBookingNoShow, "api")
	return nil
}

func (s *BookingService) Get(ctx context.Context, bookingID int64) (*models.Booking, error) {
	return s.store.GetBooking(ctx, bookingID)
}

func (s *BookingService) GetByNumber(ctx context.Context, number string) (*models.Booking, error) {
	return s.store.GetBookingByNumber(ctx, number)
}

// ConfirmFromProvider is the webhook-path confirm: an already-confirmed
// booking is a benign replay, not a conflict.
func (s *BookingService) ConfirmFromProvider(ctx context.Context, bookingID int64) error {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status == models.StatusConfirmed {
		return nil
	}
	err = s.store.TransitionStatus(ctx, bookingID, models.StatusConfirmed, models.StatusPending)
	if err != nil {
		return s.normalizeReplay(ctx, bookingID, models.StatusConfirmed, err)
	}
	s.publishAfterTransition(ctx, bookingID, events.EventBookingConfirmed, "provider")
	return nil
}

// CancelFromProvider cancels without the outbound provider call; the
// change already happened at the provider.
func (s *BookingService) CancelFromProvider(ctx context.Context, bookingID int64, reason string) error {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status == models.StatusCancelled {
		return nil
	}
	if err := s.store.CancelBooking(ctx, bookingID, reason); err != nil {
		return s.normalizeReplay(ctx, bookingID, models.StatusCancelled, err)
	}
	booking.Status = models.StatusCancelled
	booking.CancellationReason = reason

	s.publishEvent(events.EventBookingCancelled, booking, reason, "provider")

	if err := s.dispatch.EnqueueCancellation(ctx, booking); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", bookingID).Msg("enqueue cancellation error")
	}
	return nil
}

// RescheduleFromProvider overwrites the local slot from the provider's
// start time. Terminal bookings and already-applied slots are no-ops.
func (s *BookingService) RescheduleFromProvider(ctx context.Context, bookingID int64, startsAt time.Time) error {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.IsTerminal() {
		s.logger.Info().
			Int64("booking_id", bookingID).
			Str("status", booking.Status).
			Msg("provider reschedule for terminal booking ignored")
		return nil
	}

	date := time.Date(startsAt.Year(), startsAt.Month(), startsAt.Day(), 0, 0, 0, 0, startsAt.Location())
	wallTime := startsAt.Format("15:04")
	// Compare calendar dates, not instants: the stored date and the
	// provider's start time may sit in different locations.
	if booking.Date.Format("2006-01-02") == date.Format("2006-01-02") && booking.Time == wallTime {
		return nil
	}

	if err := s.store.UpdateBookingSlot(ctx, bookingID, date, wallTime); err != nil {
		return err
	}
	booking.Date = date
	booking.Time = wallTime
	s.publishEvent(events.EventBookingRescheduled, booking, "", "provider")
	return nil
}

// normalizeReplay turns a transition conflict into success when the
// booking already sits in the target state (webhook redelivery).
func (s *BookingService) normalizeReplay(ctx context.Context, bookingID int64, target string, cause error) error {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err == nil && booking.Status == target {
		return nil
	}
	return cause
}

func (s *BookingService) publishAfterTransition(ctx context.Context, bookingID int64, eventType, origin string) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		s.logger.Error().Err(err).Int64("booking_id", bookingID).Msg("load booking after transition error")
		return
	}
	s.publishEvent(eventType, booking, "", origin)
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, reason, origin string) {
	metrics.IncTransition(booking.Status, origin)

	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:     booking.ID,
		BookingNumber: booking.BookingNumber,
		UserID:        booking.UserID,
		CenterID:      booking.CenterID,
		BookingType:   booking.BookingType,
		Status:        booking.Status,
		Date:          booking.Date,
		Time:          booking.Time,
		Reason:        reason,
		Origin:        origin,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}
