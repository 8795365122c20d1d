package domain

import (
	"context"
	"time"

	"carebook/internal/models"
	"carebook/internal/scheduling"
)

// BookingStore is the persistence contract for the booking lifecycle.
type BookingStore interface {
	NextBookingNumber(ctx context.Context, today time.Time) (string, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByNumber(ctx context.Context, number string) (*models.Booking, error)
	GetBookingByEventURI(ctx context.Context, eventURI string) (*models.Booking, error)
	TransitionStatus(ctx context.Context, id int64, to string, from ...string) error
	CancelBooking(ctx context.Context, id int64, reason string) error
	UpdateBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingSlot(ctx context.Context, id int64, date time.Time, wallTime string) error
	SetExternalRef(ctx context.Context, id int64, ref *models.ExternalRef) error
	ListDueReminders(ctx context.Context, day time.Time) ([]*models.Booking, error)
	MarkReminderSent(ctx context.Context, id int64) (bool, error)
	MarkConfirmationSent(ctx context.Context, id int64) (bool, error)
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	GetUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error)
}

// NotificationLog exposes the dead-letter side of the notification
// queue for operator inspection.
type NotificationLog interface {
	GetFailedNotifications(ctx context.Context) ([]models.Notification, error)
}

// CenterDirectory resolves collaborator-owned center/service references.
type CenterDirectory interface {
	GetCenter(id int64) (*models.Center, error)
	GetCenters() []*models.Center
}

// SchedulingProvider is the outbound side of the external scheduling
// integration. All calls are best-effort from the caller's perspective.
type SchedulingProvider interface {
	Enabled() bool
	CreateEvent(ctx context.Context, req scheduling.CreateEventRequest) (*models.ExternalRef, error)
	CancelEvent(ctx context.Context, eventURI, reason string) error
	RescheduleEvent(ctx context.Context, eventURI string, startsAt time.Time) error
}

// Dispatcher enqueues notification deliveries. Enqueue failures are the
// caller's to log; they never block a booking transition.
type Dispatcher interface {
	EnqueueConfirmation(ctx context.Context, booking *models.Booking) error
	EnqueueCancellation(ctx context.Context, booking *models.Booking) error
	SendReminder(ctx context.Context, booking *models.Booking) error
}

// MessageGateway is the email/SMS boundary behind the dispatcher.
type MessageGateway interface {
	Send(ctx context.Context, kind string, booking *models.Booking) error
}

// DedupStore remembers processed webhook event keys for a bounded time.
// Checking and recording are separate so a key is only recorded once the
// event has actually been applied; a failed delivery stays retryable.
type DedupStore interface {
	SeenEvent(ctx context.Context, key string) (bool, error)
	MarkEvent(ctx context.Context, key string, ttl time.Duration) error
}

// EventPublisher fans out domain events to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// BookingService drives the booking state machine.
type BookingService interface {
	Create(ctx context.Context, req CreateBookingRequest) (*models.Booking, error)
	Update(ctx context.Context, bookingID int64, req UpdateBookingRequest) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID int64, reason string) error
	Confirm(ctx context.Context, bookingID int64) error
	Complete(ctx context.Context, bookingID int64) error
	MarkNoShow(ctx context.Context, bookingID int64) error
	Get(ctx context.Context, bookingID int64) (*models.Booking, error)
	GetByNumber(ctx context.Context, number string) (*models.Booking, error)

	ConfirmFromProvider(ctx context.Context, bookingID int64) error
	CancelFromProvider(ctx context.Context, bookingID int64, reason string) error
	RescheduleFromProvider(ctx context.Context, bookingID int64, startsAt time.Time) error
}

// CreateBookingRequest carries the client payload for a new booking.
type CreateBookingRequest struct {
	UserID        int64
	CenterID      int64
	ServiceID     *int64
	Date          time.Time
	Time          string
	BookingType   string
	Questionnaire []byte
	Notes         string
	UserName      string
	UserEmail     string
}

// UpdateBookingRequest carries the mutable booking fields; nil pointers
// leave the stored value untouched.
type UpdateBookingRequest struct {
	Date          *time.Time
	Time          *string
	ServiceID     *int64
	BookingType   *string
	Questionnaire []byte
	Notes         *string
}
