package notify

import (
	"context"
	"fmt"

	"carebook/internal/models"

	"github.com/rs/zerolog"
)

// LogGateway is the default message gateway: it formats the message and
// writes it to the log. Real email/SMS providers are collaborator
// systems plugged in behind domain.MessageGateway.
type LogGateway struct {
	logger *zerolog.Logger
}

func NewLogGateway(logger *zerolog.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Send(ctx context.Context, kind string, booking *models.Booking) error {
	g.logger.Info().
		Str("kind", kind).
		Int64("booking_id", booking.ID).
		Int64("user_id", booking.UserID).
		Str("booking_number", booking.BookingNumber).
		Str("message", FormatMessage(kind, booking)).
		Msg("notification delivered")
	return nil
}

// FormatMessage renders the user-facing text for a notification kind.
func FormatMessage(kind string, b *models.Booking) string {
	slot := fmt.Sprintf("%s at %s", b.Date.Format("Monday, January 2"), b.Time)
	switch kind {
	case models.NotificationConfirmation:
		return fmt.Sprintf("Your %s booking %s is received for %s. We will confirm it shortly.", b.BookingType, b.BookingNumber, slot)
	case models.NotificationReminder:
		return fmt.Sprintf("Reminder: your %s booking %s is tomorrow, %s.", b.BookingType, b.BookingNumber, slot)
	case models.NotificationCancellation:
		reason := b.CancellationReason
		if reason == "" {
			reason = "no reason given"
		}
		return fmt.Sprintf("Your booking %s for %s was cancelled (%s).", b.BookingNumber, slot, reason)
	default:
		return fmt.Sprintf("Update on booking %s for %s.", b.BookingNumber, slot)
	}
}
