package models

import (
	"encoding/json"
	"time"
)

// ExternalRef holds the provider-side identifiers of a scheduled event.
// It is present only when the scheduling provider was configured and the
// outbound create call succeeded.
type ExternalRef struct {
	EventID       string `json:"event_id"`
	EventURI      string `json:"event_uri"`
	CancelURL     string `json:"cancel_url,omitempty"`
	RescheduleURL string `json:"reschedule_url,omitempty"`
}

type Booking struct {
	ID                 int64           `json:"id"`
	BookingNumber      string          `json:"booking_number"`
	UserID             int64           `json:"user_id"`
	CenterID           int64           `json:"center_id"`
	ServiceID          *int64          `json:"service_id,omitempty"`
	Date               time.Time       `json:"date"` // local calendar date, midnight
	Time               string          `json:"time"` // wall clock, HH:MM
	BookingType        string          `json:"booking_type"`
	Status             string          `json:"status"`
	ExternalRef        *ExternalRef    `json:"external_ref,omitempty"`
	Questionnaire      json.RawMessage `json:"questionnaire,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	ConfirmationSentAt *time.Time      `json:"confirmation_sent_at,omitempty"`
	ReminderSentAt     *time.Time      `json:"reminder_sent_at,omitempty"`
	SMSSent            bool            `json:"sms_sent"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	DeletedAt          *time.Time      `json:"deleted_at,omitempty"`
	Version            int64           `json:"version"`
}

// StartsAt combines Date and Time into a single local timestamp.
// A malformed Time falls back to midnight.
func (b *Booking) StartsAt() time.Time {
	t, err := time.Parse("15:04", b.Time)
	if err != nil {
		return b.Date
	}
	return time.Date(b.Date.Year(), b.Date.Month(), b.Date.Day(), t.Hour(), t.Minute(), 0, 0, b.Date.Location())
}

// IsActive reports whether the booking counts toward the
// no-double-booking rule.
func (b *Booking) IsActive() bool {
	return b.Status == StatusPending || b.Status == StatusConfirmed
}

// IsTerminal reports whether no further transition is possible.
func (b *Booking) IsTerminal() bool {
	switch b.Status {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}
