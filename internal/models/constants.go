package models

import "time"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

const (
	TypeVisit        = "visit"
	TypeConsultation = "consultation"
	TypeTrialDay     = "trial_day"
)

// ValidBookingType reports whether t is one of the known booking types.
func ValidBookingType(t string) bool {
	switch t {
	case TypeVisit, TypeConsultation, TypeTrialDay:
		return true
	}
	return false
}

const (
	NotificationConfirmation = "confirmation"
	NotificationReminder     = "reminder"
	NotificationCancellation = "cancellation"
)

const (
	// ReminderHour is the local hour of the daily reminder sweep.
	ReminderHour = 9

	// ReminderLeadDays is how far ahead of the slot a reminder goes out.
	ReminderLeadDays = 1

	// NotificationQueueSize bounds the in-memory dispatcher queue.
	NotificationQueueSize = 1000

	// NotificationMaxAttempts is the delivery retry budget per task.
	NotificationMaxAttempts = 2

	// WebhookDedupTTL is how long processed provider event keys are
	// remembered.
	WebhookDedupTTL = 24 * time.Hour
)
