package models

import "time"

// Notification is a queued delivery job. Rows live in the
// notification_queue table until completed or failed; the queue survives
// restarts and is drained by the dispatcher worker.
type Notification struct {
	ID          int64      `json:"id"`
	TaskID      string     `json:"task_id"` // uuid, stable across retries
	Kind        string     `json:"kind"`    // confirmation, reminder, cancellation
	BookingID   int64      `json:"booking_id"`
	Payload     string     `json:"payload"` // JSON snapshot of the booking
	Status      string     `json:"status"`  // pending, retry, completed, failed
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}
