package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"carebook/internal/models"
)

const bookingColumns = `id, booking_number, user_id, center_id, service_id, date, time,
	booking_type, status, external_event_id, external_event_uri, external_cancel_url,
	external_reschedule_url, questionnaire, cancellation_reason, notes,
	confirmation_sent_at, reminder_sent_at, sms_sent, created_at, updated_at, deleted_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b             models.Booking
		serviceID     sql.NullInt64
		dateStr       string
		eventID       sql.NullString
		eventURI      sql.NullString
		cancelURL     sql.NullString
		rescheduleURL sql.NullString
		questionnaire sql.NullString
		cancelReason  sql.NullString
		notes         sql.NullString
		confirmedAt   sql.NullTime
		reminderAt    sql.NullTime
		deletedAt     sql.NullTime
	)

	err := row.Scan(
		&b.ID, &b.BookingNumber, &b.UserID, &b.CenterID, &serviceID, &dateStr, &b.Time,
		&b.BookingType, &b.Status, &eventID, &eventURI, &cancelURL,
		&rescheduleURL, &questionnaire, &cancelReason, &notes,
		&confirmedAt, &reminderAt, &b.SMSSent, &b.CreatedAt, &b.UpdatedAt, &deletedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.Date, err = time.Parse("2006-01-02", dateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse booking date %s: %w", dateStr, err)
	}

	if serviceID.Valid {
		b.ServiceID = &serviceID.Int64
	}
	if eventURI.Valid && eventURI.String != "" {
		b.ExternalRef = &models.ExternalRef{
			EventID:       eventID.String,
			EventURI:      eventURI.String,
			CancelURL:     cancelURL.String,
			RescheduleURL: rescheduleURL.String,
		}
	}
	if questionnaire.Valid && questionnaire.String != "" {
		b.Questionnaire = json.RawMessage(questionnaire.String)
	}
	b.CancellationReason = cancelReason.String
	b.Notes = notes.String
	if confirmedAt.Valid {
		b.ConfirmationSentAt = &confirmedAt.Time
	}
	if reminderAt.Valid {
		b.ReminderSentAt = &reminderAt.Time
	}
	if deletedAt.Valid {
		b.DeletedAt = &deletedAt.Time
	}
	return &b, nil
}

// CreateBooking inserts the booking after re-checking the
// no-double-booking rule inside the same transaction. The check and the
// insert must not be split: two concurrent creators for the same slot
// would otherwise both pass the check.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var active int
	queryCount := `SELECT COUNT(*) FROM bookings
		WHERE user_id = ? AND center_id = ? AND date = ? AND time = ?
		AND status IN (?, ?)`
	err = tx.QueryRowContext(ctx, queryCount,
		booking.UserID, booking.CenterID, booking.Date.Format("2006-01-02"), booking.Time,
		models.StatusPending, models.StatusConfirmed).Scan(&active)
	if err != nil {
		return fmt.Errorf("failed to check duplicate in tx: %w", err)
	}
	if active > 0 {
		return ErrDuplicateBooking
	}

	var serviceID any
	if booking.ServiceID != nil {
		serviceID = *booking.ServiceID
	}
	var questionnaire any
	if len(booking.Questionnaire) > 0 {
		questionnaire = string(booking.Questionnaire)
	}
	var eventID, eventURI, cancelURL, rescheduleURL any
	if booking.ExternalRef != nil {
		eventID = booking.ExternalRef.EventID
		eventURI = booking.ExternalRef.EventURI
		cancelURL = booking.ExternalRef.CancelURL
		rescheduleURL = booking.ExternalRef.RescheduleURL
	}

	now := time.Now()
	queryInsert := `INSERT INTO bookings (
			booking_number, user_id, center_id, service_id, date, time, booking_type,
			status, external_event_id, external_event_uri, external_cancel_url,
			external_reschedule_url, questionnaire, notes, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, queryInsert,
		booking.BookingNumber,
		booking.UserID,
		booking.CenterID,
		serviceID,
		booking.Date.Format("2006-01-02"),
		booking.Time,
		booking.BookingType,
		booking.Status,
		eventID,
		eventURI,
		cancelURL,
		rescheduleURL,
		questionnaire,
		booking.Notes,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1

	return tx.Commit()
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

func (db *DB) GetBookingByNumber(ctx context.Context, number string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE booking_number = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, number))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("booking %s: %w", number, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by number: %w", err)
	}
	return booking, nil
}

func (db *DB) GetBookingByEventURI(ctx context.Context, eventURI string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE external_event_uri = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, eventURI))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %s: %w", eventURI, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by event uri: %w", err)
	}
	return booking, nil
}

// TransitionStatus applies a compare-and-swap status change. The update
// only succeeds while the current status is one of from; a lost race or
// an illegal transition surfaces as ErrStatusConflict.
func (db *DB) TransitionStatus(ctx context.Context, id int64, to string, from ...string) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status IN (` + placeholders + `)`
	args := []any{to, time.Now(), id}
	for _, s := range from {
		args = append(args, s)
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return db.explainTransitionFailure(ctx, id, to)
	}
	return nil
}

// CancelBooking moves an active booking to cancelled, records the reason
// and stamps deleted_at for audit retention. The row stays readable.
func (db *DB) CancelBooking(ctx context.Context, id int64, reason string) error {
	now := time.Now()
	query := `UPDATE bookings SET status = ?, cancellation_reason = ?, deleted_at = ?,
		version = version + 1, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`
	result, err := db.ExecContext(ctx, query,
		models.StatusCancelled, reason, now, now, id,
		models.StatusPending, models.StatusConfirmed)
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return db.explainTransitionFailure(ctx, id, models.StatusCancelled)
	}
	return nil
}

func (db *DB) explainTransitionFailure(ctx context.Context, id int64, to string) error {
	var current string
	err := db.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read booking status: %w", err)
	}
	return fmt.Errorf("%w: cannot move booking %d from %s to %s", ErrStatusConflict, id, current, to)
}

// UpdateBooking rewrites the mutable fields under an optimistic version
// check, and only while the booking is still active.
func (db *DB) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	var serviceID any
	if booking.ServiceID != nil {
		serviceID = *booking.ServiceID
	}
	var questionnaire any
	if len(booking.Questionnaire) > 0 {
		questionnaire = string(booking.Questionnaire)
	}

	query := `UPDATE bookings SET service_id = ?, date = ?, time = ?, booking_type = ?,
		questionnaire = ?, notes = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND status IN (?, ?)`
	result, err := db.ExecContext(ctx, query,
		serviceID,
		booking.Date.Format("2006-01-02"),
		booking.Time,
		booking.BookingType,
		questionnaire,
		booking.Notes,
		time.Now(),
		booking.ID,
		booking.Version,
		models.StatusPending,
		models.StatusConfirmed,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var current string
		var version int64
		err := db.QueryRowContext(ctx, `SELECT status, version FROM bookings WHERE id = ?`, booking.ID).
			Scan(&current, &version)
		if err == sql.ErrNoRows {
			return fmt.Errorf("booking %d: %w", booking.ID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read booking: %w", err)
		}
		if current != models.StatusPending && current != models.StatusConfirmed {
			return fmt.Errorf("%w: booking %d is %s", ErrStatusConflict, booking.ID, current)
		}
		return ErrConcurrentModification
	}
	booking.Version++
	return nil
}

// UpdateBookingSlot overwrites date/time without a version check. Used by
// the webhook path where the provider already holds the new slot.
func (db *DB) UpdateBookingSlot(ctx context.Context, id int64, date time.Time, wallTime string) error {
	query := `UPDATE bookings SET date = ?, time = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`
	result, err := db.ExecContext(ctx, query,
		date.Format("2006-01-02"), wallTime, time.Now(), id,
		models.StatusPending, models.StatusConfirmed)
	if err != nil {
		return fmt.Errorf("failed to update booking slot: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return db.explainTransitionFailure(ctx, id, "rescheduled")
	}
	return nil
}

// SetExternalRef records provider identifiers after event creation.
func (db *DB) SetExternalRef(ctx context.Context, id int64, ref *models.ExternalRef) error {
	query := `UPDATE bookings SET external_event_id = ?, external_event_uri = ?,
		external_cancel_url = ?, external_reschedule_url = ?, updated_at = ?
		WHERE id = ?`
	_, err := db.ExecContext(ctx, query,
		ref.EventID, ref.EventURI, ref.CancelURL, ref.RescheduleURL, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set external ref: %w", err)
	}
	return nil
}

// ListDueReminders returns active bookings on the given day that have
// not yet received their reminder.
func (db *DB) ListDueReminders(ctx context.Context, day time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE date = ? AND status IN (?, ?) AND reminder_sent_at IS NULL AND deleted_at IS NULL
		ORDER BY time ASC`
	rows, err := db.QueryContext(ctx, query,
		day.Format("2006-01-02"), models.StatusPending, models.StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// MarkReminderSent stamps reminder_sent_at once. The conditional WHERE
// makes overlapping sweep workers race-safe: only one caller wins.
func (db *DB) MarkReminderSent(ctx context.Context, id int64) (bool, error) {
	now := time.Now()
	query := `UPDATE bookings SET reminder_sent_at = ?, sms_sent = 1, updated_at = ?
		WHERE id = ? AND reminder_sent_at IS NULL`
	result, err := db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark reminder sent: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkConfirmationSent stamps confirmation_sent_at once.
func (db *DB) MarkConfirmationSent(ctx context.Context, id int64) (bool, error) {
	now := time.Now()
	query := `UPDATE bookings SET confirmation_sent_at = ?, updated_at = ?
		WHERE id = ? AND confirmation_sent_at IS NULL`
	result, err := db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark confirmation sent: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// GetBookingsByDateRange returns bookings between two days inclusive.
func (db *DB) GetBookingsByDateRange(ctx context.Context, startDate, endDate time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE date >= ? AND date <= ? ORDER BY date ASC, time ASC`
	rows, err := db.QueryContext(ctx, query,
		startDate.Format("2006-01-02"), endDate.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings by date range: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// GetUserBookings returns a user's bookings from two weeks back onward.
func (db *DB) GetUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error) {
	twoWeeksAgo := time.Now().AddDate(0, 0, -14).Format("2006-01-02")
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE user_id = ? AND date >= ? ORDER BY date DESC, time DESC`
	rows, err := db.QueryContext(ctx, query, userID, twoWeeksAgo)
	if err != nil {
		return nil, fmt.Errorf("failed to get user bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
