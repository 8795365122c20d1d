package database

import (
	"context"
	"fmt"
	"time"
)

// NextBookingNumber hands out BK-{YYYYMMDD}-{NNNN} identifiers. The
// per-day sequence lives in booking_counters and is advanced with a
// single upsert, so concurrent callers never observe the same value and
// the counter resets naturally at midnight.
func (db *DB) NextBookingNumber(ctx context.Context, today time.Time) (string, error) {
	day := today.Format("20060102")

	var seq int64
	query := `INSERT INTO booking_counters (day, seq) VALUES (?, 1)
		ON CONFLICT(day) DO UPDATE SET seq = seq + 1
		RETURNING seq`
	if err := db.QueryRowContext(ctx, query, day).Scan(&seq); err != nil {
		return "", fmt.Errorf("failed to advance booking counter: %w", err)
	}

	return fmt.Sprintf("BK-%s-%04d", day, seq), nil
}
