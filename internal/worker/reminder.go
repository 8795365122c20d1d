package worker

import (
	"context"
	"time"

	"carebook/internal/domain"
	"carebook/internal/metrics"

	"github.com/rs/zerolog"
)

// ReminderScheduler runs the daily day-ahead reminder sweep. Overlapping
// or repeated sweeps are safe: the reminder_sent_at guard lets exactly
// one worker per booking dispatch.
type ReminderScheduler struct {
	store    domain.BookingStore
	dispatch domain.Dispatcher
	hour     int
	leadDays int
	logger   *zerolog.Logger
}

func NewReminderScheduler(store domain.BookingStore, dispatch domain.Dispatcher, hour, leadDays int, logger *zerolog.Logger) *ReminderScheduler {
	if hour < 0 || hour > 23 {
		hour = 9
	}
	if leadDays <= 0 {
		leadDays = 1
	}
	return &ReminderScheduler{
		store:    store,
		dispatch: dispatch,
		hour:     hour,
		leadDays: leadDays,
		logger:   logger,
	}
}

// Start blocks until ctx is done, sweeping once per day at the
// configured local hour.
func (s *ReminderScheduler) Start(ctx context.Context) {
	wait := timeUntilNextHour(s.hour)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	s.logger.Info().Dur("first_sweep_in", wait).Msg("reminder scheduler started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.Sweep(ctx)
			timer.Reset(24 * time.Hour)
		}
	}
}

// Sweep selects bookings due a reminder and dispatches at most one per
// booking. Each booking is claimed with a conditional update first; the
// loser of a concurrent sweep skips dispatching.
func (s *ReminderScheduler) Sweep(ctx context.Context) {
	day := time.Now().AddDate(0, 0, s.leadDays)

	bookings, err := s.store.ListDueReminders(ctx, day)
	if err != nil {
		s.logger.Error().Err(err).Time("day", day).Msg("reminder sweep: list due bookings error")
		return
	}

	sent := 0
	for _, booking := range bookings {
		won, err := s.store.MarkReminderSent(ctx, booking.ID)
		if err != nil {
			s.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("reminder sweep: claim error")
			continue
		}
		if !won {
			continue
		}

		if err := s.dispatch.SendReminder(ctx, booking); err != nil {
			s.logger.Error().Err(err).
				Int64("booking_id", booking.ID).
				Str("booking_number", booking.BookingNumber).
				Msg("reminder sweep: send error")
			continue
		}
		metrics.IncReminder()
		sent++
	}

	s.logger.Info().Int("due", len(bookings)).Int("sent", sent).Time("day", day).Msg("reminder sweep finished")
}

func timeUntilNextHour(hour int) time.Duration {
	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
