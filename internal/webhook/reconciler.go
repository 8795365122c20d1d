package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"carebook/internal/database"
	"carebook/internal/domain"
	"carebook/internal/metrics"

	"github.com/rs/zerolog"
)

// Provider event types the reconciler understands.
const (
	EventInviteeCreated     = "invitee.created"
	EventInviteeCanceled    = "invitee.canceled"
	EventInviteeRescheduled = "invitee.rescheduled"
)

// ProviderCancelReason is recorded when the cancellation originated at
// the scheduling provider.
const ProviderCancelReason = "cancelled via provider"

// ErrBadSignature rejects deliveries whose HMAC does not match.
var ErrBadSignature = errors.New("invalid webhook signature")

// Verifier checks the raw payload signature.
type Verifier interface {
	Verify(rawPayload []byte, signatureHeader string) bool
}

// Reconciler maps inbound provider events onto booking transitions.
// Deliveries arrive unordered and may be replayed; every path must be
// idempotent.
type Reconciler struct {
	verifier Verifier
	lookup   domain.BookingStore
	service  domain.BookingService
	dedup    domain.DedupStore
	dedupTTL time.Duration
	logger   *zerolog.Logger
}

func NewReconciler(
	verifier Verifier,
	lookup domain.BookingStore,
	service domain.BookingService,
	dedup domain.DedupStore,
	dedupTTL time.Duration,
	logger *zerolog.Logger,
) *Reconciler {
	if dedupTTL <= 0 {
		dedupTTL = 24 * time.Hour
	}
	return &Reconciler{
		verifier: verifier,
		lookup:   lookup,
		service:  service,
		dedup:    dedup,
		dedupTTL: dedupTTL,
		logger:   logger,
	}
}

type envelope struct {
	Type string `json:"type"`
	Data struct {
		URI       string `json:"uri"`
		Reason    string `json:"reason"`
		StartTime string `json:"start_time"`
	} `json:"data"`
}

// Handle verifies, parses and applies one webhook delivery. A payload
// referencing no local booking or carrying an unknown event type is a
// logged no-op, not an error: the provider replays deliveries and also
// reports events for bookings this system never tracked.
func (r *Reconciler) Handle(ctx context.Context, rawPayload []byte, signatureHeader string) error {
	if !r.verifier.Verify(rawPayload, signatureHeader) {
		metrics.IncWebhook("rejected")
		return ErrBadSignature
	}

	var env envelope
	if err := json.Unmarshal(rawPayload, &env); err != nil {
		metrics.IncWebhook("malformed")
		return fmt.Errorf("%w: malformed webhook payload: %v", database.ErrInvalidInput, err)
	}
	if env.Data.URI == "" {
		metrics.IncWebhook("malformed")
		return fmt.Errorf("%w: webhook payload has no event uri", database.ErrInvalidInput)
	}

	if r.alreadySeen(ctx, env) {
		metrics.IncWebhook("duplicate")
		return nil
	}

	booking, err := r.lookup.GetBookingByEventURI(ctx, env.Data.URI)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			r.logger.Info().
				Str("event_uri", env.Data.URI).
				Str("event_type", env.Type).
				Msg("webhook for unknown booking ignored")
			metrics.IncWebhook("unmatched")
			return nil
		}
		return err
	}

	switch env.Type {
	case EventInviteeCreated:
		err = r.service.ConfirmFromProvider(ctx, booking.ID)
	case EventInviteeCanceled:
		reason := env.Data.Reason
		if reason == "" {
			reason = ProviderCancelReason
		}
		err = r.service.CancelFromProvider(ctx, booking.ID, reason)
	case EventInviteeRescheduled:
		var startsAt time.Time
		startsAt, err = time.Parse(time.RFC3339, env.Data.StartTime)
		if err != nil {
			metrics.IncWebhook("malformed")
			return fmt.Errorf("%w: bad start_time %q", database.ErrInvalidInput, env.Data.StartTime)
		}
		err = r.service.RescheduleFromProvider(ctx, booking.ID, startsAt)
	default:
		r.logger.Info().
			Str("event_type", env.Type).
			Str("event_uri", env.Data.URI).
			Msg("unrecognized webhook event ignored")
		metrics.IncWebhook("unrecognized")
		return nil
	}

	if err != nil {
		metrics.IncWebhook("error")
		return err
	}
	r.markProcessed(ctx, env)
	metrics.IncWebhook("applied")
	return nil
}

func dedupKey(env envelope) string {
	return fmt.Sprintf("webhook:%s:%s:%s", env.Type, env.Data.URI, env.Data.StartTime)
}

// alreadySeen is a best-effort fast path. Correctness does not depend
// on it: the provider-path transitions are idempotent on their own.
func (r *Reconciler) alreadySeen(ctx context.Context, env envelope) bool {
	if r.dedup == nil {
		return false
	}
	seen, err := r.dedup.SeenEvent(ctx, dedupKey(env))
	if err != nil {
		r.logger.Warn().Err(err).Msg("webhook dedup check failed, processing anyway")
		return false
	}
	return seen
}

// markProcessed records the event key once the transition has been
// applied. Marking only on success keeps a transiently failed delivery
// eligible for the provider's retry.
func (r *Reconciler) markProcessed(ctx context.Context, env envelope) {
	if r.dedup == nil {
		return
	}
	if err := r.dedup.MarkEvent(ctx, dedupKey(env), r.dedupTTL); err != nil {
		r.logger.Warn().Err(err).Msg("webhook dedup record failed")
	}
}
