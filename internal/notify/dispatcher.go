package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"carebook/internal/database"
	"carebook/internal/domain"
	"carebook/internal/metrics"
	"carebook/internal/models"
	"carebook/internal/worker"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Dispatcher delivers booking notifications through the message gateway.
// Confirmation and cancellation tasks are durable: a row in
// notification_queue plus a redis list entry (with an in-memory channel
// as fallback), retried on a bounded policy and dead-lettered when the
// budget runs out. Delivery is decoupled from booking transactions;
// permanent failure never surfaces to the booking caller.
type Dispatcher struct {
	db            *database.DB
	gateway       domain.MessageGateway
	redis         *redis.Client
	retryPolicy   worker.RetryPolicy
	queue         chan models.Notification
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

func NewDispatcher(db *database.DB, gateway domain.MessageGateway, redisClient *redis.Client, retry worker.RetryPolicy, pollInterval time.Duration, logger *zerolog.Logger) *Dispatcher {
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = models.NotificationMaxAttempts
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 30 * time.Second
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 1
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &Dispatcher{
		db:            db,
		gateway:       gateway,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.Notification, models.NotificationQueueSize),
		redisQueueKey: "notifications:queue",
		deadLetterKey: "notifications:deadletter",
		pollInterval:  pollInterval,
		batchSize:     20,
		logger:        logger,
	}
}

// EnqueueConfirmation schedules the booking-created message.
func (d *Dispatcher) EnqueueConfirmation(ctx context.Context, booking *models.Booking) error {
	return d.enqueue(ctx, models.NotificationConfirmation, booking)
}

// EnqueueCancellation schedules the booking-cancelled message.
func (d *Dispatcher) EnqueueCancellation(ctx context.Context, booking *models.Booking) error {
	return d.enqueue(ctx, models.NotificationCancellation, booking)
}

// SendReminder delivers the day-ahead reminder inline. The sweep has
// already claimed the booking, so the send is bounded-retry and a final
// failure is reported to the sweep, not re-queued.
func (d *Dispatcher) SendReminder(ctx context.Context, booking *models.Booking) error {
	var lastErr error
	for attempt := 1; attempt <= d.retryPolicy.MaxAttempts; attempt++ {
		if lastErr = d.gateway.Send(ctx, models.NotificationReminder, booking); lastErr == nil {
			metrics.IncNotification(models.NotificationReminder, "sent")
			return nil
		}
		if attempt < d.retryPolicy.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.retryPolicy.NextDelay(attempt)):
			}
		}
	}
	metrics.IncNotification(models.NotificationReminder, "failed")
	return fmt.Errorf("reminder delivery failed after %d attempts: %w", d.retryPolicy.MaxAttempts, lastErr)
}

func (d *Dispatcher) enqueue(ctx context.Context, kind string, booking *models.Booking) error {
	if booking == nil || booking.ID == 0 {
		return errors.New("booking id is required")
	}

	payloadBytes, err := json.Marshal(booking)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.Notification{
		TaskID:    uuid.NewString(),
		Kind:      kind,
		BookingID: booking.ID,
		Payload:   string(payloadBytes),
		Status:    "pending",
		CreatedAt: time.Now(),
	}

	if err := d.db.CreateNotification(ctx, &task); err != nil {
		return fmt.Errorf("persist notification task: %w", err)
	}

	// Redis first; the DB row still backstops a lost list entry.
	if d.redis != nil {
		if err := d.pushRedis(ctx, task); err != nil {
			d.logger.Warn().Err(err).Msg("dispatcher: redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case d.queue <- task:
	default:
		d.logger.Warn().Int64("task", task.ID).Msg("dispatcher: in-memory queue full, task left to polling")
	}

	return nil
}

// Start launches the delivery loop; stops when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info().Msg("notification dispatcher started")
	defer d.logger.Info().Msg("notification dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := d.tryLocalQueue(); ok {
			d.processTask(ctx, &t)
			continue
		}

		if t, ok := d.tryRedis(ctx); ok {
			d.processTask(ctx, &t)
			continue
		}

		tasks, err := d.db.GetPendingNotifications(ctx, d.batchSize)
		if err != nil {
			d.logger.Error().Err(err).Msg("dispatcher: fetch pending error")
			time.Sleep(d.pollInterval)
			continue
		}
		if len(tasks) == 0 {
			time.Sleep(d.pollInterval)
			continue
		}

		for i := range tasks {
			d.processTask(ctx, &tasks[i])
		}
	}
}

func (d *Dispatcher) tryLocalQueue() (models.Notification, bool) {
	select {
	case t := <-d.queue:
		return t, true
	default:
		return models.Notification{}, false
	}
}

func (d *Dispatcher) tryRedis(ctx context.Context) (models.Notification, bool) {
	if d.redis == nil {
		return models.Notification{}, false
	}
	res, err := d.redis.BRPop(ctx, time.Second, d.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
			return models.Notification{}, false
		}
		d.logger.Error().Err(err).Msg("dispatcher: redis BRPOP error")
		return models.Notification{}, false
	}
	if len(res) != 2 {
		return models.Notification{}, false
	}
	var task models.Notification
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		d.logger.Error().Err(err).Msg("dispatcher: decode redis task error")
		return models.Notification{}, false
	}
	return task, true
}

func (d *Dispatcher) processTask(ctx context.Context, task *models.Notification) {
	var booking models.Booking
	if err := json.Unmarshal([]byte(task.Payload), &booking); err != nil {
		d.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := d.gateway.Send(ctx, task.Kind, &booking); err != nil {
		d.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncNotification(task.Kind, "sent")
	if task.Kind == models.NotificationConfirmation {
		if _, err := d.db.MarkConfirmationSent(ctx, task.BookingID); err != nil {
			d.logger.Error().Err(err).Int64("booking_id", task.BookingID).Msg("dispatcher: mark confirmation sent error")
		}
	}

	if err := d.db.UpdateNotificationStatus(ctx, task.ID, "completed", "", nil); err != nil {
		d.logger.Error().Err(err).Int64("task", task.ID).Msg("dispatcher: mark completed error")
	}
}

func (d *Dispatcher) retryOrFail(ctx context.Context, task *models.Notification, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= d.retryPolicy.MaxAttempts {
		metrics.IncNotification(task.Kind, "failed")
		if err := d.db.UpdateNotificationStatus(ctx, task.ID, "failed", cause.Error(), nil); err != nil {
			d.logger.Error().Err(err).Int64("task", task.ID).Msg("dispatcher: mark failed error")
		}
		d.pushDeadLetter(ctx, task)
		d.logger.Error().Err(cause).
			Int64("booking_id", task.BookingID).
			Str("kind", task.Kind).
			Msg("notification permanently failed")
		return
	}

	nextDelay := d.retryPolicy.NextDelay(attempt)
	nextTime := time.Now().Add(nextDelay)
	metrics.IncNotification(task.Kind, "retry")
	if err := d.db.UpdateNotificationStatus(ctx, task.ID, "retry", cause.Error(), &nextTime); err != nil {
		d.logger.Error().Err(err).Int64("task", task.ID).Msg("dispatcher: mark retry error")
	}
}

func (d *Dispatcher) failTask(ctx context.Context, task *models.Notification, err error) {
	if uerr := d.db.UpdateNotificationStatus(ctx, task.ID, "failed", err.Error(), nil); uerr != nil {
		d.logger.Error().Err(uerr).Int64("task", task.ID).Msg("dispatcher: mark failed error")
	}
	d.pushDeadLetter(ctx, task)
}

func (d *Dispatcher) pushRedis(ctx context.Context, task models.Notification) error {
	if d.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return d.redis.LPush(ctx, d.redisQueueKey, data).Err()
}

func (d *Dispatcher) pushDeadLetter(ctx context.Context, task *models.Notification) {
	if d.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		d.logger.Error().Err(err).Int64("task", task.ID).Msg("dispatcher: encode deadletter error")
		return
	}
	if err := d.redis.LPush(ctx, d.deadLetterKey, data).Err(); err != nil {
		d.logger.Error().Err(err).Int64("task", task.ID).Msg("dispatcher: deadletter push error")
	}
}
