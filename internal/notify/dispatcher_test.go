package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"carebook/internal/database"
	"carebook/internal/models"
	"carebook/internal/worker"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingGateway struct {
	sent    []string
	failErr error
}

func (g *recordingGateway) Send(ctx context.Context, kind string, booking *models.Booking) error {
	if g.failErr != nil {
		return g.failErr
	}
	g.sent = append(g.sent, kind)
	return nil
}

func setupDispatcher(t *testing.T, gateway *recordingGateway, withRedis bool) (*Dispatcher, *database.DB, *redis.Client) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var client *redis.Client
	if withRedis {
		mr := miniredis.RunT(t)
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
	}

	retry := worker.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffFactor: 1}
	return NewDispatcher(db, gateway, client, retry, 10*time.Millisecond, &logger), db, client
}

func TestNewDispatcher_PollInterval(t *testing.T) {
	d, _, _ := setupDispatcher(t, &recordingGateway{}, false)
	assert.Equal(t, 10*time.Millisecond, d.pollInterval, "configured interval is used")

	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	d = NewDispatcher(db, &recordingGateway{}, nil, worker.RetryPolicy{}, 0, &logger)
	assert.Equal(t, 2*time.Second, d.pollInterval, "zero falls back to the default")
}

func storedBooking(t *testing.T, db *database.DB) *models.Booking {
	t.Helper()
	b := &models.Booking{
		BookingNumber: "BK-20260910-0001",
		UserID:        42,
		CenterID:      1,
		Date:          time.Date(2026, 9, 10, 0, 0, 0, 0, time.Local),
		Time:          "10:30",
		BookingType:   models.TypeVisit,
		Status:        models.StatusPending,
	}
	require.NoError(t, db.CreateBooking(context.Background(), b))
	return b
}

func TestEnqueue_PersistsAndPushesRedis(t *testing.T) {
	gateway := &recordingGateway{}
	d, db, client := setupDispatcher(t, gateway, true)
	ctx := context.Background()
	b := storedBooking(t, db)

	require.NoError(t, d.EnqueueConfirmation(ctx, b))

	tasks, err := db.GetPendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.NotificationConfirmation, tasks[0].Kind)
	assert.Equal(t, b.ID, tasks[0].BookingID)
	assert.NotEmpty(t, tasks[0].TaskID)

	length, err := client.LLen(ctx, d.redisQueueKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func TestEnqueue_FallsBackToMemoryQueue(t *testing.T) {
	gateway := &recordingGateway{}
	d, db, _ := setupDispatcher(t, gateway, false)
	ctx := context.Background()
	b := storedBooking(t, db)

	require.NoError(t, d.EnqueueCancellation(ctx, b))

	task, ok := d.tryLocalQueue()
	require.True(t, ok)
	assert.Equal(t, models.NotificationCancellation, task.Kind)
}

func TestEnqueue_RequiresStoredBooking(t *testing.T) {
	gateway := &recordingGateway{}
	d, _, _ := setupDispatcher(t, gateway, false)

	err := d.EnqueueConfirmation(context.Background(), &models.Booking{})
	assert.Error(t, err)
}

func TestProcessTask_DeliversAndCompletes(t *testing.T) {
	gateway := &recordingGateway{}
	d, db, _ := setupDispatcher(t, gateway, false)
	ctx := context.Background()
	b := storedBooking(t, db)

	require.NoError(t, d.EnqueueConfirmation(ctx, b))
	task, ok := d.tryLocalQueue()
	require.True(t, ok)

	d.processTask(ctx, &task)

	assert.Equal(t, []string{models.NotificationConfirmation}, gateway.sent)

	pending, err := db.GetPendingNotifications(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Confirmation delivery stamps the booking.
	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ConfirmationSentAt)
}

func TestProcessTask_RetryThenDeadLetter(t *testing.T) {
	gateway := &recordingGateway{failErr: errors.New("smtp down")}
	d, db, client := setupDispatcher(t, gateway, true)
	ctx := context.Background()
	b := storedBooking(t, db)

	require.NoError(t, d.EnqueueCancellation(ctx, b))
	tasks, err := db.GetPendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	// First failure schedules a retry.
	d.processTask(ctx, &tasks[0])
	time.Sleep(5 * time.Millisecond) // let the 1ms retry delay elapse
	tasks, err = db.GetPendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "retry", tasks[0].Status)
	assert.Equal(t, 1, tasks[0].RetryCount)

	// Second failure exhausts the budget and dead-letters the task.
	d.processTask(ctx, &tasks[0])

	failed, err := db.GetFailedNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].LastError)
	assert.Contains(t, *failed[0].LastError, "smtp down")

	deadLetters, err := client.LLen(ctx, d.deadLetterKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deadLetters)
}

func TestSendReminder_RetriesInline(t *testing.T) {
	gateway := &recordingGateway{}
	d, db, _ := setupDispatcher(t, gateway, false)
	b := storedBooking(t, db)

	require.NoError(t, d.SendReminder(context.Background(), b))
	assert.Equal(t, []string{models.NotificationReminder}, gateway.sent)
}

func TestSendReminder_ReportsFinalFailure(t *testing.T) {
	gateway := &recordingGateway{failErr: errors.New("sms gateway down")}
	d, db, _ := setupDispatcher(t, gateway, false)
	b := storedBooking(t, db)

	err := d.SendReminder(context.Background(), b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestFormatMessage(t *testing.T) {
	b := &models.Booking{
		BookingNumber:      "BK-20260910-0001",
		BookingType:        models.TypeVisit,
		Date:               time.Date(2026, 9, 10, 0, 0, 0, 0, time.Local),
		Time:               "10:30",
		CancellationReason: "moved away",
	}

	assert.Contains(t, FormatMessage(models.NotificationConfirmation, b), "BK-20260910-0001")
	assert.Contains(t, FormatMessage(models.NotificationReminder, b), "tomorrow")
	assert.Contains(t, FormatMessage(models.NotificationCancellation, b), "moved away")
}
