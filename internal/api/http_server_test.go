package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"carebook/internal/config"
	"carebook/internal/database"
	"carebook/internal/models"
	"carebook/internal/scheduling"
	"carebook/internal/service"
	"carebook/internal/webhook"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey        = "test-key-123"
	testWebhookSecret = "hook-secret"
)

type silentDispatcher struct{}

func (silentDispatcher) EnqueueConfirmation(ctx context.Context, b *models.Booking) error { return nil }
func (silentDispatcher) EnqueueCancellation(ctx context.Context, b *models.Booking) error { return nil }
func (silentDispatcher) SendReminder(ctx context.Context, b *models.Booking) error        { return nil }

func setupServer(t *testing.T) (*HTTPServer, *database.DB, *scheduling.SignatureVerifier) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	db.SetCenters([]*models.Center{
		{ID: 1, Name: "Sonnenhof", IsActive: true, Services: []models.CenterService{
			{ID: 101, Name: "Day care", DurationMinutes: 480},
		}},
	})

	svc := service.NewBookingService(db, db, nil, silentDispatcher{}, nil, &logger)
	verifier := scheduling.NewSignatureVerifier(testWebhookSecret)
	reconciler := webhook.NewReconciler(verifier, db, svc, nil, time.Hour, &logger)

	cfg := &config.APIConfig{
		Enabled: true,
		Port:    0,
		Auth: config.APIAuthConfig{
			HeaderAPIKey: "x-api-key",
			APIKeys:      []config.APIClientKey{{Key: testAPIKey, Name: "tests"}},
		},
		RateLimit: config.APIRateLimitConfig{RPS: 1000, Burst: 1000},
	}

	return NewHTTPServer(cfg, svc, db, db, db, reconciler, &logger), db, verifier
}

func doRequest(t *testing.T, srv *HTTPServer, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("x-api-key", testAPIKey)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func createPayload() map[string]any {
	tomorrow := time.Now().AddDate(0, 0, 1)
	return map[string]any{
		"user_id":      42,
		"center_id":    1,
		"service_id":   101,
		"date":         tomorrow.Format("2006-01-02"),
		"time":         "10:30",
		"booking_type": models.TypeVisit,
		"notes":        "first visit",
	}
}

func TestAPI_Auth(t *testing.T) {
	srv, _, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/centers", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/centers", nil)
	req.Header.Set("x-api-key", "wrong-key")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/centers", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_RateLimit(t *testing.T) {
	srv, _, _ := setupServer(t)
	srv.auth.cfg.RateLimit = config.APIRateLimitConfig{RPS: 1, Burst: 2}

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/centers", nil, true)
		codes[rec.Code]++
	}
	assert.Positive(t, codes[http.StatusTooManyRequests])
}

func TestAPI_CreateAndGetBooking(t *testing.T) {
	srv, _, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", createPayload(), true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Regexp(t, `^BK-\d{8}-\d{4}$`, created.BookingNumber)

	rec = doRequest(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d", created.ID), nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/bookings/number/"+created.BookingNumber, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/bookings/99999", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CreateBooking_Validation(t *testing.T) {
	srv, _, _ := setupServer(t)

	payload := createPayload()
	payload["date"] = "not-a-date"
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", payload, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payload = createPayload()
	payload["booking_type"] = "sleepover"
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/bookings", payload, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payload = createPayload()
	payload["date"] = time.Now().AddDate(0, 0, -2).Format("2006-01-02")
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/bookings", payload, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CreateBooking_DuplicateConflict(t *testing.T) {
	srv, _, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", createPayload(), true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/bookings", createPayload(), true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_UpdateBooking(t *testing.T) {
	srv, _, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", createPayload(), true)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doRequest(t, srv, http.MethodPatch, fmt.Sprintf("/api/v1/bookings/%d", created.ID),
		map[string]any{"time": "14:00", "notes": "afternoon slot"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "14:00", updated.Time)
	assert.Equal(t, "afternoon slot", updated.Notes)
}

func TestAPI_Lifecycle(t *testing.T) {
	srv, db, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", createPayload(), true)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	base := fmt.Sprintf("/api/v1/bookings/%d", created.ID)

	// Completing a pending booking is a conflict.
	rec = doRequest(t, srv, http.MethodPost, base+"/complete", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, base+"/confirm", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, base+"/complete", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := db.GetBooking(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestAPI_CancelBooking(t *testing.T) {
	srv, db, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", createPayload(), true)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	path := fmt.Sprintf("/api/v1/bookings/%d/cancel", created.ID)
	rec = doRequest(t, srv, http.MethodPost, path, map[string]string{"reason": "moved away"}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := db.GetBooking(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, "moved away", got.CancellationReason)

	rec = doRequest(t, srv, http.MethodPost, path, map[string]string{"reason": "again"}, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_NoShow(t *testing.T) {
	srv, _, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", createPayload(), true)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	base := fmt.Sprintf("/api/v1/bookings/%d", created.ID)
	rec = doRequest(t, srv, http.MethodPost, base+"/confirm", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, base+"/no-show", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_UserBookings(t *testing.T) {
	srv, _, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", createPayload(), true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/users/42/bookings", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestAPI_ListBookingsByDateRange(t *testing.T) {
	srv, _, _ := setupServer(t)

	payload := createPayload()
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", payload, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	day := payload["date"].(string)
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/bookings?from="+day+"&to="+day, nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var listing struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Count)

	// A window past the booking is empty.
	later := time.Now().AddDate(0, 0, 3).Format("2006-01-02")
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/bookings?from="+later+"&to="+later, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 0, listing.Count)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/bookings?from=bad&to="+day, nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/bookings?from="+later+"&to="+day, nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_FailedNotifications(t *testing.T) {
	srv, db, _ := setupServer(t)

	task := &models.Notification{
		TaskID:    "t-1",
		Kind:      models.NotificationConfirmation,
		BookingID: 1,
		Payload:   "{}",
		Status:    "pending",
	}
	require.NoError(t, db.CreateNotification(context.Background(), task))
	require.NoError(t, db.UpdateNotificationStatus(context.Background(), task.ID, "failed", "smtp down", nil))

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/notifications/failed", nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var listing struct {
		Count         int                   `json:"count"`
		Notifications []models.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, "failed", listing.Notifications[0].Status)

	// Dead-letter listing sits behind API-key auth like the rest.
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/notifications/failed", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_Healthz(t *testing.T) {
	srv, _, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_Webhook(t *testing.T) {
	srv, db, verifier := setupServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", createPayload(), true)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	uri := "https://provider.test/scheduled_events/ev-1"
	require.NoError(t, db.SetExternalRef(context.Background(), created.ID, &models.ExternalRef{
		EventID: "ev-1", EventURI: uri,
	}))

	payload := []byte(`{"type":"invitee.created","data":{"uri":"` + uri + `"}}`)

	// Missing signature is rejected.
	req := httptest.NewRequest(http.MethodPost, "/webhooks/scheduling", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Correctly signed delivery confirms the booking.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/scheduling", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", verifier.Sign(payload))
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	got, err := db.GetBooking(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
}
