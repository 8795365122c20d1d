package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"carebook/internal/database"
	"carebook/internal/domain"
	"carebook/internal/models"
	"carebook/internal/webhook"
)

const maxBodyBytes = 1 << 20 // 1MB

type createBookingPayload struct {
	UserID        int64           `json:"user_id"`
	CenterID      int64           `json:"center_id"`
	ServiceID     *int64          `json:"service_id,omitempty"`
	Date          string          `json:"date"`
	Time          string          `json:"time"`
	BookingType   string          `json:"booking_type"`
	Questionnaire json.RawMessage `json:"questionnaire,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	UserName      string          `json:"user_name,omitempty"`
	UserEmail     string          `json:"user_email,omitempty"`
}

type updateBookingPayload struct {
	Date          *string         `json:"date,omitempty"`
	Time          *string         `json:"time,omitempty"`
	ServiceID     *int64          `json:"service_id,omitempty"`
	BookingType   *string         `json:"booking_type,omitempty"`
	Questionnaire json.RawMessage `json:"questionnaire,omitempty"`
	Notes         *string         `json:"notes,omitempty"`
}

type cancelPayload struct {
	Reason string `json:"reason"`
}

func decodeBody(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer body.Close()
	return json.NewDecoder(body).Decode(dst)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func parseDate(raw string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", raw, time.Local)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var payload createBookingPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	date, err := parseDate(payload.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	booking, err := s.bookings.Create(r.Context(), domain.CreateBookingRequest{
		UserID:        payload.UserID,
		CenterID:      payload.CenterID,
		ServiceID:     payload.ServiceID,
		Date:          date,
		Time:          payload.Time,
		BookingType:   payload.BookingType,
		Questionnaire: payload.Questionnaire,
		Notes:         payload.Notes,
		UserName:      payload.UserName,
		UserEmail:     payload.UserEmail,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	booking, err := s.bookings.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleGetBookingByNumber(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	if number == "" {
		writeError(w, http.StatusBadRequest, "booking number is required")
		return
	}

	booking, err := s.bookings.GetByNumber(r.Context(), number)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleUpdateBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	var payload updateBookingPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req := domain.UpdateBookingRequest{
		Time:          payload.Time,
		ServiceID:     payload.ServiceID,
		BookingType:   payload.BookingType,
		Questionnaire: payload.Questionnaire,
		Notes:         payload.Notes,
	}
	if payload.Date != nil {
		date, err := parseDate(*payload.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		req.Date = &date
	}

	booking, err := s.bookings.Update(r.Context(), id, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	var payload cancelPayload
	if err := decodeBody(r, &payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.bookings.Cancel(r.Context(), id, payload.Reason); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusCancelled})
}

func (s *HTTPServer) handleConfirmBooking(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, models.StatusConfirmed, s.bookings.Confirm)
}

func (s *HTTPServer) handleCompleteBooking(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, models.StatusCompleted, s.bookings.Complete)
}

func (s *HTTPServer) handleNoShowBooking(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, models.StatusNoShow, s.bookings.MarkNoShow)
}

func (s *HTTPServer) transition(w http.ResponseWriter, r *http.Request, to string, op func(ctx context.Context, id int64) error) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	if err := op(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": to})
}

// handleListBookings returns bookings between two calendar days
// inclusive, for reporting and schedule overviews.
func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not precede from")
		return
	}

	bookings, err := s.store.GetBookingsByDateRange(r.Context(), from, to)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings, "count": len(bookings)})
}

// handleFailedNotifications lists dead-lettered notification tasks so
// an operator can inspect and replay them.
func (s *HTTPServer) handleFailedNotifications(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.notifications.GetFailedNotifications(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": tasks, "count": len(tasks)})
}

func (s *HTTPServer) handleUserBookings(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	bookings, err := s.store.GetUserBookings(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings, "count": len(bookings)})
}

func (s *HTTPServer) handleCenters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"centers": s.centers.GetCenters()})
}

func (s *HTTPServer) handleSchedulingWebhook(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeError(w, http.StatusNotFound, "webhook endpoint is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Webhook-Signature")
	if err := s.reconciler.Handle(r.Context(), body, signature); err != nil {
		switch {
		case errors.Is(err, webhook.ErrBadSignature):
			writeError(w, http.StatusUnauthorized, "invalid signature")
		case errors.Is(err, database.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, database.ErrStatusConflict):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error().Err(err).Msg("webhook processing failed")
			writeError(w, http.StatusInternalServerError, "webhook processing failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
