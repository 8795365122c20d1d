package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"carebook/internal/models"

	"github.com/rs/zerolog"
)

// Client talks to the external scheduling provider's REST API. Every
// call carries the configured bounded timeout; callers treat any error
// as non-fatal for local booking state.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zerolog.Logger
}

// CreateEventRequest describes the event to create at the provider.
type CreateEventRequest struct {
	CenterName      string    `json:"location"`
	ServiceName     string    `json:"service,omitempty"`
	StartsAt        time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	AttendeeName    string    `json:"attendee_name"`
	AttendeeEmail   string    `json:"attendee_email,omitempty"`
	BookingNumber   string    `json:"external_id"`
}

// ProviderError reports a non-2xx provider response.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("scheduling provider returned %d: %s", e.Status, e.Body)
}

// NewClient constructs a provider client. An empty baseURL produces a
// disabled client: Enabled() is false and no calls are made.
func NewClient(baseURL, token string, timeout time.Duration, logger *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Enabled reports whether the provider integration is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// CreateEvent creates a scheduled event and returns its provider refs.
func (c *Client) CreateEvent(ctx context.Context, req CreateEventRequest) (*models.ExternalRef, error) {
	endpoint := c.baseURL + "/scheduled_events"

	var resp struct {
		Resource struct {
			ID            string `json:"id"`
			URI           string `json:"uri"`
			CancelURL     string `json:"cancel_url"`
			RescheduleURL string `json:"reschedule_url"`
		} `json:"resource"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, req, &resp); err != nil {
		return nil, err
	}

	if resp.Resource.URI == "" {
		return nil, fmt.Errorf("scheduling provider returned no event uri")
	}
	return &models.ExternalRef{
		EventID:       resp.Resource.ID,
		EventURI:      resp.Resource.URI,
		CancelURL:     resp.Resource.CancelURL,
		RescheduleURL: resp.Resource.RescheduleURL,
	}, nil
}

// CancelEvent cancels the event behind eventURI.
func (c *Client) CancelEvent(ctx context.Context, eventURI, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, http.MethodDelete, eventURI, body, nil)
}

// RescheduleEvent moves the event behind eventURI to a new start time.
func (c *Client) RescheduleEvent(ctx context.Context, eventURI string, startsAt time.Time) error {
	body := map[string]string{"start_time": startsAt.Format(time.RFC3339)}
	return c.do(ctx, http.MethodPatch, eventURI, body, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scheduling provider request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProviderError{Status: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode provider response: %w", err)
		}
	}
	return nil
}
