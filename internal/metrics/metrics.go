package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carebook",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carebook",
			Name:      "booking_transitions_total",
			Help:      "Booking state transitions by target status and origin.",
		},
		[]string{"status", "origin"},
	)

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carebook",
			Name:      "webhook_events_total",
			Help:      "Inbound scheduling webhooks by outcome.",
		},
		[]string{"outcome"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carebook",
			Name:      "notifications_total",
			Help:      "Notification deliveries by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	remindersSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "carebook",
			Name:      "reminders_sent_total",
			Help:      "Day-ahead reminders dispatched by the sweep.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookingTransitions, webhookEvents, notifications, remindersSent)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncTransition counts a booking status transition.
func IncTransition(status, origin string) {
	bookingTransitions.WithLabelValues(status, origin).Inc()
}

// IncWebhook counts an inbound webhook outcome.
func IncWebhook(outcome string) {
	webhookEvents.WithLabelValues(outcome).Inc()
}

// IncNotification counts a notification delivery outcome.
func IncNotification(kind, outcome string) {
	notifications.WithLabelValues(kind, outcome).Inc()
}

// IncReminder counts one dispatched reminder.
func IncReminder() {
	remindersSent.Inc()
}
