package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicketsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_tickets_issued_total",
		Help: "Tickets issued at the kiosk.",
	})

	TicketsCalled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_tickets_called_total",
		Help: "Call announcements, by trigger.",
	}, []string{"trigger"})

	TicketsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_tickets_closed_total",
		Help: "Tickets closed, by outcome status.",
	}, []string{"outcome"})

	TicketsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_tickets_skipped_total",
		Help: "Tickets skipped as no-shows.",
	})

	FeedbackSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_feedback_submitted_total",
		Help: "Feedback entries accepted from the counter tablet.",
	})

	WaitingTickets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_waiting_tickets",
		Help: "Tickets currently waiting (NEW or ASSIGNED).",
	})
)
