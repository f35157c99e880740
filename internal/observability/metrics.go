package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Domain collectors. HTTP collectors live in the middleware package.
//
// Label sets are closed:
//   - kind:    like | downvote
//   - outcome: recorded | duplicate | not_found | error (votes)
//     sent | failed (notifications)
var (
	votesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votes_total",
			Help: "Vote attempts by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	scriptsRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scripts_removed_total",
			Help: "Scripts deleted by the moderation policy.",
		},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Per-subscriber notification deliveries by outcome.",
		},
		[]string{"outcome"},
	)

	notificationSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_subscribers",
			Help: "Current number of live notification subscribers.",
		},
	)

	extractionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadata_extractions_total",
			Help: "Metadata extractor calls by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(votesTotal, scriptsRemoved, notificationsSent, notificationSubscribers, extractionAttempts)
}

// ObserveVote counts one vote attempt.
func ObserveVote(kind, outcome string) { votesTotal.WithLabelValues(kind, outcome).Inc() }

// ObserveScriptRemoved counts one moderation deletion.
func ObserveScriptRemoved() { scriptsRemoved.Inc() }

// ObserveNotification counts one delivery attempt to one subscriber.
func ObserveNotification(ok bool) {
	if ok {
		notificationsSent.WithLabelValues("sent").Inc()
		return
	}
	notificationsSent.WithLabelValues("failed").Inc()
}

// SetSubscribers publishes the live subscriber count.
func SetSubscribers(n int) { notificationSubscribers.Set(float64(n)) }

// ObserveExtraction counts one extractor call ("complete", "incomplete", "error").
func ObserveExtraction(outcome string) { extractionAttempts.WithLabelValues(outcome).Inc() }
