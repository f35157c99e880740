package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDomainMetrics(t *testing.T) {
	before := testutil.ToFloat64(votesTotal.WithLabelValues("like", "recorded"))
	ObserveVote("like", "recorded")
	if got := testutil.ToFloat64(votesTotal.WithLabelValues("like", "recorded")); got != before+1 {
		t.Fatalf("votes_total = %v; want %v", got, before+1)
	}

	removed := testutil.ToFloat64(scriptsRemoved)
	ObserveScriptRemoved()
	if got := testutil.ToFloat64(scriptsRemoved); got != removed+1 {
		t.Fatalf("scripts_removed_total = %v", got)
	}

	sent := testutil.ToFloat64(notificationsSent.WithLabelValues("sent"))
	failed := testutil.ToFloat64(notificationsSent.WithLabelValues("failed"))
	ObserveNotification(true)
	ObserveNotification(false)
	if testutil.ToFloat64(notificationsSent.WithLabelValues("sent")) != sent+1 ||
		testutil.ToFloat64(notificationsSent.WithLabelValues("failed")) != failed+1 {
		t.Fatalf("notifications_sent_total not incremented")
	}

	SetSubscribers(3)
	if got := testutil.ToFloat64(notificationSubscribers); got != 3 {
		t.Fatalf("notification_subscribers = %v", got)
	}

	ex := testutil.ToFloat64(extractionAttempts.WithLabelValues("complete"))
	ObserveExtraction("complete")
	if got := testutil.ToFloat64(extractionAttempts.WithLabelValues("complete")); got != ex+1 {
		t.Fatalf("metadata_extractions_total = %v", got)
	}
}
