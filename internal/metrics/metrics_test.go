package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRelayCountersIncrement(t *testing.T) {
	relay := "custom_smtp.test_user_0"

	RelaySendSuccess.WithLabelValues(relay).Inc()
	if v := testutil.ToFloat64(RelaySendSuccess.WithLabelValues(relay)); v < 1 {
		t.Fatalf("expected RelaySendSuccess >= 1, got %v", v)
	}

	RelaySendFailure.WithLabelValues(relay, "auth").Inc()
	if v := testutil.ToFloat64(RelaySendFailure.WithLabelValues(relay, "auth")); v < 1 {
		t.Fatalf("expected RelaySendFailure >= 1, got %v", v)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	CampaignRecipients.WithLabelValues("sent").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "mail_dispatch_campaign_recipients_total") {
		t.Error("metrics output missing campaign recipients counter")
	}
}
