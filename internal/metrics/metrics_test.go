package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tracehub/internal/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCountsHubEvents(t *testing.T) {
	t.Parallel()

	c := New()
	c.ObserveIngest(domain.StageManifestNotification, 2*time.Millisecond)
	c.ObserveIngest(domain.StageManifestNotification, time.Millisecond)
	c.ObserveIngest(domain.StageTransit, time.Millisecond)
	c.ObserveRejected(3)
	c.ObserveAlerts([]domain.Alert{
		{Type: domain.AlertNewCorridor, Level: domain.AlertLevelInfo},
		{Type: domain.AlertHighVolume, Level: domain.AlertLevelWarning},
	})
	c.ObserveState(domain.GlobalStats{TotalOperations: 3, ActiveCountries: 2, ActiveCorridors: 1, TotalVolume: 25e6}, 2)

	if got := testutil.ToFloat64(c.operations.WithLabelValues("20")); got != 2 {
		t.Fatalf("stage 20 count=%v", got)
	}
	if got := testutil.ToFloat64(c.violations); got != 3 {
		t.Fatalf("violations=%v", got)
	}
	if got := testutil.ToFloat64(c.alerts.WithLabelValues("high_volume", "warning")); got != 1 {
		t.Fatalf("high volume alerts=%v", got)
	}
	if testutil.ToFloat64(c.activeCorridors) != 1 || testutil.ToFloat64(c.totalVolume) != 25e6 || testutil.ToFloat64(c.activeAlerts) != 2 {
		t.Fatalf("unexpected gauges")
	}
}

func TestCollectorCountsDeliveriesAndBroker(t *testing.T) {
	t.Parallel()

	c := New()
	c.ObserveDelivery("telegram", nil)
	c.ObserveDelivery("telegram", errors.New("down"))
	c.ObserveDropped(4)
	c.ObserveBrokerSample(120*time.Millisecond, true)
	c.ObserveBrokerSample(time.Second, false)

	if testutil.ToFloat64(c.deliveries.WithLabelValues("telegram", "error")) != 1 || testutil.ToFloat64(c.dropped) != 4 {
		t.Fatalf("unexpected delivery counters")
	}
	if testutil.ToFloat64(c.brokerProbes.WithLabelValues("error")) != 1 {
		t.Fatalf("unexpected broker counter")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	c := New()
	c.ObserveIngest(domain.StageFreePractice, time.Millisecond)
	response := httptest.NewRecorder()
	c.Handler().ServeHTTP(response, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(response.Body)
	if !strings.Contains(string(body), `tracehub_operations_recorded_total{stage="21"} 1`) {
		t.Fatalf("metric missing from exposition:\n%s", body)
	}
}
