package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"estate_crm_backend/platform/config"
)

func TestInitServesMetrics(t *testing.T) {
	ctx := context.Background()
	provider, err := Init(ctx, &config.Config{MetricsEnabled: true, ServiceName: "telemetry-test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	counter, err := provider.Meter().Int64Counter("telemetry_test_total")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(ctx, 2)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	provider.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics: status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "telemetry_test_total") {
		t.Fatalf("counter missing from scrape output:\n%s", rec.Body.String())
	}
}

func TestInitDisabled(t *testing.T) {
	provider, err := Init(context.Background(), &config.Config{MetricsEnabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if provider.Handler() != nil {
		t.Fatal("disabled metrics must not expose a handler")
	}
	if provider.Meter() == nil {
		t.Fatal("disabled metrics still return a usable meter")
	}
}
