package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInitProvider_ServesMetrics(t *testing.T) {
	tel, err := InitProvider(context.Background(), ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics(tel.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordCommand(context.Background(), "pause", "accepted")

	srv := httptest.NewServer(tel.MetricsHandler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "voxtimer_commands") {
		t.Errorf("exposition missing voxtimer_commands:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("exposition missing Go runtime metrics")
	}
}

func TestInitProvider_IndependentRegistries(t *testing.T) {
	for range 2 {
		tel, err := InitProvider(context.Background(), ProviderConfig{})
		if err != nil {
			t.Fatalf("InitProvider: %v", err)
		}
		if err := tel.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}
}
