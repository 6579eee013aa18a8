package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInitProvider_ExposesLinkMetrics(t *testing.T) {
	ctx := context.Background()
	tel, err := InitProvider(ctx, ProviderConfig{ServiceVersion: "test", InstanceID: "abc"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics(tel.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordSend(ctx, 1024, nil)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{"pttlink_datagrams_sent", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics output missing %q", want)
		}
	}
}

func TestTelemetry_ShutdownTwice(t *testing.T) {
	tel, err := InitProvider(context.Background(), ProviderConfig{})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	// A second shutdown reports an error from the SDK but must not panic.
	_ = tel.Shutdown(context.Background())
}
