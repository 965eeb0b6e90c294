package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollectorExposesDomainCounters(t *testing.T) {
	collector := NewCollector("medify")
	collector.ObserveSave("success")
	collector.ObserveBlob("upload", "avatar", "failure")
	collector.ObserveRequest(http.MethodGet, "/healthz", "200", 0.002)

	recorder := httptest.NewRecorder()
	collector.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	body, err := io.ReadAll(recorder.Result().Body)
	if err != nil {
		t.Fatalf("failed to read metrics body: %v", err)
	}
	for _, expected := range []string{
		`medify_records_saves_total{outcome="success"} 1`,
		`medify_blobs_operations_total{namespace="avatar",operation="upload",outcome="failure"} 1`,
		`medify_http_requests_total{method="GET",path="/healthz",status="200"} 1`,
	} {
		if !strings.Contains(string(body), expected) {
			t.Fatalf("expected metrics output to contain %q", expected)
		}
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var collector *Collector
	collector.ObserveSave("success")
	collector.ObserveExport("blocked")
	collector.SessionOpened()
	if collector.Handler() == nil {
		t.Fatalf("expected default handler")
	}
}

func TestCollectorsDoNotShareRegistries(t *testing.T) {
	first := NewCollector("medify")
	second := NewCollector("medify")
	first.ObserveExport("success")
	second.ObserveExport("success")
}
