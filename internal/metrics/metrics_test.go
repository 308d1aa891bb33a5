package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecorderCountsOutcomes(t *testing.T) {
	recorder := NewRecorder()

	recorder.ObserveClassification("remote", "success", 0.1)
	recorder.ObserveClassification("local_fallback", "success", 0.5)
	recorder.RecordRemoteFailure("endpoint_unsupported")
	recorder.RecordCacheHit()

	req := httptest.NewRequest("GET", "/metrics", nil)
	resp := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(resp, req)

	body := resp.Body.String()
	for _, want := range []string{
		`fruits_classifications_total{outcome="success",source="remote"} 1`,
		`fruits_classifications_total{outcome="success",source="local_fallback"} 1`,
		`fruits_remote_failures_total{kind="endpoint_unsupported"} 1`,
		`fruits_cache_hits_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestRecordersDoNotCollide(t *testing.T) {
	// Each recorder owns a registry, so constructing two must not panic.
	_ = NewRecorder()
	_ = NewRecorder()
}
