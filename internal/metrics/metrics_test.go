package metrics

import (
	"errors"
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObservePage(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObservePage("PERMALINK", 200, true, 250*time.Millisecond)

	families := gather(t, rec, "pagectrl_page_requests_total", "pagectrl_page_request_duration_seconds")

	counter := findMetric(t, families["pagectrl_page_requests_total"], map[string]string{
		"kind":        "PERMALINK",
		"status_code": "200",
		"from_cache":  "true",
	})
	if counter.GetCounter() == nil {
		t.Fatalf("expected counter metric for page requests")
	}
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}

	histMetric := findMetric(t, families["pagectrl_page_request_duration_seconds"], map[string]string{
		"kind": "PERMALINK",
	})
	hist := histMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for page latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.25
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObservePageUnknownLabels(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObservePage(" ", 0, false, time.Millisecond)

	families := gather(t, rec, "pagectrl_page_requests_total")
	findMetric(t, families["pagectrl_page_requests_total"], map[string]string{
		"kind":        "unknown",
		"status_code": "unknown",
		"from_cache":  "false",
	})
}

func TestRecorderSpamAndHits(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveSpamReferrer("acme")
	rec.ObserveSpamReferrer("acme")
	rec.ObserveHitsFlushed(3, nil)
	rec.ObserveHitsFlushed(2, errors.New("disk full"))
	rec.ObserveHitsFlushed(0, nil)

	families := gather(t, rec, "pagectrl_referrer_spam_total", "pagectrl_hits_flushed_total")
	spam := findMetric(t, families["pagectrl_referrer_spam_total"], map[string]string{"weblog": "acme"})
	if got := spam.GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected spam counter 2, got %v", got)
	}
	stored := findMetric(t, families["pagectrl_hits_flushed_total"], map[string]string{"result": "stored"})
	if got := stored.GetCounter().GetValue(); got != 3 {
		t.Fatalf("expected stored hits 3, got %v", got)
	}
	failed := findMetric(t, families["pagectrl_hits_flushed_total"], map[string]string{"result": "error"})
	if got := failed.GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected failed hits 2, got %v", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.ObservePage("DEFAULT", 200, false, time.Millisecond)
	rec.ObserveCacheLookup("weblogpage", CacheLookupHit, time.Millisecond)
	rec.ObserveCacheClear("sitewide", "all", time.Millisecond)
	rec.ObserveSpamReferrer("acme")
	rec.ObserveHitsFlushed(1, nil)

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 503 {
		t.Fatalf("expected 503 from nil recorder, got %d", rr.Code)
	}
}

func TestRecorderObserveCacheOperations(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCacheLookup("weblogpage", CacheLookupHit, 10*time.Millisecond)
	rec.ObserveCacheStore("weblogpage", CacheStoreStored, 5*time.Millisecond)

	families := gather(t, rec, "pagectrl_cache_operations_total", "pagectrl_cache_operation_duration_seconds")

	lookupMetric := findMetric(t, families["pagectrl_cache_operations_total"], map[string]string{
		"cache":     "weblogpage",
		"operation": string(CacheOperationLookup),
		"result":    string(CacheLookupHit),
	})
	if lookupMetric.GetCounter() == nil {
		t.Fatalf("expected counter metric for cache lookup")
	}
	if got := lookupMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected lookup counter 1, got %v", got)
	}

	storeMetric := findMetric(t, families["pagectrl_cache_operations_total"], map[string]string{
		"cache":     "weblogpage",
		"operation": string(CacheOperationStore),
		"result":    string(CacheStoreStored),
	})
	if storeMetric.GetCounter() == nil {
		t.Fatalf("expected counter metric for cache store")
	}
	if got := storeMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected store counter 1, got %v", got)
	}

	latencyMetric := findMetric(t, families["pagectrl_cache_operation_duration_seconds"], map[string]string{
		"cache":     "weblogpage",
		"operation": string(CacheOperationStore),
		"result":    string(CacheStoreStored),
	})
	hist := latencyMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for cache store latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.005
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
