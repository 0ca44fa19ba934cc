package metrics

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	r := New()
	c := r.Counter("requests_total", "Requests")
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Errorf("value = %d, want 5", c.Value())
	}
	// Same name returns the same counter.
	if r.Counter("requests_total", "") != c {
		t.Error("counter not deduplicated")
	}
}

func TestGauge(t *testing.T) {
	r := New()
	g := r.Gauge("in_progress", "In progress")
	g.Set(3)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 2 {
		t.Errorf("value = %d, want 2", g.Value())
	}
}

func TestHistogram_Observe(t *testing.T) {
	r := New()
	h := r.Histogram("latency_seconds", "Latency", []float64{0.125, 1, 10})
	h.Observe(0.0625)
	h.Observe(0.5)
	h.Observe(5)
	h.Observe(50)

	buckets, counts, sum, count := h.snapshot()
	if len(buckets) != 3 {
		t.Fatalf("buckets = %v", buckets)
	}
	if counts[0] != 1 || counts[1] != 1 || counts[2] != 1 {
		t.Errorf("counts = %v", counts)
	}
	if count != 4 {
		t.Errorf("count = %d", count)
	}
	if sum != 55.5625 {
		t.Errorf("sum = %g", sum)
	}
}

func TestHistogram_Since(t *testing.T) {
	r := New()
	h := r.Histogram("op_seconds", "", nil)
	h.Since(time.Now().Add(-time.Millisecond))
	_, _, _, count := h.snapshot()
	if count != 1 {
		t.Errorf("count = %d", count)
	}
}

func TestWithLabels(t *testing.T) {
	if got := WithLabels("foo", "model", "minilm"); got != `foo{model="minilm"}` {
		t.Errorf("got %q", got)
	}
	if got := WithLabels("foo", "a", "1", "b", "2"); got != `foo{a="1",b="2"}` {
		t.Errorf("got %q", got)
	}
	if got := WithLabels("foo"); got != "foo" {
		t.Errorf("got %q", got)
	}
	// Odd pairs are ignored rather than producing a broken name.
	if got := WithLabels("foo", "a"); got != "foo" {
		t.Errorf("got %q", got)
	}
}

func TestRender_CounterAndGauge(t *testing.T) {
	r := New()
	r.Counter("jobs_total", "Jobs processed").Add(7)
	r.Gauge("workers", "Active workers").Set(2)

	out := r.Render()
	for _, want := range []string{
		"# HELP jobs_total Jobs processed",
		"# TYPE jobs_total counter",
		"jobs_total 7",
		"# TYPE workers gauge",
		"workers 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestRender_LabeledSeries(t *testing.T) {
	r := New()
	r.Counter(WithLabels("embedder_requests_total", "model_name", "minilm"), "Embed requests").Add(3)
	r.Counter(WithLabels("embedder_requests_total", "model_name", "nomic"), "Embed requests").Add(1)

	out := r.Render()
	if strings.Count(out, "# TYPE embedder_requests_total counter") != 1 {
		t.Errorf("base type line should appear once:\n%s", out)
	}
	if !strings.Contains(out, `embedder_requests_total{model_name="minilm"} 3`) {
		t.Errorf("missing minilm series:\n%s", out)
	}
	if !strings.Contains(out, `embedder_requests_total{model_name="nomic"} 1`) {
		t.Errorf("missing nomic series:\n%s", out)
	}
}

func TestRender_Histogram(t *testing.T) {
	r := New()
	h := r.Histogram("latency_seconds", "Latency", []float64{0.25, 1})
	h.Observe(0.125)
	h.Observe(0.5)
	h.Observe(2)

	out := r.Render()
	for _, want := range []string{
		"# TYPE latency_seconds histogram",
		`latency_seconds_bucket{le="0.25"} 1`,
		`latency_seconds_bucket{le="1"} 2`,
		`latency_seconds_bucket{le="+Inf"} 3`,
		"latency_seconds_sum 2.625",
		"latency_seconds_count 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestRender_LabeledHistogram(t *testing.T) {
	r := New()
	h := r.Histogram(WithLabels("embedder_duration_seconds", "model_name", "minilm"), "", []float64{1})
	h.Observe(0.5)

	out := r.Render()
	if !strings.Contains(out, `embedder_duration_seconds_bucket{le="1",model_name="minilm"} 1`) {
		t.Errorf("labeled bucket missing:\n%s", out)
	}
	if !strings.Contains(out, `embedder_duration_seconds_sum{model_name="minilm"} 0.5`) {
		t.Errorf("labeled sum missing:\n%s", out)
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("hits_total", "").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "hits_total 1") {
		t.Errorf("body:\n%s", rec.Body.String())
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Counter("c_total", "").Inc()
				r.Histogram("h_seconds", "", nil).Observe(0.1)
				r.Render()
			}
		}()
	}
	wg.Wait()
	if v := r.Counter("c_total", "").Value(); v != 800 {
		t.Errorf("counter = %d, want 800", v)
	}
}
