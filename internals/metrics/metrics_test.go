package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersExposed(t *testing.T) {
	m := New()
	m.JobsSubmitted.Inc()
	m.JobsSubmitted.Inc()
	m.Workers.WithLabelValues("listener").Inc()

	if got := testutil.ToFloat64(m.JobsSubmitted); got != 2 {
		t.Fatalf("expected 2 submitted, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"comfyrunner_jobs_submitted_total 2", `comfyrunner_workers_running{kind="listener"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in exposition, got:\n%s", want, body)
		}
	}
}
