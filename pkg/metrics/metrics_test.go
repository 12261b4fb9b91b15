package metrics

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/contrib-harvester/pkg/orchestrator"
)

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}

	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

func TestProgress(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(3, 2, zerolog.New(buf))

	p.EntityDone("a", []orchestrator.FetchResult{{Status: orchestrator.StatusOK}, {Status: orchestrator.StatusNotFound}})
	if strings.Contains(buf.String(), "Run progress") {
		t.Error("progress should not be logged after the first entity")
	}

	p.EntityDone("b", []orchestrator.FetchResult{{Status: orchestrator.StatusPartial}})
	if !strings.Contains(buf.String(), `"done":2`) {
		t.Errorf("expected progress log at 2 entities, got %q", buf.String())
	}

	p.EntityDone("c", []orchestrator.FetchResult{{Status: orchestrator.StatusOK}})
	if !strings.Contains(buf.String(), `"done":3`) {
		t.Errorf("expected progress log on the last entity, got %q", buf.String())
	}

	if got := p.Done(); got != 3 {
		t.Errorf("Done() = %d, want 3", got)
	}
	if got := p.Count(orchestrator.StatusOK); got != 2 {
		t.Errorf("Count(ok) = %d, want 2", got)
	}
	if got := testutil.ToFloat64(runEntitiesDone); got != 3 {
		t.Errorf("harvest_run_entities_done = %v, want 3", got)
	}
	if got := testutil.ToFloat64(runEntitiesTotal); got != 3 {
		t.Errorf("harvest_run_entities_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(runResults.WithLabelValues("partial")); got != 1 {
		t.Errorf("harvest_run_results{partial} = %v, want 1", got)
	}
}

func TestProgress_SetTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(0, 50, zerolog.New(buf))
	p.SetTotal(2)

	if got := testutil.ToFloat64(runEntitiesTotal); got != 2 {
		t.Errorf("harvest_run_entities_total = %v, want 2", got)
	}

	p.EntityDone("a", nil)
	p.EntityDone("b", nil)
	if !strings.Contains(buf.String(), `"total":2`) {
		t.Errorf("expected the final progress line against the new total, got %q", buf.String())
	}
}

func TestProgress_LoggingDisabled(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(1, 0, zerolog.New(buf))

	p.EntityDone("a", nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestHandler(t *testing.T) {
	NewProgress(7, 0, zerolog.Nop())

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "harvest_run_entities_total 7") {
		t.Error("metrics output should contain harvest_run_entities_total")
	}
}
