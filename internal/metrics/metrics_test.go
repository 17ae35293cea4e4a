package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/cartographer/internal/status"
)

func TestRecorder_ExposesCounters(t *testing.T) {
	r := NewRecorder(nil)
	r.RunStarted()
	r.RunFinished(status.StateComplete)
	r.PhaseCompleted("embed", 2*time.Second)
	r.ItemFailed("enrichment")
	r.ObserveCache(3, 1)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"cartographer_pipeline_runs_started_total 1",
		`cartographer_pipeline_runs_finished_total{status="complete"} 1`,
		`cartographer_pipeline_phase_duration_seconds_count{phase="embed"} 1`,
		`cartographer_llm_item_failures_total{kind="enrichment"} 1`,
		`cartographer_embedding_cache_lookups_total{result="hit"} 3`,
		`cartographer_embedding_cache_lookups_total{result="miss"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestRecorder_SeparateRegistries(t *testing.T) {
	// Registering twice on fresh registries must not panic.
	NewRecorder(nil)
	NewRecorder(nil)
}
