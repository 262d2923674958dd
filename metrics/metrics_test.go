package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/complaint-engine/types"
)

func TestCollector(t *testing.T) {
	c := NewCollector()

	c.ObserveStage("classification", 120*time.Millisecond, false, true)
	c.ObserveStage("classification", 80*time.Millisecond, true, false)
	c.ObserveStage("priority", time.Millisecond, false, false)
	c.ObserveRun(types.StatusEscalated, 3)
	c.ObserveRun(types.StatusAutoResolved, 1)
	c.ObserveRun(types.StatusAutoResolved, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.fallbacks.WithLabelValues("classification")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageErrors.WithLabelValues("classification")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.stageErrors.WithLabelValues("priority")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.runs.WithLabelValues("auto_resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("escalated")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.stageDuration))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	a.ObserveRun(types.StatusError, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.runs.WithLabelValues("error")))
	assert.Equal(t, 0, testutil.CollectAndCount(b.runs))
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.ObserveRun(types.StatusPendingReview, 2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `complaint_engine_runs_total{status="pending_review"} 1`), body)
	assert.Contains(t, body, "complaint_engine_iterations_bucket")
	assert.Contains(t, body, "go_goroutines")
}
