package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flirtduo/chatlock/pkg/metrics"
)

func TestRecordOperation(t *testing.T) {
	r := metrics.NewRegistry()
	r.RecordOperation("acquire", "granted", 3*time.Millisecond)
	r.RecordOperation("acquire", "denied", time.Millisecond)
	r.RecordOperation("acquire", "denied", time.Millisecond)

	expected := `
# HELP chatlock_lock_operations_total Lock operations by operation and outcome.
# TYPE chatlock_lock_operations_total counter
chatlock_lock_operations_total{op="acquire",outcome="denied"} 2
chatlock_lock_operations_total{op="acquire",outcome="granted"} 1
`
	require.NoError(t, testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected), "chatlock_lock_operations_total"))
}

func TestRecordSweepIgnoresZero(t *testing.T) {
	r := metrics.NewRegistry()
	r.RecordSweep(0)
	r.RecordSweep(3)
	r.RecordRetry("acquire")

	expected := `
# HELP chatlock_locks_swept_total Expired locks removed by the sweeper.
# TYPE chatlock_locks_swept_total counter
chatlock_locks_swept_total 3
`
	require.NoError(t, testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected), "chatlock_locks_swept_total"))
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *metrics.Registry
	r.RecordOperation("release", "released", time.Millisecond)
	r.RecordRetry("release")
	r.RecordSweep(1)
}

func TestHandler(t *testing.T) {
	r := metrics.NewRegistry()
	r.RecordOperation("status", "free", time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chatlock_lock_operations_total{op="status",outcome="free"} 1`)
}
