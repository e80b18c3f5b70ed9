package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New("test", reg)
	require.NoError(t, err)

	r.Ingest(OutcomeSuccess, 10)
	r.Ingest(OutcomeValidation, 0)
	r.Derivation(OutcomeSuccess, 5*time.Millisecond)
	r.Retrieval("thumbnail", OutcomeNotFound)
	r.QueueDepth(3, 1, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.ingests.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.ingestBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.derivations.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retrievals.WithLabelValues("thumbnail", OutcomeNotFound)))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.queueDepth.WithLabelValues("ready")))

	// Registering twice on the same registry is tolerated.
	_, err = New("test", reg)
	require.NoError(t, err)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Ingest(OutcomeSuccess, 1)
	r.Derivation(OutcomeFailed, time.Second)
	r.Retrieval("original", OutcomeSuccess)
	r.QueueDepth(1, 2, 3)
}

func TestHandlerExposesMetrics(t *testing.T) {
	r, err := New("thumbflow", nil)
	require.NoError(t, err)
	r.Ingest(OutcomeSuccess, 4)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `thumbflow_ingests_total{outcome="success"} 1`)
}
