package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("")
	b := NewCollector("")

	a.EmbeddingLookups.WithLabelValues(ResultHit).Inc()
	a.EmbeddingLookups.WithLabelValues(ResultHit).Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.EmbeddingLookups.WithLabelValues(ResultHit)))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.EmbeddingLookups.WithLabelValues(ResultHit)))
}

func TestHandler(t *testing.T) {
	c := NewCollector("test")
	c.Searches.Inc()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_search_requests_total 1")
}
