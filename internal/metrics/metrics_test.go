package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersMove(t *testing.T) {
	before := testutil.ToFloat64(sendAttemptsTotal.WithLabelValues(OutcomeRetry))
	IncSendAttempt(OutcomeRetry)
	assert.Equal(t, before+1, testutil.ToFloat64(sendAttemptsTotal.WithLabelValues(OutcomeRetry)))

	SetOutboxDepth(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(outboxDepth))

	IncSubscriptions()
	IncSubscriptions()
	DecSubscriptions()
	assert.GreaterOrEqual(t, testutil.ToFloat64(activeSubscriptions), float64(1))
}

func TestHandlerExposesInstruments(t *testing.T) {
	ObserveHTTP(http.MethodGet, "/health", http.StatusOK, time.Now())
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "chatsync_http_requests_total")
}
