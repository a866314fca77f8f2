package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/StoreCache/pkg/metrics"
)

// mockMetricsProvider records RecordPanic calls.
type mockMetricsProvider struct {
	metrics.NoOpProvider
	panicRecorded bool
	methodName    string
}

func (m *mockMetricsProvider) RecordPanic(methodName string) {
	m.panicRecorded = true
	m.methodName = methodName
}

func TestPanicRecovery(t *testing.T) {
	mockProvider := &mockMetricsProvider{}
	originalProvider := metrics.GetProvider()
	metrics.SetProvider(mockProvider)
	t.Cleanup(func() { metrics.SetProvider(originalProvider) })

	t.Run("recovers from panic and returns 500", func(t *testing.T) {
		mockProvider.panicRecorded = false
		mockProvider.methodName = ""

		handler := PanicRecovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(`something "went" terribly wrong`)
		}))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cache/stats", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), "body must stay valid JSON even with quotes in the panic value")
		assert.Equal(t, "internal_error", body["error"])
		assert.Contains(t, body["message"], `panic in PanicMiddleware: something "went" terribly wrong`)

		assert.True(t, mockProvider.panicRecorded)
		assert.Equal(t, panicMiddlewareMethodName, mockProvider.methodName)
	})

	t.Run("does not interfere with a non-panicking handler", func(t *testing.T) {
		mockProvider.panicRecorded = false

		handler := PanicRecovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		}))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cache/stats", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "OK", rr.Body.String())
		assert.False(t, mockProvider.panicRecorded)
	})
}
