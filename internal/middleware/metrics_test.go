package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	status int
	bytes  int64
}

type fakeHTTPRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	active   int
	peak     int
}

func (f *fakeHTTPRecorder) RecordHTTPRequest(method, path string, status int, _ time.Duration, bytes int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method, path, status, bytes})
}

func (f *fakeHTTPRecorder) IncrementActiveConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
}

func (f *fakeHTTPRecorder) DecrementActiveConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active--
}

func TestMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	rec := &fakeHTTPRecorder{}
	router := mux.NewRouter()
	router.Use(MetricsMiddleware(rec))
	router.HandleFunc("/api/env/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("nope"))
	}).Methods("GET")

	for _, id := range []string{"a", "b", "c"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/env/"+id, nil))
	}

	require.Len(t, rec.requests, 3)
	for _, r := range rec.requests {
		assert.Equal(t, recordedRequest{"GET", "/api/env/{id}", http.StatusForbidden, 4}, r)
	}
	assert.Equal(t, 0, rec.active)
	assert.Equal(t, 1, rec.peak)
}

func TestMetricsMiddleware_Unmatched(t *testing.T) {
	rec := &fakeHTTPRecorder{}
	handler := MetricsMiddleware(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))
	require.Len(t, rec.requests, 1)
	assert.Equal(t, "unmatched", rec.requests[0].path)
	assert.Equal(t, http.StatusOK, rec.requests[0].status)
}
