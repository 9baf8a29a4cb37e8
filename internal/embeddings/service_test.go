package embeddings

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) Config {
	return Config{
		BaseURL:           url,
		Model:             "test-model",
		Dimension:         3,
		MaxRetries:        2,
		RequestsPerSecond: 1000,
		Timeout:           5 * time.Second,
	}
}

// newEmbedServer returns a test server answering /embed with one vector
// per input text.
func newEmbedServer(t *testing.T, vector []float32, failures *atomic.Int32, failStatus int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failures != nil && failures.Load() > 0 {
			failures.Add(-1)
			w.WriteHeader(failStatus)
			return
		}

		var req struct {
			Inputs interface{} `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		n := 1
		if texts, ok := req.Inputs.([]interface{}); ok {
			n = len(texts)
		}

		vectors := make([][]float32, n)
		for i := range vectors {
			vectors[i] = vector
		}
		require.NoError(t, json.NewEncoder(w).Encode(vectors))
	}))
}

func TestServiceEmbedQuery(t *testing.T) {
	srv := newEmbedServer(t, []float32{0.1, 0.2, 0.3}, nil, 0)
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil)
	require.NoError(t, err)

	vec, err := svc.EmbedQuery(t.Context(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestServiceEmbedDocuments(t *testing.T) {
	srv := newEmbedServer(t, []float32{1, 0, 0}, nil, 0)
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil)
	require.NoError(t, err)

	vecs, err := svc.EmbedDocuments(t.Context(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
}

func TestServiceRetriesTransientFailures(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2)
	srv := newEmbedServer(t, []float32{1, 0, 0}, &failures, http.StatusServiceUnavailable)
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil)
	require.NoError(t, err)

	vec, err := svc.EmbedQuery(t.Context(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, int32(0), failures.Load())
}

func TestServiceExhaustsRetries(t *testing.T) {
	var failures atomic.Int32
	failures.Store(100)
	srv := newEmbedServer(t, []float32{1, 0, 0}, &failures, http.StatusTooManyRequests)
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil)
	require.NoError(t, err)

	_, err = svc.EmbedQuery(t.Context(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestServiceDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil)
	require.NoError(t, err)

	_, err = svc.EmbedQuery(t.Context(), "hello")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestServiceDimensionMismatch(t *testing.T) {
	srv := newEmbedServer(t, []float32{1, 0}, nil, 0) // dimension 2, config wants 3
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil)
	require.NoError(t, err)

	_, err = svc.EmbedQuery(t.Context(), "hello")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestServiceEmptyInput(t *testing.T) {
	srv := newEmbedServer(t, []float32{1, 0, 0}, nil, 0)
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil)
	require.NoError(t, err)

	_, err = svc.EmbedQuery(t.Context(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = svc.EmbedDocuments(t.Context(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = svc.EmbedDocuments(t.Context(), []string{"ok", ""})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(Config{Model: "m", Dimension: 3}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewService(Config{BaseURL: "http://localhost", Model: "m"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
