package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(attempts int) *Client {
	return NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
}

func TestSendSignsPayload(t *testing.T) {
	var (
		header http.Header
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := testClient(1).Send(context.Background(), srv.URL, EventWarmCompleted, map[string]any{"image": "photo.png"})
	require.NoError(t, err)

	assert.Equal(t, EventWarmCompleted, header.Get(HeaderEvent))
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.JSONEq(t, `{"image":"photo.png"}`, string(body))
	require.NotEmpty(t, header.Get(HeaderTimestamp))
	assert.NoError(t, Verify("test-secret", header.Get(HeaderTimestamp), body, header.Get(HeaderSignature)))
	assert.ErrorIs(t, Verify("other-secret", header.Get(HeaderTimestamp), body, header.Get(HeaderSignature)), ErrSignatureMismatch)
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, testClient(3).Send(context.Background(), srv.URL, EventWarmFailed, map[string]string{}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := testClient(5).Send(context.Background(), srv.URL, EventWarmFailed, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendWithoutEndpointIsNoop(t *testing.T) {
	require.NoError(t, testClient(1).Send(context.Background(), "  ", EventWarmCompleted, nil))
}
