package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(maxRetries int) *Dispatcher {
	logger := zerolog.Nop()
	cfg := &config.Config{Webhook: config.WebhookConfig{
		TimeoutMS:    1000,
		MaxRetries:   maxRetries,
		RetryDelayMS: 1,
	}}
	return NewDispatcher(cfg, &logger)
}

func TestDispatch_SuccessOnFirstAttempt(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		assert.Equal(t, "1", r.Header.Get("X-Attempt"))

		var got Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "DELIVERED", got.Status)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := newTestDispatcher(3)
	d.Dispatch(context.Background(), Event{NotificationID: uuid.New(), Status: "DELIVERED", OccurredAt: time.Now()}, server.URL)

	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
}

func TestDispatch_RetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := newTestDispatcher(5)
	d.Dispatch(context.Background(), Event{NotificationID: uuid.New(), Status: "FAILED"}, server.URL)

	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestDispatch_DoesNotRetryOn4xx(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	d := newTestDispatcher(5)
	d.Dispatch(context.Background(), Event{NotificationID: uuid.New(), Status: "FAILED"}, server.URL)

	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
}

func TestDispatch_GivesUpAfterMaxRetries(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := newTestDispatcher(3)
	d.Dispatch(context.Background(), Event{NotificationID: uuid.New(), Status: "FAILED"}, server.URL)

	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestDispatch_NoopWhenURLEmpty(t *testing.T) {
	d := newTestDispatcher(3)
	// Must not panic or block; there is no server to hit.
	d.Dispatch(context.Background(), Event{NotificationID: uuid.New(), Status: "DELIVERED"}, "")
}

func TestComputeBackoff_DoublesFromOneSecond(t *testing.T) {
	assert.Equal(t, 1*time.Second, computeBackoff(1))
	assert.Equal(t, 2*time.Second, computeBackoff(2))
	assert.Equal(t, 4*time.Second, computeBackoff(3))
}
