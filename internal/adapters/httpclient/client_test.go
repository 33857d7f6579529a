package httpclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/adapters/httpclient"
)

func fastConfig() httpclient.Config {
	return httpclient.Config{Name: "test", MaxRetries: 2, BaseRetryWait: time.Millisecond, BreakerFailures: 2, BreakerOpenFor: time.Hour}
}

func TestGetJSON_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	var out struct{ OK bool }
	require.NoError(t, httpclient.New(fastConfig()).GetJSON(context.Background(), srv.URL, &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetJSON_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token id", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := httpclient.New(fastConfig())
	for range 3 {
		err := c.GetJSON(context.Background(), srv.URL, &struct{}{})
		var se *httpclient.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadRequest, se.Code)
		assert.Contains(t, se.Body, "bad token id")
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "closed", c.State(), "4xx does not trip the breaker")
}

func TestGetJSON_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := httpclient.New(fastConfig())
	for range 2 {
		assert.Error(t, c.GetJSON(context.Background(), srv.URL, &struct{}{}))
	}
	before := calls.Load()

	err := c.GetJSON(context.Background(), srv.URL, &struct{}{})
	assert.ErrorIs(t, err, httpclient.ErrCircuitOpen)
	assert.Equal(t, before, calls.Load(), "open breaker short-circuits")
	assert.Equal(t, "open", c.State())
}

func TestPostJSON_SendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	var out []int
	require.NoError(t, httpclient.New(fastConfig()).PostJSON(context.Background(), srv.URL, map[string]string{"a": "b"}, &out))
	assert.Equal(t, []int{1, 2, 3}, out)
}

func TestGetJSON_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := httpclient.New(fastConfig()).GetJSON(ctx, srv.URL, &struct{}{})
	assert.ErrorIs(t, err, context.Canceled)
}
