package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{MaxRetries: 2, RetryBackoffMin: time.Millisecond, RetryBackoffMax: 2 * time.Millisecond, BreakerThreshold: 50}
}

func TestClient_RetriesServerErrorsWithFreshBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"token":"SOL"}`, string(body))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClientWithOptions(srv.URL, time.Second, BearerSigner{Token: "secret"}, fastOptions())

	var out struct {
		OK bool `json:"ok"`
	}
	err := c.PostJSON(context.Background(), "/orders", map[string]string{"token": "SOL"}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "SOL", r.URL.Query().Get("symbol"))
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("unknown market"))
	}))
	defer srv.Close()

	c := NewClientWithOptions(srv.URL, time.Second, nil, fastOptions())
	_, err := c.Get(context.Background(), "/markets", map[string]string{"symbol": "SOL"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "unknown market", string(apiErr.Body))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_ExhaustedRetriesReturnAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClientWithOptions(srv.URL, time.Second, nil, fastOptions())
	_, err := c.Get(context.Background(), "/price/SOL", nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestClientNameAndPathLabel(t *testing.T) {
	assert.Equal(t, "lunarcrush", clientName("lunarcrush", "https://lunarcrush.com/api4"))
	assert.Equal(t, "api.telegram.org", clientName("", "https://api.telegram.org"))
	assert.Equal(t, "http", clientName("", ""))

	c := NewClientWithOptions("https://api.telegram.org", time.Second, nil, Options{RedactPath: true})
	assert.Equal(t, "[redacted]", c.pathLabel("/botSECRET/sendMessage"))
	assert.Equal(t, "/v1/markets", NewClient("http://venue", time.Second, nil).pathLabel("/v1/markets"))
}
