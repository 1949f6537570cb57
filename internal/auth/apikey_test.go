package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_trader/internal/mock"
)

func TestAPIKeyValidator_ValidateAPIKey(t *testing.T) {
	validator := NewAPIKeyValidator([]string{"valid-key-1", "valid-key-2", ""}, 100, mock.NewLogger())

	tests := []struct {
		name   string
		apiKey string
		want   bool
	}{
		{name: "valid key 1", apiKey: "valid-key-1", want: true},
		{name: "valid key 2", apiKey: "valid-key-2", want: true},
		{name: "invalid key", apiKey: "invalid-key", want: false},
		{name: "empty key", apiKey: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validator.ValidateAPIKey(tt.apiKey))
		})
	}
	assert.Equal(t, 2, validator.KeyCount())
}

func TestAPIKeyValidator_AddRemoveAPIKey(t *testing.T) {
	validator := NewAPIKeyValidator([]string{"initial-key"}, 100, mock.NewLogger())

	validator.AddAPIKey("rotated-key")
	assert.True(t, validator.ValidateAPIKey("rotated-key"))

	validator.RemoveAPIKey("initial-key")
	assert.False(t, validator.ValidateAPIKey("initial-key"))
	assert.True(t, validator.ValidateAPIKey("rotated-key"))
}

func TestAPIKeyValidator_RateLimitIsPerKey(t *testing.T) {
	validator := NewAPIKeyValidator([]string{"a", "b"}, 2, mock.NewLogger())

	assert.True(t, validator.CheckRateLimit("a"))
	assert.True(t, validator.CheckRateLimit("a"))
	assert.False(t, validator.CheckRateLimit("a"))
	assert.True(t, validator.CheckRateLimit("b"))
}

func TestMiddleware(t *testing.T) {
	validator := NewAPIKeyValidator([]string{"secret"}, 1, mock.NewLogger())

	var seenID string
	handler := validator.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(header, value string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/generate", nil)
		if header != "" {
			req.Header.Set(header, value)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, call("", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(HeaderAPIKey, "wrong").Code)

	rec := call("Authorization", "Bearer secret")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, seenID)
	assert.Equal(t, seenID, rec.Header().Get(HeaderRequestID))

	assert.Equal(t, http.StatusTooManyRequests, call(HeaderAPIKey, "secret").Code)
}
