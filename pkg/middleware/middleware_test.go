package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newEngine(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/alerts", mw, func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func post(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/alerts", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyRejectsRepeatedKey(t *testing.T) {
	r := newEngine(Idempotency(IdempotencyConfig{TTL: time.Minute}))

	first := post(r, map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusOK, first.Code)

	second := post(r, map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusConflict, second.Code)

	other := post(r, map[string]string{"Idempotency-Key": "k2"})
	require.Equal(t, http.StatusOK, other.Code)
}

func TestIdempotencyPassesThroughWithoutKey(t *testing.T) {
	r := newEngine(Idempotency(IdempotencyConfig{TTL: time.Minute}))

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, post(r, nil).Code)
	}
}

func TestRateLimitThrottlesPerIP(t *testing.T) {
	r := newEngine(RateLimit(RateLimitConfig{Rate: "2-M"}))

	require.Equal(t, http.StatusOK, post(r, nil).Code)
	require.Equal(t, http.StatusOK, post(r, nil).Code)

	w := post(r, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimitSkipsTrustedCIDR(t *testing.T) {
	// httptest requests arrive from 192.0.2.1.
	r := newEngine(RateLimit(RateLimitConfig{Rate: "1-M", TrustedCIDRs: []string{"192.0.2.0/24"}}))

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, post(r, nil).Code)
	}
}
