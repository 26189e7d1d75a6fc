package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-desk/internal/api/dto"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

func TestRateLimiterPerKey(t *testing.T) {
	l := NewRateLimiter(1, 2)
	defer l.Shutdown()
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"), "one token refills per second")
}

func TestRateLimiterEvictsIdleBuckets(t *testing.T) {
	l := NewRateLimiter(1, 1)
	defer l.Shutdown()
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }

	l.Allow("a")
	now = now.Add(limiterIdleTTL / 2)
	l.Allow("b")
	require.Equal(t, 2, l.size())

	now = now.Add(limiterIdleTTL/2 + time.Second)
	l.evictIdle()
	assert.Equal(t, 1, l.size())
}

func TestRateLimiterDisabled(t *testing.T) {
	l := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("a"))
	}
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1)
	defer limiter.Shutdown()
	h := newHarness(t, limiter)

	// register consumes the client IP's only token
	token := h.signUp(t, "Dana", "dana@example.com")

	resp, _ := h.json(t, http.MethodPost, "/api/v1/tickets", token, dto.CreateTicketRequest{Subject: "one", Message: "first"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, env := h.json(t, http.MethodPost, "/api/v1/tickets", token, dto.CreateTicketRequest{Subject: "two", Message: "second"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, apperrors.CodeRateLimited, env.Error.Code)

	resp, _ = h.json(t, http.MethodGet, "/api/v1/tickets", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "reads are not limited")
}
