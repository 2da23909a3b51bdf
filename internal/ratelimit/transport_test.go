package ratelimit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignal(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		status     int
		headers    map[string]string
		retryAfter time.Duration
		remaining  *int
		reset      time.Duration
	}{
		{
			name:   "openai soft headers",
			status: http.StatusOK,
			headers: map[string]string{
				"x-ratelimit-remaining-requests": "42",
				"x-ratelimit-reset-requests":     "6m0s",
			},
			remaining: intPtr(42),
			reset:     6 * time.Minute,
		},
		{
			name:   "anthropic soft headers",
			status: http.StatusOK,
			headers: map[string]string{
				"anthropic-ratelimit-requests-remaining": "3",
				"anthropic-ratelimit-requests-reset":     now.Add(20 * time.Second).Format(time.RFC3339),
			},
			remaining: intPtr(3),
			reset:     20 * time.Second,
		},
		{
			name:       "retry-after seconds on 429",
			status:     http.StatusTooManyRequests,
			headers:    map[string]string{"Retry-After": "7"},
			retryAfter: 7 * time.Second,
		},
		{
			name:       "retry-after http date on 503",
			status:     http.StatusServiceUnavailable,
			headers:    map[string]string{"Retry-After": now.Add(90 * time.Second).Format(http.TimeFormat)},
			retryAfter: 90 * time.Second,
		},
		{
			name:       "429 without header backs off one second",
			status:     http.StatusTooManyRequests,
			retryAfter: time.Second,
		},
		{
			name:       "non-numeric retry-after falls back to one second",
			status:     http.StatusTooManyRequests,
			headers:    map[string]string{"Retry-After": "inf"},
			retryAfter: time.Second,
		},
		{
			name:       "NaN retry-after falls back to one second",
			status:     http.StatusTooManyRequests,
			headers:    map[string]string{"Retry-After": "NaN"},
			retryAfter: time.Second,
		},
		{
			name:       "huge retry-after is capped",
			status:     http.StatusTooManyRequests,
			headers:    map[string]string{"Retry-After": "99999999999999999"},
			retryAfter: maxRetryAfter,
		},
		{
			name:    "retry-after ignored on success",
			status:  http.StatusOK,
			headers: map[string]string{"Retry-After": "7"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
			for k, v := range tt.headers {
				resp.Header.Set(k, v)
			}

			sig := ParseSignal(resp, now)
			assert.Equal(t, tt.retryAfter, sig.RetryAfter)
			assert.Equal(t, tt.remaining, sig.Remaining)
			assert.Equal(t, tt.reset, sig.Reset)
		})
	}
}

func TestTransport_RetryAfterFailsInFlightCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	gate := NewGate(10, time.Minute)
	require.NoError(t, gate.Authorize())

	client := NewHTTPClient(gate, 5*time.Second)
	_, err := client.Get(srv.URL)

	var rl *RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 30, rl.Wait)

	_, blocked := gate.Blocked()
	assert.True(t, blocked)
	requireRateLimited(t, gate.Authorize())
}

func TestTransport_BlockedGateShortCircuits(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gate := NewGate(10, time.Minute)
	requireRateLimited(t, gate.Observe(Signal{RetryAfter: time.Minute}))

	client := NewHTTPClient(gate, 5*time.Second)
	_, err := client.Get(srv.URL)

	requireRateLimited(t, err)
	assert.Zero(t, hits)
}

func TestTransport_SoftHeadersPassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-remaining-requests", "2")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gate := NewGate(10, time.Minute)
	client := NewHTTPClient(gate, 5*time.Second)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, gate.Snapshot().Tokens)
}

func intPtr(n int) *int { return &n }
