package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Transport is an http.RoundTripper for provider SDK clients. It feeds the
// provider's rate-limit headers into the gate and turns a retry-after
// response into a *RateLimitedError for the in-flight call.
type Transport struct {
	Gate *Gate
	Base http.RoundTripper
}

// NewHTTPClient returns an http.Client whose transport observes gate.
func NewHTTPClient(gate *Gate, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &Transport{Gate: gate, Base: http.DefaultTransport},
		Timeout:   timeout,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if wait, blocked := t.Gate.Blocked(); blocked {
		return nil, &RateLimitedError{Wait: ceilSeconds(wait)}
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := t.Gate.Observe(ParseSignal(resp, time.Now())); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp, nil
}

// ParseSignal extracts rate-limit metadata from a provider response. Both
// OpenAI (x-ratelimit-*) and Anthropic (anthropic-ratelimit-*) headers are
// understood. Retry-After only counts on 429 and 503 responses.
func ParseSignal(resp *http.Response, now time.Time) Signal {
	var sig Signal
	h := resp.Header

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		sig.RetryAfter = parseRetryAfter(h.Get("Retry-After"), now)
		if sig.RetryAfter == 0 && resp.StatusCode == http.StatusTooManyRequests {
			sig.RetryAfter = time.Second
		}
	}

	for _, key := range []string{"x-ratelimit-remaining-requests", "anthropic-ratelimit-requests-remaining"} {
		if v := h.Get(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				sig.Remaining = &n
				break
			}
		}
	}

	if v := h.Get("x-ratelimit-reset-requests"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && d > 0 {
			sig.Reset = d
		}
	} else if v := h.Get("anthropic-ratelimit-requests-reset"); v != "" {
		if at, err := time.Parse(time.RFC3339, strings.TrimSpace(v)); err == nil && at.After(now) {
			sig.Reset = at.Sub(now)
		}
	}

	return sig
}

// maxRetryAfter caps absurd provider hints.
const maxRetryAfter = 24 * time.Hour

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		if secs > int(maxRetryAfter/time.Second) {
			return maxRetryAfter
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return min(at.Sub(now), maxRetryAfter)
	}
	return 0
}
