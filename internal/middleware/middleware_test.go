package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/canvas-chat/pkg/logger"
)

const secret = "test-secret"

func sign(t *testing.T, subject, key string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestAuth(t *testing.T) {
	h := Auth(secret)(echoUser())

	tests := []struct {
		name   string
		method string
		target string
		header string
		status int
		body   string
	}{
		{"missing header", http.MethodPost, "/conversation", "", http.StatusUnauthorized, ""},
		{"wrong scheme", http.MethodPost, "/conversation", "Basic abc", http.StatusUnauthorized, ""},
		{"bad signature", http.MethodPost, "/conversation", "Bearer " + sign(t, "u1", "other"), http.StatusUnauthorized, ""},
		{"no subject", http.MethodPost, "/conversation", "Bearer " + sign(t, "", secret), http.StatusUnauthorized, ""},
		{"valid", http.MethodPost, "/conversation", "Bearer " + sign(t, "u1", secret), http.StatusOK, "u1"},
		{"query token on get", http.MethodGet, "/conversation/events?access_token=" + sign(t, "u2", secret), "", http.StatusOK, "u2"},
		{"query token ignored on post", http.MethodPost, "/conversation?access_token=" + sign(t, "u2", secret), "", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
			} else {
				assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
			}
		})
	}
}

func TestLogging_KeepsFlusherAndCorrelationID(t *testing.T) {
	var flushable bool
	var correlation string
	fallback := logger.NewNop()
	var reqLog *logger.Logger
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
		correlation = GetCorrelationID(r.Context())
		reqLog = logger.FromContext(r.Context(), fallback)
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, flushable)
	assert.Equal(t, "abc", correlation)
	assert.Equal(t, "abc", rec.Header().Get("X-Correlation-ID"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, reqLog)
	assert.NotSame(t, fallback, reqLog)
}

func TestUserRateLimit(t *testing.T) {
	h := UserRateLimit(2, time.Minute)(echoUser())

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/history", nil)
		req = req.WithContext(WithUserID(req.Context(), user))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("a").Code)
	assert.Equal(t, http.StatusOK, do("a").Code)
	limited := do("a")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do("b").Code)
}

func TestValidation(t *testing.T) {
	assert.NoError(t, ValidateMessageContent("hello"))
	assert.Error(t, ValidateMessageContent(""))
	assert.Error(t, ValidateMessageContent(strings.Repeat("x", MaxContentLength+1)))
	assert.Error(t, ValidateMessageContent("\xff"))

	assert.NoError(t, ValidateID("0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b"))
	assert.Error(t, ValidateID(strings.Repeat("x", MaxIDLength+1)))
}

func TestLimitBody(t *testing.T) {
	h := LimitBody(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
