package middleware

import (
	"errors"
	"net/http"
	"unicode/utf8"
)

// MaxContentLength bounds a single message body.
const MaxContentLength = 100_000

// MaxIDLength bounds client supplied ids.
const MaxIDLength = 128

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > MaxContentLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateID validates a client supplied id.
func ValidateID(id string) error {
	if len(id) > MaxIDLength {
		return errors.New("id exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return errors.New("id must be valid UTF-8")
	}
	return nil
}

// LimitBody caps request bodies at n bytes.
func LimitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
