package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventSubject(t *testing.T) {
	assert.Equal(t, "canvas.events.0190-abc", EventSubject("0190-abc"))
	assert.Equal(t, "canvas.events.a_b_c_", EventSubject("a.b*c>"))
}
