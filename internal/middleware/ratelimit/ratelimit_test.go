package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinBudget(t *testing.T) {
	l := New(Config{MaxRequestsPerMinute: 3, WindowDuration: time.Minute})
	defer l.Stop()

	assert.True(t, l.allow("user-a"))
	assert.True(t, l.allow("user-a"))
	assert.True(t, l.allow("user-a"))
	assert.False(t, l.allow("user-a"))
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(Config{MaxRequestsPerMinute: 1, WindowDuration: time.Minute})
	defer l.Stop()

	assert.True(t, l.allow("user-a"))
	assert.False(t, l.allow("user-a"))
	assert.True(t, l.allow("user-b"))
}

func TestRefill(t *testing.T) {
	l := New(Config{MaxRequestsPerMinute: 60, WindowDuration: time.Minute})
	defer l.Stop()

	for i := 0; i < 60; i++ {
		assert.True(t, l.allow("user-a"))
	}
	assert.False(t, l.allow("user-a"))

	// One token refills per second at 60/min.
	time.Sleep(1100 * time.Millisecond)
	assert.True(t, l.allow("user-a"))
}
