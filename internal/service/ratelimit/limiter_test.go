package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_PerKeyBuckets(t *testing.T) {
	l := New(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, l.AllowAt("BTC", now))
	assert.True(t, l.AllowAt("BTC", now))
	assert.False(t, l.AllowAt("BTC", now), "burst exhausted")
	assert.True(t, l.AllowAt("ETH", now), "keys are independent")

	assert.True(t, l.AllowAt("BTC", now.Add(time.Second)), "refilled after one second")
	assert.Equal(t, 2, l.Len())
}

func TestLimiter_Disabled(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("X"))
	}
	assert.Zero(t, l.Len())
}
