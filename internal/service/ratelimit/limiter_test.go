package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowRefills(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithClock(func() time.Time { return now })

	assert.True(t, l.Allow("BTC", 2, 1))
	assert.True(t, l.Allow("BTC", 2, 1))
	assert.False(t, l.Allow("BTC", 2, 1))
	assert.True(t, l.Allow("ETH", 2, 1), "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("BTC", 2, 1))
	assert.False(t, l.Allow("BTC", 2, 1))
}

func TestAllowEvery(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithClock(func() time.Time { return now })

	assert.True(t, l.AllowEvery("alarm:BTC", 15*time.Minute))
	now = now.Add(5 * time.Minute)
	assert.False(t, l.AllowEvery("alarm:BTC", 15*time.Minute))
	now = now.Add(11 * time.Minute)
	assert.True(t, l.AllowEvery("alarm:BTC", 15*time.Minute))

	assert.False(t, l.AllowEvery("alarm:BTC", 15*time.Minute))
	l.Reset("alarm:BTC")
	assert.True(t, l.AllowEvery("alarm:BTC", 15*time.Minute))
}
