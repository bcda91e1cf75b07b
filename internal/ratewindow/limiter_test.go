package ratewindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestAllow_PermitsUpToBurstThenDenies(t *testing.T) {
	l := NewLimiter(rate.Limit(1), 3)

	assert.True(t, l.Allow("state:write:x"))
	assert.True(t, l.Allow("state:write:x"))
	assert.True(t, l.Allow("state:write:x"))
	assert.False(t, l.Allow("state:write:x"), "fourth call within the same instant exceeds the burst")
}

func TestAllow_CategoriesAreIndependent(t *testing.T) {
	l := NewLimiter(rate.Limit(1), 1)

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "a separate category must have its own bucket")
}

func TestAllow_RefillsOverTime(t *testing.T) {
	l := NewLimiter(rate.Limit(100), 1)

	assert.True(t, l.Allow("x"))
	assert.False(t, l.Allow("x"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, l.Allow("x"), "bucket should have refilled after waiting past the rate interval")
}
