package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockNeverGoesBackwards(t *testing.T) {
	base := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.FixedZone("x", 3600))
	readings := []time.Time{base, base.Add(-time.Minute), base.Add(time.Minute)}
	var i int
	clock := NewClock(func() time.Time {
		r := readings[i]
		i++
		return r
	})

	first := clock.Next()
	second := clock.Next()
	third := clock.Next()

	assert.Equal(t, time.UTC, first.Location())
	assert.Equal(t, first, second)
	assert.True(t, third.After(second))
}
