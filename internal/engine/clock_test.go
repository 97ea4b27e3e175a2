package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTapeClock_AdvanceNeverRewinds(t *testing.T) {
	c := NewTapeClock()
	assert.True(t, c.Now().IsZero())

	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c.Advance(t1)
	assert.True(t, c.Now().Equal(t1))

	// An out-of-order stamp cannot move time backwards.
	c.Advance(t1.Add(-time.Second))
	assert.True(t, c.Now().Equal(t1))

	t2 := t1.Add(time.Minute)
	c.Advance(t2)
	assert.True(t, c.Now().Equal(t2))
}
