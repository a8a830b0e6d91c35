package speed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpeedometerZeroInitially(t *testing.T) {
	s := New()
	assert.Equal(t, 0, s.Rate())
}

func TestSpeedometerSteadyRate(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.now = func() time.Time { return now }
	s.last = now

	// simulate 5 seconds of 100 bytes/sec, one Update per second.
	for i := 0; i < Window; i++ {
		s.Update(100)
		now = now.Add(time.Second)
	}
	rate := s.Rate()
	assert.InDelta(t, 100, rate, 5, "rate should converge to ~100 B/s within 5%%")
}

func TestSpeedometerDecaysAfterIdle(t *testing.T) {
	s := New()
	now := time.Unix(0, 0)
	s.now = func() time.Time { return now }
	s.last = now

	for i := 0; i < Window; i++ {
		s.Update(1000)
		now = now.Add(time.Second)
	}
	warm := s.Rate()
	assert.Greater(t, warm, 0)

	// idle for a full window; the rate should decay to zero.
	now = now.Add(Window * time.Second)
	assert.Equal(t, 0, s.Rate())
}
