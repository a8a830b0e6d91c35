// Package speed implements a sliding-window byte-rate estimator, the
// "Speedometer" of spec.md §4.5: each Update(n) records bytes transferred
// since the last sample, and Rate() reports an estimated bytes-per-second
// figure over the trailing window.
package speed

import (
	"sync"
	"time"

	underscore "github.com/ahl5esoft/golang-underscore"
)

// Window is the number of 1-second buckets averaged by Rate. spec.md §4.5
// calls a 5-second window acceptable.
const Window = 5

// Speedometer is safe for concurrent use.
type Speedometer struct {
	mu      sync.Mutex
	buckets [Window]int
	i       int
	current int
	rate    int
	last    time.Time
	now     func() time.Time
}

// New returns a Speedometer with its window primed for the current time.
func New() *Speedometer {
	return &Speedometer{now: time.Now, last: time.Now()}
}

// Update records n additional bytes transferred since the last Update or
// Rate call.
func (s *Speedometer) Update(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotate()
	s.current += n
}

// Rate returns the estimated bytes-per-second over the trailing window.
// Calling Rate also rotates the window forward, matching the teacher's
// stats.GetPeerStats, which both reports and advances the ring buffer.
func (s *Speedometer) Rate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotate()
	return s.rate
}

func sumReduce(acc int, x, _ int) int {
	return acc + x
}

// rotate advances the ring buffer by however many whole seconds have
// elapsed since the last call. Bytes seen during the second currently in
// progress accumulate in s.current; the buckets hold the last Window
// completed seconds. When a second elapses, s.current is written into the
// slot at s.i (the oldest) and each further idle second writes a zero.
func (s *Speedometer) rotate() {
	elapsed := int(s.now().Sub(s.last) / time.Second)
	if elapsed <= 0 {
		return
	}
	for step := 0; step < elapsed && step <= Window; step++ {
		s.buckets[s.i] = s.current
		s.current = 0
		s.i = (s.i + 1) % Window
	}
	s.last = s.last.Add(time.Duration(elapsed) * time.Second)

	sum := 0
	underscore.Chain(s.buckets[:]).Reduce(sumReduce, 0).Value(&sum)
	s.rate = sum / Window
}
