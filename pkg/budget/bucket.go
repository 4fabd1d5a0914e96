// Package budget provides per-traffic-class admission control. Each class
// holds an independent per-minute token bucket; exhausting one class never
// blocks another.
package budget

import (
	"sync"
	"time"

	"github.com/zen-systems/routegate/pkg/task"
)

type bucket struct {
	capacity     int
	remaining    int
	windowMinute int64
}

// Level is a point-in-time snapshot of one bucket.
type Level struct {
	Remaining int `json:"remaining"`
	Capacity  int `json:"capacity"`
}

// Limiter tracks the admission buckets for all traffic classes.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[task.TrafficClass]*bucket
	now     func() time.Time
}

// New creates a limiter with the given per-class capacities. Classes missing
// from the map get a zero-capacity bucket and always deny.
func New(capacities map[task.TrafficClass]int) *Limiter {
	return NewWithClock(capacities, time.Now)
}

// NewWithClock creates a limiter with an injectable clock.
func NewWithClock(capacities map[task.TrafficClass]int, now func() time.Time) *Limiter {
	l := &Limiter{buckets: make(map[task.TrafficClass]*bucket), now: now}
	for _, class := range task.Classes() {
		cap := capacities[class]
		l.buckets[class] = &bucket{
			capacity:     cap,
			remaining:    cap,
			windowMinute: now().Unix() / 60,
		}
	}
	return l
}

// refillLocked resets the bucket to capacity on the first observation in a
// new minute. Refill is lazy; there is no background timer.
func (b *bucket) refillLocked(minute int64) {
	if minute != b.windowMinute {
		b.remaining = b.capacity
		b.windowMinute = minute
	}
}

// TryConsume takes one token from the class's bucket. It returns false when
// the bucket is empty for the current minute.
func (l *Limiter) TryConsume(class task.TrafficClass) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[class]
	if !ok {
		return false
	}
	b.refillLocked(l.now().Unix() / 60)
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// Remaining reports the class's current level without consuming a token.
func (l *Limiter) Remaining(class task.TrafficClass) Level {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[class]
	if !ok {
		return Level{}
	}
	b.refillLocked(l.now().Unix() / 60)
	return Level{Remaining: b.remaining, Capacity: b.capacity}
}

// Levels snapshots every bucket, keyed by traffic class.
func (l *Limiter) Levels() map[task.TrafficClass]Level {
	out := make(map[task.TrafficClass]Level, len(l.buckets))
	for _, class := range task.Classes() {
		out[class] = l.Remaining(class)
	}
	return out
}
