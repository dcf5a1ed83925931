// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

// Package cache provides the in-process counting structures used by the
// auth-tier rate limiter.
package cache

import (
	"sync"
	"time"
)

// SlidingWindowCounter is a memory-efficient sliding window counter. Time is
// divided into buckets; the window count is the sum over all buckets, so the
// count decays bucket by bucket instead of dropping to zero at a hard
// boundary.
//
// Complexity:
//   - Increment: O(1)
//   - Count: O(k) where k = number of buckets (typically 10-60)
//   - Memory: O(k) per counter
type SlidingWindowCounter struct {
	mu         sync.Mutex
	buckets    []int64       // circular buffer of bucket counts
	bucketSize time.Duration // duration of each bucket
	windowSize time.Duration // total window duration
	numBuckets int
	current    int       // current bucket index
	lastUpdate time.Time // last advance time
	now        func() time.Time
}

// NewSlidingWindowCounter creates a counter whose window is divided into
// numBuckets buckets.
//
// Example: NewSlidingWindowCounter(15*time.Minute, 15) tracks failed login
// attempts over 15 minutes in one-minute buckets.
func NewSlidingWindowCounter(windowSize time.Duration, numBuckets int) *SlidingWindowCounter {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if windowSize <= 0 {
		windowSize = 5 * time.Minute
	}

	c := &SlidingWindowCounter{
		buckets:    make([]int64, numBuckets),
		bucketSize: windowSize / time.Duration(numBuckets),
		windowSize: windowSize,
		numBuckets: numBuckets,
		now:        time.Now,
	}
	c.lastUpdate = c.now()
	return c
}

// Increment adds delta to the current bucket.
func (sw *SlidingWindowCounter) Increment(delta int64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.advance()
	sw.buckets[sw.current] += delta
}

// Count returns the sum of all buckets in the window.
func (sw *SlidingWindowCounter) Count() int64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.advance()

	var total int64
	for _, count := range sw.buckets {
		total += count
	}
	return total
}

// Reset clears all buckets.
func (sw *SlidingWindowCounter) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	for i := range sw.buckets {
		sw.buckets[i] = 0
	}
	sw.current = 0
	sw.lastUpdate = sw.now()
}

// setClock replaces the time source. Test hook.
func (sw *SlidingWindowCounter) setClock(now func() time.Time) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.now = now
	sw.lastUpdate = now()
}

// advance moves the window forward based on elapsed time.
// Must be called with the lock held.
func (sw *SlidingWindowCounter) advance() {
	now := sw.now()
	bucketsElapsed := int(now.Sub(sw.lastUpdate) / sw.bucketSize)
	if bucketsElapsed <= 0 {
		return
	}

	if bucketsElapsed >= sw.numBuckets {
		// Entire window has elapsed
		for i := range sw.buckets {
			sw.buckets[i] = 0
		}
		sw.current = 0
	} else {
		for i := 0; i < bucketsElapsed; i++ {
			sw.current = (sw.current + 1) % sw.numBuckets
			sw.buckets[sw.current] = 0
		}
	}

	sw.lastUpdate = now
}

// SlidingWindowStore manages sliding window counters keyed by client
// address. Counters are created lazily on first increment and evicted when
// the key set grows past maxKeys, so one scanning client cannot exhaust
// memory.
type SlidingWindowStore struct {
	mu         sync.RWMutex
	counters   map[string]*SlidingWindowCounter
	windowSize time.Duration
	numBuckets int
	maxKeys    int // 0 = unlimited
}

// NewSlidingWindowStore creates a store for per-key sliding window counters.
func NewSlidingWindowStore(windowSize time.Duration, numBuckets, maxKeys int) *SlidingWindowStore {
	return &SlidingWindowStore{
		counters:   make(map[string]*SlidingWindowCounter),
		windowSize: windowSize,
		numBuckets: numBuckets,
		maxKeys:    maxKeys,
	}
}

// Increment adds 1 to the counter for the given key.
func (s *SlidingWindowStore) Increment(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, exists := s.counters[key]
	if !exists {
		if s.maxKeys > 0 && len(s.counters) >= s.maxKeys {
			s.evictOne()
		}
		counter = NewSlidingWindowCounter(s.windowSize, s.numBuckets)
		s.counters[key] = counter
	}

	counter.Increment(1)
}

// Count returns the count for the given key within the window.
func (s *SlidingWindowStore) Count(key string) int64 {
	s.mu.RLock()
	counter, exists := s.counters[key]
	s.mu.RUnlock()

	if !exists {
		return 0
	}
	return counter.Count()
}

// Remove removes the counter for the given key.
func (s *SlidingWindowStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
}

// Len returns the number of tracked keys.
func (s *SlidingWindowStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.counters)
}

// CleanupInactive removes counters whose windows have fully drained.
// Returns the number of counters removed. Intended for a periodic sweep.
func (s *SlidingWindowStore) CleanupInactive() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, counter := range s.counters {
		if counter.Count() == 0 {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

// evictOne removes an arbitrary counter when at capacity.
// Must be called with the lock held.
func (s *SlidingWindowStore) evictOne() {
	for key := range s.counters {
		delete(s.counters, key)
		return
	}
}
