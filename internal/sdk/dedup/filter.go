package dedup

import "time"

// AssignmentCapacity and ExposureCapacity mirror the reference client's
// default in-memory cache sizes for each event kind.
const (
	AssignmentCapacity = 65536
	ExposureCapacity   = 65536
)

// Filter decides whether a canonicalized event key should be tracked
// (emitted) or suppressed as a duplicate, per AssignmentFilter/
// ExposureFilter.should_track. EmptyResultsShortCircuit, when true, makes
// ShouldTrack always return false for an event with zero result flags
// without ever touching the cache — the rule both assignment and exposure
// tracking in this SDK adopt (the canonical Python client applies it to
// exposure only; generalizing it keeps assignment tracking from leaking an
// empty, uninformative event into the cache as a side effect of a no-op
// evaluation).
type Filter struct {
	cache                    *Cache
	EmptyResultsShortCircuit bool
}

// NewFilter constructs a Filter backed by a cache of the given capacity/TTL.
func NewFilter(capacity int, ttl time.Duration) *Filter {
	return &Filter{cache: New(capacity, ttl)}
}

// ShouldTrack reports whether an event keyed by canonicalKey, covering
// resultCount result flags, should be emitted. A true result also records
// the key as seen.
func (f *Filter) ShouldTrack(canonicalKey string, resultCount int) bool {
	if f.EmptyResultsShortCircuit && resultCount == 0 {
		return false
	}
	if f.cache.Contains(canonicalKey) {
		return false
	}
	f.cache.Add(canonicalKey)
	return true
}
