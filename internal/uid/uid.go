// Package uid provides the monotonic, process-local identifier generator
// used to name sessions. Grounded on original_source/src/broker/util.rs's
// UidGen (an Arc<AtomicU64> counter starting at 1), generalized to an
// interface so tests can substitute a deterministic generator the way the
// teacher substitutes a fake clock/dialer in its own tests.
package uid

import (
	"strconv"
	"sync/atomic"
)

// UID is a 64-bit process-local identifier. It never wraps within a
// realistic process lifetime.
type UID uint64

// String renders the UID the way a session stringifies it to use as a
// Subscriber id.
func (u UID) String() string {
	return strconv.FormatUint(uint64(u), 10)
}

// Generator allocates UIDs.
type Generator interface {
	Next() UID
}

// Counter is the default Generator: an atomically-incremented counter
// seeded at 1, matching the original's UidGen.
type Counter struct {
	n atomic.Uint64
}

// NewCounter returns a Counter ready to allocate, starting at 1.
func NewCounter() *Counter {
	return &Counter{}
}

// Next returns the next UID. Safe for concurrent use, though spec §9 notes
// the broker is the only caller in practice (single-writer trie/registry).
func (c *Counter) Next() UID {
	return UID(c.n.Add(1))
}
