// Package bloom implements the read-avoidance decorator: an Agent wrapper
// that skips backend round-trips for node ids provably never written,
// without ever risking a false negative.
package bloom

import (
	"sync"

	bloomfilter "github.com/bits-and-blooms/bloom/v3"

	"github.com/veldtgraph/veldt/internal/model"
)

// ExistenceFilter is a probabilistic set over NodeID. Membership tests
// never report absent for an id that was added, and report present for an
// absent id at roughly the configured false-positive rate. The filter is
// append-only for the life of the process and is never resized.
//
// ExistenceFilter is safe for concurrent Add and MightContain from any
// number of goroutines.
type ExistenceFilter struct {
	mu  sync.RWMutex
	set *bloomfilter.BloomFilter
}

// NewExistenceFilter sizes a filter for the expected number of distinct
// node ids at the target false-positive rate.
func NewExistenceFilter(expectedNodes uint, falsePositiveRate float64) *ExistenceFilter {
	return &ExistenceFilter{
		set: bloomfilter.NewWithEstimates(expectedNodes, falsePositiveRate),
	}
}

// Add records the id. There is no removal.
func (f *ExistenceFilter) Add(id model.NodeID) {
	f.mu.Lock()
	f.set.Add(id[:])
	f.mu.Unlock()
}

// MightContain reports whether the id may have been added. A false result
// is definitive; a true result may be a false positive.
func (f *ExistenceFilter) MightContain(id model.NodeID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.set.Test(id[:])
}

// ApproximateSize returns the approximate number of ids added so far.
func (f *ExistenceFilter) ApproximateSize() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.set.ApproximatedSize()
}
