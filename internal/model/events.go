package model

import "math"

// EventTime is the totally ordered version timestamp attached to node
// events and snapshots. It is monotonic within one node. Range queries over
// EventTime use closed intervals on both ends.
type EventTime int64

const (
	// MinEventTime is the smallest representable EventTime.
	MinEventTime EventTime = math.MinInt64

	// MaxEventTime is the largest representable EventTime.
	MaxEventTime EventTime = math.MaxInt64
)

// Before reports whether t is strictly earlier than other.
func (t EventTime) Before(other EventTime) bool {
	return t < other
}

// After reports whether t is strictly later than other.
func (t EventTime) After(other EventTime) bool {
	return t > other
}

// In reports whether t falls within the closed interval [startingAt, endingAt].
func (t EventTime) In(startingAt, endingAt EventTime) bool {
	return t >= startingAt && t <= endingAt
}

// NodeChangeEvent is one structural mutation of a node (property set or
// unset, edge added or removed), stored with the EventTime it happened at.
// The payload encoding belongs to the caller.
type NodeChangeEvent struct {
	At   EventTime
	Data []byte
}

// DomainIndexEvent is one bookkeeping record for a registered
// domain-graph-node index, stored with the EventTime it happened at. The
// DgnID lets a retired index definition be purged across all nodes.
type DomainIndexEvent struct {
	At    EventTime
	DgnID DgnID
	Data  []byte
}

// Snapshot is the full materialized state of a node at one EventTime,
// opaque to the storage layer. For a given node, at most one snapshot is
// ever the answer to "latest snapshot at or before T".
type Snapshot struct {
	At   EventTime
	Data []byte
}
