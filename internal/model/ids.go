// Package model defines the identity and event types shared by every
// persistence backend: node identifiers, event times, the two kinds of
// append-only node events, snapshots, and standing-query descriptors.
//
// All payloads are opaque byte slices. Encoding and decoding happen in the
// layers above; this package only gives the storage layer stable keys and
// a total order to sort by.
package model

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NodeID is the opaque fixed-size identifier of one graph node. It is the
// partition key for all node-scoped records. NodeIDs are totally ordered
// (bytewise) for enumeration but carry no numeric meaning.
type NodeID [16]byte

// NewNodeID returns a fresh random NodeID.
func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

// NodeIDFromBytes builds a NodeID from a raw 16-byte slice.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != len(id) {
		return id, fmt.Errorf("node id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ParseNodeID parses the hex form produced by String.
func ParseNodeID(s string) (NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("parse node id: %w", err)
	}
	return NodeIDFromBytes(b)
}

// Bytes returns the raw 16-byte representation.
func (id NodeID) Bytes() []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}

// String returns the lowercase hex form.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Compare orders two NodeIDs bytewise. It returns -1, 0 or 1.
func (id NodeID) Compare(other NodeID) int {
	return bytes.Compare(id[:], other[:])
}

// Less reports whether id sorts before other.
func (id NodeID) Less(other NodeID) bool {
	return id.Compare(other) < 0
}

// Namespace is the partition boundary served by one persistence agent.
// Cross-namespace operations do not exist at this layer.
type Namespace string

// DefaultNamespace is the namespace used when none is configured.
const DefaultNamespace Namespace = "default"

// String returns the namespace name.
func (n Namespace) String() string {
	return string(n)
}

// DgnID identifies a registered domain-graph-node index definition.
// Domain-index events carry the DgnID they belong to so that a retired
// definition can be purged in bulk.
type DgnID int64

// StandingQueryID identifies a registered standing query.
type StandingQueryID [16]byte

// NewStandingQueryID returns a fresh random StandingQueryID.
func NewStandingQueryID() StandingQueryID {
	return StandingQueryID(uuid.New())
}

// ParseStandingQueryID parses the canonical UUID form produced by String.
func ParseStandingQueryID(s string) (StandingQueryID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return StandingQueryID{}, fmt.Errorf("parse standing query id: %w", err)
	}
	return StandingQueryID(u), nil
}

// String returns the canonical UUID form.
func (id StandingQueryID) String() string {
	return uuid.UUID(id).String()
}
