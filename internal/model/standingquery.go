package model

// StandingQuery describes one registered continuous query: its identity and
// its definition. The definition is an opaque payload; match evaluation
// happens upstream, only the descriptor is persisted here.
type StandingQuery struct {
	ID         StandingQueryID
	Name       string
	Definition []byte
}

// StandingQueryPartKey addresses the persisted intermediate state of one
// fragment of one standing query. Together with a NodeID it forms the full
// storage key (QueryID, PartID, NodeID).
type StandingQueryPartKey struct {
	QueryID StandingQueryID
	PartID  string
}
