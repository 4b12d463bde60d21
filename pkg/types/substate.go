package types

import "time"

// SubstateRequirement is a transaction's declared input: a substate id with
// an optional version. An unset version is resolved against the live
// version at execution time.
type SubstateRequirement struct {
	SubstateID SubstateID `json:"substate_id"`
	Version    *Version   `json:"version,omitempty"`
}

// FilledInput is a SubstateRequirement after version resolution.
type FilledInput struct {
	SubstateID SubstateID `json:"substate_id"`
	Version    Version    `json:"version"`
}

// SubstateCoordinates records the transaction/block/epoch/shard context in
// which a substate version was created or destroyed.
type SubstateCoordinates struct {
	TxID   TxID       `json:"tx_id"`
	Block  BlockID    `json:"block_id"`
	Height Height     `json:"height"`
	Epoch  Epoch      `json:"epoch"`
	Shard  ShardGroup `json:"shard_group"`
}

// Substate is one versioned generation of an application-level value.
//
// Invariants (enforced by pkg/substate, never by this struct alone):
//   - at most one version of a given SubstateID is live (Destroyed == nil)
//   - version N+1 may exist only once version N is destroyed
//   - Address is unique across all versions ever created
type Substate struct {
	Address    Address    `json:"address"`
	SubstateID SubstateID `json:"substate_id"`
	Version    Version    `json:"version"`

	// Value is opaque application payload, present while the substate is live.
	Value     []byte `json:"value,omitempty"`
	StateHash Hash32 `json:"state_hash"`

	Created     SubstateCoordinates  `json:"created"`
	Destroyed   *SubstateCoordinates `json:"destroyed,omitempty"`
	DestroyedAt *time.Time           `json:"destroyed_at,omitempty"`
}

// IsLive reports whether the substate has not yet been destroyed.
func (s *Substate) IsLive() bool { return s.Destroyed == nil }

// LockType is the kind of reservation a shard group holds over a
// (substate_id, version) pair.
type LockType string

const (
	LockRead   LockType = "read"
	LockWrite  LockType = "write"
	LockOutput LockType = "output"
)

// locksCompatible implements the lock compatibility matrix:
//
//	holder \ requester | Read | Write | Output
//	Read                | OK   | no    | OK
//	Write               | no   | no    | no
//	Output              | OK   | no    | OK
func locksCompatible(holder, requester LockType) bool {
	if holder == LockWrite || requester == LockWrite {
		return false
	}
	return true
}

// LocksCompatible reports whether a lock of kind requester may be granted
// while a lock of kind holder is already held on the same (substate, version).
func LocksCompatible(holder, requester LockType) bool { return locksCompatible(holder, requester) }

// SubstateLock is an advisory reservation taken at proposal time and
// released on commit or prune.
type SubstateLock struct {
	BlockID     BlockID    `json:"block_id"`
	TxID        TxID       `json:"tx_id"`
	SubstateID  SubstateID `json:"substate_id"`
	Version     Version    `json:"version"`
	Lock        LockType   `json:"lock"`
	IsLocalOnly bool       `json:"is_local_only"`
}

// Transition is the kind of state-transition-log record.
type Transition string

const (
	TransitionUp   Transition = "UP"
	TransitionDown Transition = "DOWN"
)

// StateTransitionRecord is one append-only entry in a shard's
// state_transitions log. Seq is gap-free per shard.
type StateTransitionRecord struct {
	Epoch           Epoch      `json:"epoch"`
	Shard           ShardGroup `json:"shard"`
	Seq             uint64     `json:"seq"`
	SubstateAddress Address    `json:"substate_address"`
	SubstateID      SubstateID `json:"substate_id"`
	Version         Version    `json:"version"`
	Transition      Transition `json:"transition"`
	StateHash       Hash32     `json:"state_hash,omitempty"`
	StateVersion    uint64     `json:"state_version"`
}

// SubstateDiff is the write set a single transaction's commit produces:
// substates it creates (Ups) and the existing versions it consumes (Downs).
type SubstateDiff struct {
	Ups   []Substate    `json:"ups"`
	Downs []FilledInput `json:"downs"`
}
