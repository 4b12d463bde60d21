// Copyright 2025 Certen Protocol
//
// Substate store: versioned Up/Down substate lifecycle, the append-only
// per-shard state_transitions log, substate locks, and a per-shard
// authenticated state tree.

package substate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	cmtmerkle "github.com/cometbft/cometbft/crypto/merkle"

	"github.com/certen-shard/validator-core/pkg/crypto/hash"
	"github.com/certen-shard/validator-core/pkg/merkle"
	"github.com/certen-shard/validator-core/pkg/types"
)

// SubstateRepository is the persistence surface for live substates and
// the append-only state_transitions log. Satisfied by
// *database.SubstateRepository; a fake in-memory implementation backs
// unit tests of the I1-I4 invariants.
type SubstateRepository interface {
	InsertUp(ctx context.Context, s *types.Substate, nextSeq uint64) error
	MarkDown(ctx context.Context, address types.Address, coords types.SubstateCoordinates, nextSeq uint64) error
	NextSeq(ctx context.Context, shard types.ShardGroup) (uint64, error)
	GetLiveVersion(ctx context.Context, id types.SubstateID) (*types.Substate, error)
	GetVersion(ctx context.Context, id types.SubstateID, version types.Version) (*types.Substate, error)
}

// LockRepository is the persistence surface for substate locks.
type LockRepository interface {
	Acquire(ctx context.Context, l *types.SubstateLock) error
	HeldOn(ctx context.Context, substateID types.SubstateID, version types.Version) ([]*types.SubstateLock, error)
	ReleaseForBlock(ctx context.Context, blockID types.BlockID) error
}

// encodeCommand deterministically encodes a command for its merkle
// leaf. JSON field order is fixed by the Command struct's tags, making
// this stable across nodes running the same binary.
func encodeCommand(c *types.Command) ([]byte, error) {
	return json.Marshal(c)
}

// ErrLockConflict is returned when two locks on the same (substate,
// version) are incompatible per the Read/Write/Output matrix.
var ErrLockConflict = errors.New("substate: lock conflict")

// ErrNotLive is returned when a Down references a substate that is
// already destroyed or never existed (I2).
var ErrNotLive = errors.New("substate: substate not live")

// PendingDiff accumulates Ups/Downs for one in-flight block, keyed by
// (block_id, shard), before being applied atomically on commit or
// discarded on prune.
type PendingDiff struct {
	BlockID types.BlockID
	Shard   types.ShardGroup
	Diff    types.SubstateDiff
}

// Store is the per-node substate store: live substates, the
// state-transition log, locks, and pending diffs awaiting commit.
type Store struct {
	mu sync.Mutex

	substates SubstateRepository
	locks     LockRepository

	pending map[types.BlockID]*PendingDiff
}

// NewStore constructs a Store over the given repositories.
func NewStore(substates SubstateRepository, locks LockRepository) *Store {
	return &Store{
		substates: substates,
		locks:     locks,
		pending:   make(map[types.BlockID]*PendingDiff),
	}
}

// AcquireLock takes a lock for (block, tx, substate, version), enforcing
// the Read/Write/Output compatibility matrix against every lock already
// held on that (substate, version) pair across all in-flight blocks.
func (s *Store) AcquireLock(ctx context.Context, l *types.SubstateLock) error {
	held, err := s.locks.HeldOn(ctx, l.SubstateID, l.Version)
	if err != nil {
		return fmt.Errorf("substate: check held locks: %w", err)
	}
	for _, h := range held {
		if h.BlockID == l.BlockID && h.TxID == l.TxID {
			continue
		}
		if !types.LocksCompatible(h.Lock, l.Lock) {
			return fmt.Errorf("%w: %s held by tx %s conflicts with requested %s", ErrLockConflict, h.Lock, h.TxID, l.Lock)
		}
	}
	return s.locks.Acquire(ctx, l)
}

// ReleaseBlockLocks drops every lock taken by block, on commit or prune
// (I4: purge discarded-proposal locks before the alternate chain's locks
// are admitted).
func (s *Store) ReleaseBlockLocks(ctx context.Context, blockID types.BlockID) error {
	return s.locks.ReleaseForBlock(ctx, blockID)
}

// StagePendingDiff buffers a block's substate diff at proposal time,
// without mutating the live substate set.
func (s *Store) StagePendingDiff(blockID types.BlockID, shard types.ShardGroup, diff types.SubstateDiff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[blockID] = &PendingDiff{BlockID: blockID, Shard: shard, Diff: diff}
}

// DiscardPendingDiff drops a block's staged diff without applying it
// (used when the block's proposal is discarded or pruned).
func (s *Store) DiscardPendingDiff(blockID types.BlockID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, blockID)
}

// ApplyCommittedDiff applies a committed block's staged diff atomically:
// every Up is inserted, every Down is marked destroyed, and one
// state_transitions record is appended per Up/Down in deterministic
// order (sorted by substate_id then version, Downs before Ups of the
// same id).
func (s *Store) ApplyCommittedDiff(ctx context.Context, blockID types.BlockID) error {
	s.mu.Lock()
	pd, ok := s.pending[blockID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("substate: no pending diff staged for block %s", blockID)
	}

	type entry struct {
		isDown bool
		up     *types.Substate
		down   *types.FilledInput
		coords types.SubstateCoordinates
	}
	var entries []entry
	for i := range pd.Diff.Downs {
		entries = append(entries, entry{isDown: true, down: &pd.Diff.Downs[i]})
	}
	for i := range pd.Diff.Ups {
		entries = append(entries, entry{isDown: false, up: &pd.Diff.Ups[i]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		idI, idJ := entryID(entries[i]), entryID(entries[j])
		if idI != idJ {
			return lessHash(idI, idJ)
		}
		return entryVersion(entries[i]) < entryVersion(entries[j])
	})

	for _, e := range entries {
		seq, err := s.substates.NextSeq(ctx, pd.Shard)
		if err != nil {
			return fmt.Errorf("substate: next seq: %w", err)
		}
		if e.isDown {
			live, err := s.substates.GetLiveVersion(ctx, e.down.SubstateID)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrNotLive, e.down.SubstateID)
			}
			if err := s.substates.MarkDown(ctx, live.Address, types.SubstateCoordinates{Shard: pd.Shard, Block: blockID}, seq); err != nil {
				return fmt.Errorf("substate: mark down: %w", err)
			}
		} else {
			e.up.StateHash = hash.SubstateAddress(e.up.SubstateID, e.up.Version)
			if err := s.substates.InsertUp(ctx, e.up, seq); err != nil {
				return fmt.Errorf("substate: insert up: %w", err)
			}
		}
	}

	s.mu.Lock()
	delete(s.pending, blockID)
	s.mu.Unlock()
	return nil
}

func entryID(e struct {
	isDown bool
	up     *types.Substate
	down   *types.FilledInput
	coords types.SubstateCoordinates
}) types.Hash32 {
	if e.isDown {
		return e.down.SubstateID
	}
	return e.up.SubstateID
}

func entryVersion(e struct {
	isDown bool
	up     *types.Substate
	down   *types.FilledInput
	coords types.SubstateCoordinates
}) types.Version {
	if e.isDown {
		return e.down.Version
	}
	return e.up.Version
}

func lessHash(a, b types.Hash32) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// StateMerkleRoot recomputes the per-shard authenticated state root over
// every currently live substate's (substate_id, state_hash) pair. Proposal
// validation compares this against the block header's declared root.
func (s *Store) StateMerkleRoot(ctx context.Context, shard types.ShardGroup, live []*types.Substate) (types.Hash32, error) {
	sort.Slice(live, func(i, j int) bool { return lessHash(live[i].SubstateID, live[j].SubstateID) })
	leaves := make([][]byte, len(live))
	for i, sub := range live {
		leaves[i] = hash.Keccak256(sub.SubstateID.Bytes(), sub.StateHash.Bytes()).Bytes()
	}
	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return types.ZeroHash32, fmt.Errorf("substate: build state tree: %w", err)
	}
	return types.HashFromBytes(tree.Root()), nil
}

// CommandMerkleRoot recomputes the command root over an ordered command
// set, already sorted by the caller. Commands never need an inclusion
// proof on their own (a block
// is accepted or rejected as a whole), so this uses CometBFT's one-shot
// RFC 6962-style root rather than pkg/merkle's proof-carrying tree.
func CommandMerkleRoot(commands []types.Command) (types.Hash32, error) {
	leaves := make([][]byte, len(commands))
	for i, c := range commands {
		encoded, err := encodeCommand(&c)
		if err != nil {
			return types.ZeroHash32, err
		}
		leaves[i] = hash.CommandMerkleLeaf(encoded).Bytes()
	}
	return types.HashFromBytes(cmtmerkle.HashFromByteSlices(leaves)), nil
}
