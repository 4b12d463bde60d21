// Copyright 2025 Certen Protocol
//
// Block store: the block DAG keyed by block_id, fork/commit tracking,
// the three-chain commit rule, pruning, and validator epoch stats.

package blockstore

import (
	"context"
	"fmt"

	"github.com/certen-shard/validator-core/pkg/ledger"
	"github.com/certen-shard/validator-core/pkg/metrics"
	"github.com/certen-shard/validator-core/pkg/pool"
	"github.com/certen-shard/validator-core/pkg/substate"
	"github.com/certen-shard/validator-core/pkg/types"
)

// Repository is the persistence surface Store needs for the block DAG.
// Satisfied by *database.BlockRepository in production and an
// in-memory fake for unit tests of the three-chain commit rule.
type Repository interface {
	InsertBlock(ctx context.Context, b *types.Block) error
	GetBlock(ctx context.Context, id types.BlockID) (*types.Block, error)
	ChildrenOf(ctx context.Context, parent types.BlockID) ([]*types.Block, error)
	SetJustified(ctx context.Context, id types.BlockID, qc *types.QuorumCertificate) error
	SetCommitted(ctx context.Context, id types.BlockID) error
	DeletePruned(ctx context.Context, b *types.Block, reason string) error
}

// Singletons is the persistence surface Store needs for the epoch and
// eviction bookkeeping that only ever happens inside the commit path.
// Satisfied by *database.SingletonRepository in production and an
// in-memory fake in unit tests.
type Singletons interface {
	PutEpochCheckpoint(ctx context.Context, c *types.EpochCheckpoint) error
	EpochEnded(ctx context.Context, epoch types.Epoch) (bool, error)
	RecordEviction(ctx context.Context, epoch types.Epoch, pubKey types.PublicKey, reason string) error
}

// Store is the block DAG and its fork/commit bookkeeping.
type Store struct {
	blocks     Repository
	ledger     *ledger.Store
	substate   *substate.Store
	pool       *pool.Pool
	singletons Singletons
	metrics    *metrics.Metrics

	epochStats map[statsKey]*types.ValidatorEpochStats
}

type statsKey struct {
	Epoch     types.Epoch
	PublicKey types.PublicKey
}

// New constructs a Store over the given repositories. p receives every
// transactional command a committed block carries, driving the pool's
// stage transitions; singletons records the commit-path effects of
// EndEpoch and EvictNode.
func New(blocks Repository, l *ledger.Store, st *substate.Store, p *pool.Pool, singletons Singletons, m *metrics.Metrics) *Store {
	return &Store{
		blocks:     blocks,
		ledger:     l,
		substate:   st,
		pool:       p,
		singletons: singletons,
		metrics:    m,
		epochStats: make(map[statsKey]*types.ValidatorEpochStats),
	}
}

// InsertProposal persists a block whose admission rules have already
// been checked by the consensus engine, and updates the
// parent/child index implicitly via the repository's parent_id column.
func (s *Store) InsertProposal(ctx context.Context, b *types.Block) error {
	if err := s.blocks.InsertBlock(ctx, b); err != nil {
		return fmt.Errorf("blockstore: insert proposal: %w", err)
	}
	return nil
}

// Justify marks the block referenced by qc as justified and advances
// HighQC if qc has a higher (epoch, height).
func (s *Store) Justify(ctx context.Context, qc *types.QuorumCertificate) error {
	if err := s.blocks.SetJustified(ctx, qc.HeaderHash, qc); err != nil {
		return fmt.Errorf("blockstore: justify: %w", err)
	}

	high, err := s.ledger.GetHighQC(qc.Epoch)
	if err != nil && err != ledger.ErrNotFound {
		return fmt.Errorf("blockstore: load high qc: %w", err)
	}
	if high == nil || qc.Epoch > high.Epoch || (qc.Epoch == high.Epoch && qc.Height > high.Height) {
		if err := s.ledger.SetHighQC(qc.Epoch, qc); err != nil {
			return fmt.Errorf("blockstore: set high qc: %w", err)
		}
		s.metrics.QuorumCertsFormed.Inc()
	}
	return nil
}

// AdvanceLock applies the locking rule: when qc has a higher
// height than LockedBlock and its target block has an accepted child in
// the observed chain, LockedBlock advances to that target.
func (s *Store) AdvanceLock(ctx context.Context, qc *types.QuorumCertificate, hasAcceptedChild bool) error {
	locked, err := s.ledger.GetLockedBlock(qc.Epoch)
	if err != nil && err != ledger.ErrNotFound {
		return fmt.Errorf("blockstore: load locked block: %w", err)
	}
	if locked != nil && qc.Height <= locked.Height {
		return nil
	}
	if !hasAcceptedChild {
		return nil
	}
	return s.ledger.SetLockedBlock(qc.Epoch, &types.BlockRef{BlockID: qc.HeaderHash, Height: qc.Height, Epoch: qc.Epoch})
}

// TryCommit implements the three-chain commit rule: given b <- b' <- b''
// with qc'' justifying b' and qc' justifying b and strictly increasing
// heights, commit b (and all its uncommitted ancestors).
func (s *Store) TryCommit(ctx context.Context, b, bPrime, bDoublePrime *types.Block) error {
	if bDoublePrime.Justify == nil || bPrime.Justify == nil {
		return fmt.Errorf("blockstore: commit chain missing justify qc")
	}
	if bDoublePrime.Justify.HeaderHash != bPrime.BlockID {
		return fmt.Errorf("blockstore: commit chain broken: b'' does not justify b'")
	}
	if bPrime.Justify.HeaderHash != b.BlockID {
		return fmt.Errorf("blockstore: commit chain broken: b' does not justify b")
	}
	if !(b.Header.Height < bPrime.Header.Height && bPrime.Header.Height < bDoublePrime.Header.Height) {
		return fmt.Errorf("blockstore: commit chain heights not strictly increasing")
	}

	return s.commitCascade(ctx, b)
}

func (s *Store) commitCascade(ctx context.Context, b *types.Block) error {
	if b.IsCommitted {
		return nil
	}
	if !b.Header.ParentID.IsZero() {
		parent, err := s.blocks.GetBlock(ctx, b.Header.ParentID)
		if err == nil && !parent.IsCommitted {
			if err := s.commitCascade(ctx, parent); err != nil {
				return err
			}
		}
	}

	if err := s.substate.ApplyCommittedDiff(ctx, b.BlockID); err != nil {
		return fmt.Errorf("blockstore: apply substate diff for block %s: %w", b.BlockID, err)
	}
	if err := s.substate.ReleaseBlockLocks(ctx, b.BlockID); err != nil {
		return fmt.Errorf("blockstore: release locks on commit: %w", err)
	}
	if err := s.dispatchCommands(ctx, b); err != nil {
		return fmt.Errorf("blockstore: dispatch commands for block %s: %w", b.BlockID, err)
	}
	if err := s.blocks.SetCommitted(ctx, b.BlockID); err != nil {
		return fmt.Errorf("blockstore: set committed: %w", err)
	}
	if err := s.ledger.SetLastExecuted(b.Header.Epoch, &ledger.LastExecuted{
		Epoch: b.Header.Epoch, BlockID: b.BlockID, Height: b.Header.Height,
	}); err != nil {
		return fmt.Errorf("blockstore: set last executed: %w", err)
	}

	s.creditProposer(b)
	s.metrics.BlocksCommitted.Inc()
	return nil
}

// dispatchCommands drives every command a committed block carries to its
// effect: transactional atoms advance the pool's stage DAG, and the
// non-transactional maintenance atoms (EndEpoch, EvictNode,
// MintConfidentialOutput) mutate the out-of-band state the spec assigns
// them. ForeignProposal atoms carry no additional commit-time effect
// here -- their evidence is folded into the pool when the cross-shard
// coordinator first ingests the foreign block, not when this shard's own
// chain later commits a reference to it.
func (s *Store) dispatchCommands(ctx context.Context, b *types.Block) error {
	expectedGroups := []types.ShardGroup{b.Header.ShardGroup}
	for i := range b.Commands {
		cmd := &b.Commands[i]
		switch {
		case cmd.Kind.IsTransactionAtom():
			if err := s.pool.ApplyCommittedCommand(ctx, cmd, expectedGroups); err != nil {
				return fmt.Errorf("apply committed command %s for tx %s: %w", cmd.Kind, cmd.TxIDOrZero(), err)
			}
		case cmd.Kind == types.CommandEndEpoch:
			if err := s.applyEndEpoch(ctx, b); err != nil {
				return err
			}
		case cmd.Kind == types.CommandEvictNode:
			if err := s.singletons.RecordEviction(ctx, b.Header.Epoch, cmd.EvictPublicKey, "missed_proposals_capped_threshold"); err != nil {
				return fmt.Errorf("record eviction: %w", err)
			}
			s.metrics.NodesEvicted.Inc()
		case cmd.Kind == types.CommandMintConfidentialOutput:
			// The minted output itself lands in the substate diff as an
			// Up, applied above; this only accounts for the atom.
			s.metrics.ConfidentialOutputsMinted.Inc()
		}
	}
	return nil
}

// applyEndEpoch writes the epoch_checkpoint record that closes out
// b.Header.Epoch: the commit-block hash, the in-flight QC justifying it,
// and this shard's state root at commit.
func (s *Store) applyEndEpoch(ctx context.Context, b *types.Block) error {
	checkpoint := &types.EpochCheckpoint{
		Epoch:       b.Header.Epoch,
		CommitBlock: b.BlockID,
		ShardRoots:  map[types.ShardGroup]types.Hash32{b.Header.ShardGroup: b.Header.StateMerkleRoot},
	}
	if b.Justify != nil {
		checkpoint.QCs = []types.QuorumCertificate{*b.Justify}
	}
	if err := s.singletons.PutEpochCheckpoint(ctx, checkpoint); err != nil {
		return fmt.Errorf("put epoch checkpoint: %w", err)
	}
	s.metrics.EpochsEnded.Inc()
	return nil
}

// HasEnded reports whether epoch already has a checkpoint recorded,
// i.e. whether a later proposal still naming epoch must be rejected.
func (s *Store) HasEnded(ctx context.Context, epoch types.Epoch) (bool, error) {
	return s.singletons.EpochEnded(ctx, epoch)
}

// creditProposer implements the leader-fee bookkeeping: a committed
// block credits its proposer's epoch-stats participation_shares.
func (s *Store) creditProposer(b *types.Block) {
	key := statsKey{Epoch: b.Header.Epoch, PublicKey: b.Header.ProposedBy}
	stats, ok := s.epochStats[key]
	if !ok {
		stats = &types.ValidatorEpochStats{Epoch: b.Header.Epoch, PublicKey: b.Header.ProposedBy}
		s.epochStats[key] = stats
	}
	stats.ParticipationShares++
}

// RecordMissedProposal accrues a missed-proposal strike for the expected
// leader of a view that timed out without a proposal, capping at
// missedProposalCap.
func (s *Store) RecordMissedProposal(epoch types.Epoch, leader types.PublicKey, evictionThreshold, missedProposalCap uint64) (evictionEligible bool) {
	key := statsKey{Epoch: epoch, PublicKey: leader}
	stats, ok := s.epochStats[key]
	if !ok {
		stats = &types.ValidatorEpochStats{Epoch: epoch, PublicKey: leader}
		s.epochStats[key] = stats
	}
	stats.MissedProposals++
	stats.MissedProposalsCapped = stats.MissedProposals
	if stats.MissedProposalsCapped > missedProposalCap {
		stats.MissedProposalsCapped = missedProposalCap
	}
	return stats.MissedProposalsCapped >= evictionThreshold
}

// Prune deletes every non-committed sibling of forkRoot's committed
// chain, releasing their locks and pending diffs first (I4), and
// optionally records forensics in diagnostic_deleted_blocks.
func (s *Store) Prune(ctx context.Context, forkRoot types.BlockID, reason string) error {
	siblings, err := s.blocks.ChildrenOf(ctx, forkRoot)
	if err != nil {
		return fmt.Errorf("blockstore: find siblings: %w", err)
	}
	for _, sib := range siblings {
		if sib.IsCommitted {
			continue
		}
		s.substate.DiscardPendingDiff(sib.BlockID)
		if err := s.substate.ReleaseBlockLocks(ctx, sib.BlockID); err != nil {
			return fmt.Errorf("blockstore: release locks for pruned block: %w", err)
		}
		if err := s.blocks.DeletePruned(ctx, sib, reason); err != nil {
			return fmt.Errorf("blockstore: delete pruned block: %w", err)
		}
		s.metrics.BlocksPruned.Inc()
	}
	return nil
}

// EpochStats returns the current bookkeeping for (epoch, publicKey), or
// nil if no proposals/misses have been recorded yet.
func (s *Store) EpochStats(epoch types.Epoch, publicKey types.PublicKey) *types.ValidatorEpochStats {
	return s.epochStats[statsKey{Epoch: epoch, PublicKey: publicKey}]
}
