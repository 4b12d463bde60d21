// Copyright 2025 Certen Protocol
//
// Cross-shard coordinator: foreign proposal ingestion, parking of
// proposals referencing unseen transactions, and substate pledges.

package crossshard

import (
	"context"
	"fmt"

	"github.com/certen-shard/validator-core/pkg/metrics"
	"github.com/certen-shard/validator-core/pkg/pool"
	"github.com/certen-shard/validator-core/pkg/types"
)

// Repository is the persistence surface Coordinator needs for foreign
// proposal parking and substate pledges. Satisfied by
// *database.CrossShardRepository in production and an in-memory fake
// in unit tests.
type Repository interface {
	RecordForeignProposal(ctx context.Context, group types.ShardGroup, epoch types.Epoch, qc *types.QuorumCertificate, block *types.Block) error
	Park(ctx context.Context, group types.ShardGroup, block *types.Block, missing []types.TxID) error
	DrainOn(ctx context.Context, txID types.TxID) ([]*types.Block, error)
	Unpark(ctx context.Context, blockID types.BlockID) error
	ParkedCount(ctx context.Context) (int, error)
	RecordPledge(ctx context.Context, p *types.SubstatePledge) error
	PledgesFor(ctx context.Context, txID types.TxID) ([]*types.SubstatePledge, error)
}

// Coordinator ingests justified foreign proposals and folds their
// evidence into the local pool, parking proposals this shard group
// cannot yet interpret.
type Coordinator struct {
	repo    Repository
	pool    *pool.Pool
	metrics *metrics.Metrics

	self types.ShardGroup
}

// New constructs a Coordinator for shard group self.
func New(repo Repository, p *pool.Pool, m *metrics.Metrics, self types.ShardGroup) *Coordinator {
	return &Coordinator{repo: repo, pool: p, metrics: m, self: self}
}

// KnownTransactions reports whether the transaction txID is already
// present in this node's pool; IngestForeignProposal and DrainParked call
// it for each command's transaction to decide between ingesting and
// parking.
type KnownTransactions func(ctx context.Context, txID types.TxID) (bool, error)

// IngestForeignProposal consumes a justified foreign block as a single
// atomic (block, justify_qc, pledges) -> effects operation. If any
// referenced transaction is unknown locally, the block is parked
// instead rather than partially applied.
func (c *Coordinator) IngestForeignProposal(ctx context.Context, group types.ShardGroup, epoch types.Epoch, qc *types.QuorumCertificate, block *types.Block, known KnownTransactions) error {
	var missing []types.TxID
	for _, cmd := range block.Commands {
		if cmd.Atom == nil {
			continue
		}
		ok, err := known(ctx, cmd.Atom.TxID)
		if err != nil {
			return fmt.Errorf("crossshard: check known transaction: %w", err)
		}
		if !ok {
			missing = append(missing, cmd.Atom.TxID)
		}
	}

	if len(missing) > 0 {
		if err := c.repo.Park(ctx, group, block, missing); err != nil {
			return fmt.Errorf("crossshard: park foreign proposal: %w", err)
		}
		count, err := c.repo.ParkedCount(ctx)
		if err == nil {
			c.metrics.ForeignProposalsParked.Set(float64(count))
		}
		return nil
	}

	return c.applyForeignProposal(ctx, group, epoch, qc, block)
}

func (c *Coordinator) applyForeignProposal(ctx context.Context, group types.ShardGroup, epoch types.Epoch, qc *types.QuorumCertificate, block *types.Block) error {
	if err := c.repo.RecordForeignProposal(ctx, group, epoch, qc, block); err != nil {
		return fmt.Errorf("crossshard: record foreign proposal: %w", err)
	}

	for _, cmd := range block.Commands {
		if cmd.Atom == nil {
			continue
		}
		entry := types.EvidenceEntry{
			Group:    group,
			LockType: lockTypeForKind(cmd.Kind),
			Status:   evidenceStatusForKind(cmd.Kind),
		}
		if err := c.pool.MergeForeignEvidence(ctx, cmd.Atom.TxID, entry, []types.ShardGroup{group}); err != nil {
			return fmt.Errorf("crossshard: merge foreign evidence for tx %s: %w", cmd.Atom.TxID, err)
		}
	}
	return nil
}

// DrainParked is called whenever a transaction newly arrives locally; it
// re-checks every block parked (even partially) on that transaction and
// unparks + applies any that have become fully satisfiable.
func (c *Coordinator) DrainParked(ctx context.Context, txID types.TxID, known KnownTransactions) error {
	blocks, err := c.repo.DrainOn(ctx, txID)
	if err != nil {
		return fmt.Errorf("crossshard: drain parked blocks: %w", err)
	}

	for _, block := range blocks {
		stillMissing := false
		for _, cmd := range block.Commands {
			if cmd.Atom == nil {
				continue
			}
			ok, err := known(ctx, cmd.Atom.TxID)
			if err != nil {
				return fmt.Errorf("crossshard: recheck known transaction: %w", err)
			}
			if !ok {
				stillMissing = true
				break
			}
		}
		if stillMissing {
			continue
		}

		if err := c.applyForeignProposal(ctx, block.Header.ShardGroup, block.Header.Epoch, block.Justify, block); err != nil {
			return fmt.Errorf("crossshard: apply drained proposal: %w", err)
		}
		if err := c.repo.Unpark(ctx, block.BlockID); err != nil {
			return fmt.Errorf("crossshard: unpark drained proposal: %w", err)
		}
	}

	count, err := c.repo.ParkedCount(ctx)
	if err == nil {
		c.metrics.ForeignProposalsParked.Set(float64(count))
	}
	return nil
}

// RecordPledge persists a shard group's declared lock over a substate
// version for a transaction, on accepting a local *Prepare* with
// foreign-visible inputs.
func (c *Coordinator) RecordPledge(ctx context.Context, p *types.SubstatePledge) error {
	if err := c.repo.RecordPledge(ctx, p); err != nil {
		return fmt.Errorf("crossshard: record pledge: %w", err)
	}
	return nil
}

// CheckPledgeViolation reports whether a proposed (substate_id, version,
// lock_type) would violate an existing pledge for txID -- a violating
// local proposal must be refused.
func (c *Coordinator) CheckPledgeViolation(ctx context.Context, txID types.TxID, substateID types.SubstateID, version types.Version, lockType types.LockType) (bool, error) {
	pledges, err := c.repo.PledgesFor(ctx, txID)
	if err != nil {
		return false, fmt.Errorf("crossshard: load pledges: %w", err)
	}
	for _, p := range pledges {
		if p.SubstateID == substateID && p.Version == version && !types.LocksCompatible(p.LockType, lockType) {
			return true, nil
		}
	}
	return false, nil
}

func lockTypeForKind(k types.CommandKind) types.LockType {
	if k.IsAcceptVariant() {
		return types.LockOutput
	}
	return types.LockRead
}

func evidenceStatusForKind(k types.CommandKind) types.EvidenceStatus {
	switch k {
	case types.CommandLocalPrepare, types.CommandAllPrepare, types.CommandSomePrepare, types.CommandPrepare:
		return types.EvidenceStatusPrepared
	case types.CommandLocalAccept, types.CommandAllAccept, types.CommandSomeAccept:
		return types.EvidenceStatusAccepted
	default:
		return types.EvidenceStatusPledged
	}
}
