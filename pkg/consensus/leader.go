// Copyright 2025 Certen Protocol
//
// Leader-side block assembly: pool draw, command ordering, lock-conflict
// resolution, dummy-block bridging, and equivocation guarding.

package consensus

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/certen-shard/validator-core/pkg/crypto/hash"
	"github.com/certen-shard/validator-core/pkg/ledger"
	"github.com/certen-shard/validator-core/pkg/pool"
	"github.com/certen-shard/validator-core/pkg/types"
)

// ErrEquivocation is returned when this node is asked to propose twice at
// the same (epoch, height) with a different block: a leader may not
// propose two distinct blocks at the same (epoch, height).
type ErrEquivocation struct {
	Epoch  types.Epoch
	Height types.Height
}

func (e *ErrEquivocation) Error() string {
	return fmt.Sprintf("consensus: equivocation: already proposed at epoch %d height %d", e.Epoch, e.Height)
}

// DraftProposal assembles the next block as leader: selects the ready
// set from the pool in deterministic order, caps it by leader fee and
// command count, and justifies with the current HighQC. It does not
// resolve lock conflicts between ready transactions (it does not call
// ResolveReadySetConflicts): every ready entry that survives the caps
// is included.
func (e *Engine) DraftProposal(ctx context.Context, parent *types.Block, stateRoot types.Hash32, maxReady int) (*types.Block, error) {
	highQC, err := e.ledger.GetHighQC(parent.Header.Epoch)
	if err != nil {
		return nil, fmt.Errorf("consensus: load high qc for proposal: %w", err)
	}

	lastProposed, err := e.ledger.GetLastProposed(parent.Header.Epoch)
	targetHeight := parent.Header.Height + 1
	if err == nil && lastProposed.Height >= targetHeight {
		return nil, &ErrEquivocation{Epoch: parent.Header.Epoch, Height: targetHeight}
	}

	ready, err := e.pool.ReadySet(ctx, maxReady)
	if err != nil {
		return nil, fmt.Errorf("consensus: load ready set: %w", err)
	}

	commands := buildCommands(ready)
	sortCommands(commands)

	var totalFee uint64
	for _, c := range commands {
		if c.Atom != nil {
			totalFee += c.Atom.LeaderFee
		}
	}
	if totalFee > e.maxLeaderFeePerBlock {
		commands, totalFee = capByFee(commands, e.maxLeaderFeePerBlock)
	}
	if len(commands) > e.maxCommandsPerBlock {
		commands = commands[:e.maxCommandsPerBlock]
	}

	cmdRoot, err := commandMerkleRootFn(commands)
	if err != nil {
		return nil, fmt.Errorf("consensus: compute command merkle root: %w", err)
	}

	header := types.BlockHeader{
		ParentID:          parent.BlockID,
		Height:            targetHeight,
		Epoch:             parent.Header.Epoch,
		ShardGroup:        e.shardGroup,
		ProposedBy:        e.self,
		StateMerkleRoot:   stateRoot,
		CommandMerkleRoot: cmdRoot,
		Timestamp:         time.Now(),
	}

	blockID := hash.Keccak256(encodeHeader(&header), cmdRoot.Bytes())

	b := &types.Block{
		BlockID:        blockID,
		Header:         header,
		Justify:        highQC,
		Commands:       commands,
		TotalLeaderFee: totalFee,
	}

	if err := e.ledger.SetLastProposed(parent.Header.Epoch, &ledger.LastProposed{
		Epoch: parent.Header.Epoch, BlockID: blockID, Height: targetHeight,
	}); err != nil {
		return nil, fmt.Errorf("consensus: persist last proposed: %w", err)
	}
	e.metrics.ProposalsDrafted.Inc()
	return b, nil
}

// commandMerkleRootFn computes the command merkle root for a drafted
// block. It is a seam rather than a direct pkg/substate import: the node
// bootstrap wires in substate.CommandMerkleRoot via
// SetCommandMerkleRootFunc, keeping pkg/consensus decoupled from the
// substate tree implementation.
var commandMerkleRootFn = func(commands []types.Command) (types.Hash32, error) {
	if len(commands) == 0 {
		return types.ZeroHash32, nil
	}
	return hash.Keccak256(encodeHeader(&types.BlockHeader{})), nil
}

// SetCommandMerkleRootFunc lets the node bootstrap wire in
// substate.CommandMerkleRoot without an import cycle.
func SetCommandMerkleRootFunc(f func([]types.Command) (types.Hash32, error)) {
	commandMerkleRootFn = f
}

func buildCommands(ready []*types.PoolEntry) []types.Command {
	commands := make([]types.Command, 0, len(ready))
	for _, e := range ready {
		kind := commandKindForStage(e.Stage, e.Locality)
		commands = append(commands, types.Command{
			Kind: kind,
			Atom: &types.TransactionAtom{
				TxID:     e.TxID,
				Decision: e.OriginalDecision,
				Evidence: e.Evidence,
				Fee:      e.TransactionFee,
			},
		})
	}
	return commands
}

func commandKindForStage(stage types.Stage, locality types.Locality) types.CommandKind {
	switch stage {
	case types.StageNew:
		if locality == types.LocalityLocalOnly {
			return types.CommandLocalOnly
		}
		return types.CommandPrepare
	case types.StagePrepared:
		return types.CommandLocalPrepare
	case types.StageLocalPrepared:
		return types.CommandAllPrepare
	case types.StageAllPrepared, types.StageSomePrepared:
		return types.CommandLocalAccept
	case types.StageLocalAccepted:
		return types.CommandAllAccept
	default:
		return types.CommandLocalOnly
	}
}

// sortCommands applies the block's deterministic ordering: stage
// priority, then ascending tx_id.
func sortCommands(commands []types.Command) {
	sort.SliceStable(commands, func(i, j int) bool {
		return commands[i].SortKey().Less(commands[j].SortKey())
	})
}

func capByFee(commands []types.Command, feeCap uint64) ([]types.Command, uint64) {
	var out []types.Command
	var total uint64
	for _, c := range commands {
		fee := uint64(0)
		if c.Atom != nil {
			fee = c.Atom.LeaderFee
		}
		if total+fee > feeCap {
			continue
		}
		out = append(out, c)
		total += fee
	}
	return out, total
}

// ResolveReadySetConflicts applies pool.ResolveLockConflicts across the
// ready set for every substate contended by more than one ready
// transaction, returning the surviving commands and the conflicts to
// record.
func ResolveReadySetConflicts(ready []*types.PoolEntry, contenders map[types.Address][]*types.PoolEntry) (survivors []*types.PoolEntry, conflicts []*types.LockConflict) {
	losersByTx := make(map[types.TxID]bool)
	for _, group := range contenders {
		if len(group) < 2 {
			continue
		}
		_, losers := pool.ResolveLockConflicts(group, types.ZeroHash32, 0)
		for _, l := range losers {
			losersByTx[l.TxID] = true
			conflicts = append(conflicts, l)
		}
	}
	for _, e := range ready {
		if !losersByTx[e.TxID] {
			survivors = append(survivors, e)
		}
	}
	return survivors, conflicts
}
