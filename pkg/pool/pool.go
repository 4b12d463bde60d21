// Copyright 2025 Certen Protocol
//
// Transaction pool state machine: a DAG of stages driven exclusively by
// committed commands, speculative pending_stage tracking, readiness
// predicates, and lock-conflict resolution.

package pool

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/certen-shard/validator-core/pkg/metrics"
	"github.com/certen-shard/validator-core/pkg/types"
)

// transitions encodes the stage DAG: which command, observed while an
// entry sits in From, advances it to To.
var transitions = map[types.Stage]map[types.CommandKind]types.Stage{
	types.StageNew: {
		types.CommandLocalOnly: types.StageAllAcceptedEnd,
		types.CommandPrepare:   types.StagePrepared,
	},
	types.StagePrepared: {
		types.CommandLocalPrepare: types.StageLocalPrepared,
	},
	types.StageLocalPrepared: {
		types.CommandAllPrepare:  types.StageAllPrepared,
		types.CommandSomePrepare: types.StageSomePrepared,
	},
	types.StageAllPrepared: {
		types.CommandLocalAccept: types.StageLocalAccepted,
	},
	types.StageSomePrepared: {
		types.CommandLocalAccept: types.StageLocalAccepted,
	},
	types.StageLocalAccepted: {
		types.CommandAllAccept:  types.StageAllAccepted,
		types.CommandSomeAccept: types.StageSomeAccepted,
	},
}

// ErrNoTransition is returned when a command kind is not admissible from
// an entry's current stage.
type ErrNoTransition struct {
	Stage types.Stage
	Kind  types.CommandKind
}

func (e *ErrNoTransition) Error() string {
	return fmt.Sprintf("pool: command %s is not admissible from stage %s", e.Kind, e.Stage)
}

// Repository is the persistence surface Pool needs. Satisfied by
// *database.PoolRepository in production and by an in-memory fake in
// unit tests, since the pool/evidence-merge properties need no
// database.
type Repository interface {
	Upsert(ctx context.Context, e *types.PoolEntry) error
	Get(ctx context.Context, txID types.TxID) (*types.PoolEntry, error)
	ReadySet(ctx context.Context, limit int) ([]*types.PoolEntry, error)
	Evict(ctx context.Context, txID types.TxID) error
}

// Pool is the node-local transaction pool.
type Pool struct {
	repo    Repository
	metrics *metrics.Metrics

	// minForeignQuorumFraction is the configured sub-quorum fraction a
	// Some*-stage entry's foreign evidence must clear to be ready,
	// short of every expected group reporting in.
	minForeignQuorumFraction float64
}

// New constructs a Pool over repo, recording stage transitions and
// evidence updates against m. minForeignQuorumFraction configures the
// Some*-stage readiness threshold (cross_shard.min_foreign_quorum_fraction).
func New(repo Repository, m *metrics.Metrics, minForeignQuorumFraction float64) *Pool {
	return &Pool{repo: repo, metrics: m, minForeignQuorumFraction: minForeignQuorumFraction}
}

// Admit creates a new pool entry for a freshly observed transaction.
func (p *Pool) Admit(ctx context.Context, txID types.TxID, fee uint64, locality types.Locality) error {
	e := &types.PoolEntry{
		TxID:             txID,
		OriginalDecision: types.DecisionAccept,
		Evidence:         types.Evidence{},
		Stage:            types.StageNew,
		TransactionFee:   fee,
		Locality:         locality,
		IsGlobal:         locality == types.LocalityGlobal,
	}
	e.IsReady = p.computeReadiness(e, nil)
	return p.repo.Upsert(ctx, e)
}

// ApplyCommittedCommand advances a pool entry's stage in response to a
// command observed in a just-committed block. Speculative execution
// results land in PendingStage until this fires.
func (p *Pool) ApplyCommittedCommand(ctx context.Context, cmd *types.Command, expectedGroups []types.ShardGroup) error {
	if cmd.Atom == nil {
		return nil // non-transactional atom; nothing to transition
	}
	e, err := p.repo.Get(ctx, cmd.Atom.TxID)
	if err != nil {
		return fmt.Errorf("pool: load entry for command: %w", err)
	}

	byStage, ok := transitions[e.Stage]
	if !ok {
		return &ErrNoTransition{Stage: e.Stage, Kind: cmd.Kind}
	}
	next, ok := byStage[cmd.Kind]
	if !ok {
		return &ErrNoTransition{Stage: e.Stage, Kind: cmd.Kind}
	}

	e.Stage = next
	e.PendingStage = nil
	if cmd.Kind.IsAcceptVariant() {
		e.ConfirmStage = &next
	}

	merged, err := e.Evidence.Merge(types.EvidenceEntry{
		Group:    currentGroupOf(cmd),
		LockType: types.LockRead,
		Status:   statusForKind(cmd.Kind),
	})
	if err != nil {
		p.metrics.EvidenceRegressions.Inc()
		e.Stage = types.StageAllAcceptedEnd
	} else {
		e.Evidence = merged
		p.metrics.EvidenceUpdates.Inc()
	}

	e.IsReady = p.computeReadiness(e, expectedGroups)
	p.metrics.PoolStageTransitions.WithLabelValues(string(e.Stage)).Inc()

	if isTerminal(e.Stage) {
		return p.repo.Evict(ctx, e.TxID)
	}
	return p.repo.Upsert(ctx, e)
}

// MergeForeignEvidence folds foreign-shard progress into a pool entry
// without advancing its own stage (the entry's own commit still drives
// that; foreign evidence only affects readiness and abort detection).
func (p *Pool) MergeForeignEvidence(ctx context.Context, txID types.TxID, entry types.EvidenceEntry, expectedGroups []types.ShardGroup) error {
	e, err := p.repo.Get(ctx, txID)
	if err != nil {
		return fmt.Errorf("pool: load entry for foreign evidence: %w", err)
	}

	merged, err := e.Evidence.Merge(entry)
	if err != nil {
		p.metrics.EvidenceRegressions.Inc()
		e.Stage = types.StageAllAcceptedEnd
		if err := p.repo.Evict(ctx, txID); err != nil {
			return fmt.Errorf("pool: evict on evidence regression: %w", err)
		}
		return nil
	}

	e.Evidence = merged
	e.IsReady = p.computeReadiness(e, expectedGroups)
	p.metrics.EvidenceUpdates.Inc()
	return p.repo.Upsert(ctx, e)
}

// computeReadiness implements the is_ready predicate: it is
// recomputed on every evidence or decision change.
func (p *Pool) computeReadiness(e *types.PoolEntry, expectedGroups []types.ShardGroup) bool {
	switch e.Stage {
	case types.StageNew:
		return true
	case types.StagePrepared:
		return e.LocalDecision != nil
	case types.StageLocalPrepared:
		return e.Evidence.AllAtLeast(expectedGroups, types.EvidenceStatusPrepared) ||
			e.Evidence.FractionAtLeast(expectedGroups, types.EvidenceStatusPrepared, p.minForeignQuorumFraction)
	case types.StageAllPrepared, types.StageSomePrepared:
		return e.LocalDecision != nil
	case types.StageLocalAccepted:
		return e.Evidence.AllAtLeast(expectedGroups, types.EvidenceStatusAccepted) ||
			e.Evidence.FractionAtLeast(expectedGroups, types.EvidenceStatusAccepted, p.minForeignQuorumFraction)
	default:
		return false
	}
}

func isTerminal(s types.Stage) bool {
	return s == types.StageAllAccepted || s == types.StageSomeAccepted || s == types.StageAllAcceptedEnd
}

func statusForKind(k types.CommandKind) types.EvidenceStatus {
	switch k {
	case types.CommandLocalPrepare, types.CommandAllPrepare, types.CommandSomePrepare, types.CommandPrepare:
		return types.EvidenceStatusPrepared
	case types.CommandLocalAccept, types.CommandAllAccept, types.CommandSomeAccept:
		return types.EvidenceStatusAccepted
	default:
		return types.EvidenceStatusPledged
	}
}

// currentGroupOf is a placeholder seam: the committing shard group is
// supplied by the consensus task's block context in practice, not
// derivable from the command alone.
func currentGroupOf(cmd *types.Command) types.ShardGroup {
	return cmd.ForeignShard
}

// ReadySet returns the transactions eligible for inclusion in the
// leader's next proposal, capped at maxReady.
func (p *Pool) ReadySet(ctx context.Context, maxReady int) ([]*types.PoolEntry, error) {
	return p.repo.ReadySet(ctx, maxReady)
}

// ResolveLockConflicts applies the deterministic tie-break:
// among ready transactions contending for an incompatible lock on the
// same (substate_id, version), the lexicographically smallest tx_id
// wins; the rest become not-ready and get a recorded LockConflict.
func ResolveLockConflicts(contenders []*types.PoolEntry, substateID types.SubstateID, version types.Version) (winner *types.PoolEntry, losers []*types.LockConflict) {
	if len(contenders) == 0 {
		return nil, nil
	}
	sorted := make([]*types.PoolEntry, len(contenders))
	copy(sorted, contenders)
	sort.Slice(sorted, func(i, j int) bool { return lessHash(sorted[i].TxID, sorted[j].TxID) })

	winner = sorted[0]
	for _, loser := range sorted[1:] {
		losers = append(losers, &types.LockConflict{
			TxID:          loser.TxID,
			DependsOnTx:   winner.TxID,
			CorrelationID: uuid.NewString(),
		})
	}
	return winner, losers
}

func lessHash(a, b types.Hash32) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
