// Copyright 2025 Certen Protocol

package pool

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen-shard/validator-core/pkg/metrics"
	"github.com/certen-shard/validator-core/pkg/types"
)

var errEntryNotFound = errors.New("pool: entry not found")

// fakeRepo is an in-memory Repository for unit-testing the stage DAG and
// evidence merge without a database.
type fakeRepo struct {
	entries map[types.TxID]*types.PoolEntry
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{entries: make(map[types.TxID]*types.PoolEntry)}
}

func (f *fakeRepo) Upsert(ctx context.Context, e *types.PoolEntry) error {
	f.entries[e.TxID] = e.Clone()
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, txID types.TxID) (*types.PoolEntry, error) {
	e, ok := f.entries[txID]
	if !ok {
		return nil, errEntryNotFound
	}
	return e.Clone(), nil
}

func (f *fakeRepo) ReadySet(ctx context.Context, limit int) ([]*types.PoolEntry, error) {
	var out []*types.PoolEntry
	for _, e := range f.entries {
		if e.IsReady {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) Evict(ctx context.Context, txID types.TxID) error {
	delete(f.entries, txID)
	return nil
}

func newTestPool() (*Pool, *fakeRepo) {
	repo := newFakeRepo()
	m := metrics.New(prometheus.NewRegistry())
	return New(repo, m, 0.51), repo
}

func txID(b byte) types.TxID {
	var h types.Hash32
	h[31] = b
	return h
}

func TestAdmitCreatesReadyEntry(t *testing.T) {
	p, repo := newTestPool()
	ctx := context.Background()

	if err := p.Admit(ctx, txID(1), 10, types.LocalityLocalOnly); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	e, err := repo.Get(ctx, txID(1))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Stage != types.StageNew {
		t.Fatalf("stage = %s, want StageNew", e.Stage)
	}
	if !e.IsReady {
		t.Fatalf("new entry should be ready")
	}
}

func TestApplyCommittedCommandLocalOnlyIsTerminal(t *testing.T) {
	p, repo := newTestPool()
	ctx := context.Background()

	tx := txID(2)
	if err := p.Admit(ctx, tx, 5, types.LocalityLocalOnly); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	cmd := &types.Command{
		Kind: types.CommandLocalOnly,
		Atom: &types.TransactionAtom{TxID: tx, Decision: types.DecisionAccept},
	}
	if err := p.ApplyCommittedCommand(ctx, cmd, nil); err != nil {
		t.Fatalf("ApplyCommittedCommand: %v", err)
	}

	if _, err := repo.Get(ctx, tx); err == nil {
		t.Fatalf("terminal entry should have been evicted")
	}
}

func TestApplyCommittedCommandRejectsUnknownTransition(t *testing.T) {
	p, _ := newTestPool()
	ctx := context.Background()

	tx := txID(3)
	if err := p.Admit(ctx, tx, 5, types.LocalityGlobal); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	// StageNew has no transition for CommandAllAccept.
	cmd := &types.Command{
		Kind: types.CommandAllAccept,
		Atom: &types.TransactionAtom{TxID: tx},
	}
	err := p.ApplyCommittedCommand(ctx, cmd, nil)
	var noTransition *ErrNoTransition
	if err == nil {
		t.Fatalf("expected ErrNoTransition, got nil")
	}
	if !asErrNoTransition(err, &noTransition) {
		t.Fatalf("expected *ErrNoTransition, got %T: %v", err, err)
	}
}

func asErrNoTransition(err error, target **ErrNoTransition) bool {
	e, ok := err.(*ErrNoTransition)
	if ok {
		*target = e
	}
	return ok
}

func TestMergeForeignEvidenceRegressionEvicts(t *testing.T) {
	p, repo := newTestPool()
	ctx := context.Background()

	tx := txID(4)
	if err := p.Admit(ctx, tx, 5, types.LocalityGlobal); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	group := types.ShardGroup(7)
	accepted := types.EvidenceEntry{Group: group, LockType: types.LockRead, Status: types.EvidenceStatusAccepted}
	if err := p.MergeForeignEvidence(ctx, tx, accepted, []types.ShardGroup{group}); err != nil {
		t.Fatalf("MergeForeignEvidence (accepted): %v", err)
	}

	// A regression to Prepared after Accepted must evict, not silently apply.
	regressed := types.EvidenceEntry{Group: group, LockType: types.LockRead, Status: types.EvidenceStatusPrepared}
	if err := p.MergeForeignEvidence(ctx, tx, regressed, []types.ShardGroup{group}); err != nil {
		t.Fatalf("MergeForeignEvidence (regressed): %v", err)
	}

	if _, err := repo.Get(ctx, tx); err == nil {
		t.Fatalf("entry should have been evicted on evidence regression")
	}
}

func TestResolveLockConflictsPicksSmallestTxID(t *testing.T) {
	a := &types.PoolEntry{TxID: txID(9)}
	b := &types.PoolEntry{TxID: txID(1)}
	c := &types.PoolEntry{TxID: txID(5)}

	winner, losers := ResolveLockConflicts([]*types.PoolEntry{a, b, c}, types.SubstateID{}, 0)
	if winner.TxID != b.TxID {
		t.Fatalf("winner = %s, want smallest tx id %s", winner.TxID, b.TxID)
	}
	if len(losers) != 2 {
		t.Fatalf("losers = %d, want 2", len(losers))
	}
	for _, l := range losers {
		if l.DependsOnTx != winner.TxID {
			t.Fatalf("loser %s depends on %s, want %s", l.TxID, l.DependsOnTx, winner.TxID)
		}
	}
}
