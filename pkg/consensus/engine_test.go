// Copyright 2025 Certen Protocol

package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen-shard/validator-core/pkg/blockstore"
	"github.com/certen-shard/validator-core/pkg/crypto/sign"
	"github.com/certen-shard/validator-core/pkg/epoch"
	"github.com/certen-shard/validator-core/pkg/ledger"
	"github.com/certen-shard/validator-core/pkg/metrics"
	"github.com/certen-shard/validator-core/pkg/pool"
	"github.com/certen-shard/validator-core/pkg/substate"
	"github.com/certen-shard/validator-core/pkg/types"
)

func hb(b byte) types.Hash32 {
	var h types.Hash32
	h[31] = b
	return h
}

// fakeOracle is a single-member static committee good enough for
// single-shard commit-path tests.
type fakeOracle struct {
	committee *epoch.Committee
	leader    types.PublicKey
	epoch     types.Epoch
}

func (o *fakeOracle) Committee(ctx context.Context, e types.Epoch, group types.ShardGroup) (*epoch.Committee, error) {
	return o.committee, nil
}
func (o *fakeOracle) ExpectedLeader(ctx context.Context, e types.Epoch, group types.ShardGroup, height types.Height) (types.PublicKey, error) {
	return o.leader, nil
}
func (o *fakeOracle) RoleOf(ctx context.Context, e types.Epoch, group types.ShardGroup, self types.PublicKey) (epoch.Role, error) {
	return epoch.RoleCommitteeMember, nil
}
func (o *fakeOracle) CurrentEpoch(ctx context.Context) (types.Epoch, error) { return o.epoch, nil }

// fakeStrategy is a trivial sign.Strategy: signatures are opaque
// markers, and verification always succeeds, letting tests focus on the
// engine's own admission/safety logic rather than cryptography.
type fakeStrategy struct {
	self types.PublicKey
}

func (s *fakeStrategy) Scheme() sign.Scheme       { return sign.SchemeBLS12381 }
func (s *fakeStrategy) PublicKey() types.PublicKey { return s.self }
func (s *fakeStrategy) Sign(ctx context.Context, messageHash types.Hash32) ([]byte, error) {
	return []byte("signed"), nil
}
func (s *fakeStrategy) Verify(ctx context.Context, pub types.PublicKey, messageHash types.Hash32, signature []byte) (bool, error) {
	return true, nil
}
func (s *fakeStrategy) Aggregate(ctx context.Context, committee []types.PublicKey, signers []*sign.VoteSignature) ([]byte, []byte, error) {
	return []byte("agg"), []byte{0xFF}, nil
}
func (s *fakeStrategy) VerifyAggregate(ctx context.Context, committee []types.PublicKey, messageHash types.Hash32, aggSig []byte, bitmap []byte) (bool, error) {
	return true, nil
}

type fakeKV struct{ m map[string][]byte }

func newFakeKV() *fakeKV { return &fakeKV{m: make(map[string][]byte)} }
func (f *fakeKV) Get(key []byte) ([]byte, error) { return f.m[string(key)], nil }
func (f *fakeKV) Set(key, value []byte) error {
	f.m[string(key)] = value
	return nil
}

type fakeBlockRepo struct {
	byID     map[types.BlockID]*types.Block
	children map[types.BlockID][]types.BlockID
}

func newFakeBlockRepo() *fakeBlockRepo {
	return &fakeBlockRepo{byID: make(map[types.BlockID]*types.Block), children: make(map[types.BlockID][]types.BlockID)}
}
func (f *fakeBlockRepo) InsertBlock(ctx context.Context, b *types.Block) error {
	cp := *b
	f.byID[b.BlockID] = &cp
	if !b.Header.ParentID.IsZero() {
		f.children[b.Header.ParentID] = append(f.children[b.Header.ParentID], b.BlockID)
	}
	return nil
}
func (f *fakeBlockRepo) GetBlock(ctx context.Context, id types.BlockID) (*types.Block, error) {
	b, ok := f.byID[id]
	if !ok {
		return nil, errNotFound
	}
	return b, nil
}
func (f *fakeBlockRepo) ChildrenOf(ctx context.Context, parent types.BlockID) ([]*types.Block, error) {
	var out []*types.Block
	for _, id := range f.children[parent] {
		out = append(out, f.byID[id])
	}
	return out, nil
}
func (f *fakeBlockRepo) SetJustified(ctx context.Context, id types.BlockID, qc *types.QuorumCertificate) error {
	b, ok := f.byID[id]
	if !ok {
		return errNotFound
	}
	b.IsJustified = true
	return nil
}
func (f *fakeBlockRepo) SetCommitted(ctx context.Context, id types.BlockID) error {
	b, ok := f.byID[id]
	if !ok {
		return errNotFound
	}
	b.IsCommitted = true
	return nil
}
func (f *fakeBlockRepo) DeletePruned(ctx context.Context, b *types.Block, reason string) error {
	delete(f.byID, b.BlockID)
	return nil
}

var errNotFound = fakeErr("consensus: not found")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

type fakeSubstateRepo struct{}

func (fakeSubstateRepo) InsertUp(ctx context.Context, s *types.Substate, nextSeq uint64) error {
	return nil
}
func (fakeSubstateRepo) MarkDown(ctx context.Context, address types.Address, coords types.SubstateCoordinates, nextSeq uint64) error {
	return nil
}
func (fakeSubstateRepo) NextSeq(ctx context.Context, shard types.ShardGroup) (uint64, error) {
	return 1, nil
}
func (fakeSubstateRepo) GetLiveVersion(ctx context.Context, id types.SubstateID) (*types.Substate, error) {
	return nil, errNotFound
}
func (fakeSubstateRepo) GetVersion(ctx context.Context, id types.SubstateID, version types.Version) (*types.Substate, error) {
	return nil, errNotFound
}

type fakeLockRepo struct{}

func (fakeLockRepo) Acquire(ctx context.Context, l *types.SubstateLock) error { return nil }
func (fakeLockRepo) HeldOn(ctx context.Context, substateID types.SubstateID, version types.Version) ([]*types.SubstateLock, error) {
	return nil, nil
}
func (fakeLockRepo) ReleaseForBlock(ctx context.Context, blockID types.BlockID) error { return nil }

type fakePoolRepo struct{ entries map[types.TxID]*types.PoolEntry }

func newFakePoolRepo() *fakePoolRepo { return &fakePoolRepo{entries: make(map[types.TxID]*types.PoolEntry)} }
func (f *fakePoolRepo) Upsert(ctx context.Context, e *types.PoolEntry) error {
	f.entries[e.TxID] = e.Clone()
	return nil
}
func (f *fakePoolRepo) Get(ctx context.Context, txID types.TxID) (*types.PoolEntry, error) {
	e, ok := f.entries[txID]
	if !ok {
		return nil, errNotFound
	}
	return e.Clone(), nil
}
func (f *fakePoolRepo) ReadySet(ctx context.Context, limit int) ([]*types.PoolEntry, error) { return nil, nil }
func (f *fakePoolRepo) Evict(ctx context.Context, txID types.TxID) error {
	delete(f.entries, txID)
	return nil
}

type testHarness struct {
	engine     *Engine
	store      *blockstore.Store
	substate   *substate.Store
	blocks     *fakeBlockRepo
	ledger     *ledger.Store
	singletons *fakeSingletons
	self       types.PublicKey
}

type fakeSingletons struct {
	checkpoints map[types.Epoch]*types.EpochCheckpoint
	evictions   map[types.PublicKey]string
}

func newFakeSingletons() *fakeSingletons {
	return &fakeSingletons{checkpoints: make(map[types.Epoch]*types.EpochCheckpoint), evictions: make(map[types.PublicKey]string)}
}

func (f *fakeSingletons) PutEpochCheckpoint(ctx context.Context, c *types.EpochCheckpoint) error {
	f.checkpoints[c.Epoch] = c
	return nil
}
func (f *fakeSingletons) EpochEnded(ctx context.Context, epoch types.Epoch) (bool, error) {
	_, ok := f.checkpoints[epoch]
	return ok, nil
}
func (f *fakeSingletons) RecordEviction(ctx context.Context, epoch types.Epoch, pubKey types.PublicKey, reason string) error {
	f.evictions[pubKey] = reason
	return nil
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	self := hb(1)
	l := ledger.NewStore(newFakeKV())
	st := substate.NewStore(fakeSubstateRepo{}, fakeLockRepo{})
	blocks := newFakeBlockRepo()
	m := metrics.New(prometheus.NewRegistry())
	p := pool.New(newFakePoolRepo(), m, 0.51)
	singletons := newFakeSingletons()
	store := blockstore.New(blocks, l, st, p, singletons, m)

	oracle := &fakeOracle{
		committee: &epoch.Committee{Epoch: 1, ShardGroup: 1, Members: []types.PublicKey{self}, QuorumThreshold: 1},
		leader:    self,
		epoch:     1,
	}
	strategy := &fakeStrategy{self: self}

	e := New(self, types.ShardGroup(1), oracle, strategy, l, store, p, m, Config{
		MaxProposalBytes:     1 << 20,
		MaxCommandsPerBlock:  100,
		MaxLeaderFeePerBlock: 1_000_000,
		StalenessBound:       0,
		MissedProposalCap:    10,
	})
	return &testHarness{engine: e, store: store, substate: st, blocks: blocks, ledger: l, singletons: singletons, self: self}
}

func makeGenesis() *types.Block {
	return &types.Block{
		BlockID: hb(1),
		Header:  types.BlockHeader{Height: 1, Epoch: 1, ShardGroup: 1, Timestamp: time.Now().Add(-time.Hour)},
	}
}

func TestAdmitProposalAcceptsWellFormedBlock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	genesis := makeGenesis()

	qc := &types.QuorumCertificate{HeaderHash: genesis.BlockID, Height: genesis.Header.Height, Epoch: 1, AggregateSignature: []byte("agg"), SignerBitmap: []byte{0x01}}
	b := &types.Block{
		BlockID: hb(2),
		Header: types.BlockHeader{
			ParentID: genesis.BlockID, Height: 2, Epoch: 1, ShardGroup: 1,
			ProposedBy: h.self, Timestamp: time.Now(),
		},
		Justify: qc,
	}

	if err := h.engine.AdmitProposal(ctx, b, genesis); err != nil {
		t.Fatalf("AdmitProposal: %v", err)
	}
}

func TestAdmitProposalRejectsWrongLeader(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	genesis := makeGenesis()

	qc := &types.QuorumCertificate{HeaderHash: genesis.BlockID, Height: genesis.Header.Height, Epoch: 1, AggregateSignature: []byte("agg"), SignerBitmap: []byte{0x01}}
	b := &types.Block{
		BlockID: hb(2),
		Header: types.BlockHeader{
			ParentID: genesis.BlockID, Height: 2, Epoch: 1, ShardGroup: 1,
			ProposedBy: hb(99), Timestamp: time.Now(),
		},
		Justify: qc,
	}

	if err := h.engine.AdmitProposal(ctx, b, genesis); err == nil {
		t.Fatalf("expected rejection for wrong leader")
	}
}

func TestAdmitProposalRejectsHeightMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	genesis := makeGenesis()

	qc := &types.QuorumCertificate{HeaderHash: genesis.BlockID, Height: genesis.Header.Height, Epoch: 1, AggregateSignature: []byte("agg"), SignerBitmap: []byte{0x01}}
	b := &types.Block{
		BlockID: hb(2),
		Header: types.BlockHeader{
			ParentID: genesis.BlockID, Height: 5, Epoch: 1, ShardGroup: 1,
			ProposedBy: h.self, Timestamp: time.Now(),
		},
		Justify: qc,
	}

	if err := h.engine.AdmitProposal(ctx, b, genesis); err == nil {
		t.Fatalf("expected rejection for height not following justify qc")
	}
}

func TestShouldVoteRefusesLowerHeightThanLastVoted(t *testing.T) {
	h := newHarness(t)
	if err := h.ledger.SetLastVoted(1, &ledger.LastVoted{Epoch: 1, BlockID: hb(5), Height: 5}); err != nil {
		t.Fatalf("SetLastVoted: %v", err)
	}

	b := &types.Block{BlockID: hb(3), Header: types.BlockHeader{Epoch: 1, Height: 3}}
	ok, code, _ := h.engine.ShouldVote(b, true)
	if ok {
		t.Fatalf("expected ShouldVote to refuse a lower height")
	}
	if code != types.NoVoteAlreadyVotedHigher {
		t.Fatalf("reason code = %s, want NoVoteAlreadyVotedHigher", code)
	}
}

func TestShouldVoteRefusesViolatingLockedChain(t *testing.T) {
	h := newHarness(t)
	if err := h.ledger.SetLockedBlock(1, &types.BlockRef{BlockID: hb(5), Height: 5, Epoch: 1}); err != nil {
		t.Fatalf("SetLockedBlock: %v", err)
	}

	b := &types.Block{
		BlockID: hb(6),
		Header:  types.BlockHeader{Epoch: 1, Height: 6},
		Justify: &types.QuorumCertificate{Height: 4},
	}
	ok, code, _ := h.engine.ShouldVote(b, false)
	if ok {
		t.Fatalf("expected ShouldVote to refuse a non-extending, non-liveness proposal")
	}
	if code != types.NoVoteViolatesLockedChain {
		t.Fatalf("reason code = %s, want NoVoteViolatesLockedChain", code)
	}
}

func TestVoteRecordsLastVotedAndLastSentVote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := &types.Block{BlockID: hb(2), Header: types.BlockHeader{Epoch: 1, Height: 2}}

	msg, err := h.engine.Vote(ctx, b)
	if err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if msg.Voter != h.self {
		t.Fatalf("voter = %s, want %s", msg.Voter, h.self)
	}

	lastVoted, err := h.ledger.GetLastVoted(1)
	if err != nil {
		t.Fatalf("GetLastVoted: %v", err)
	}
	if lastVoted.Height != 2 {
		t.Fatalf("last voted height = %d, want 2", lastVoted.Height)
	}
}

func TestBuildDummyBlockBridgesHeightGap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parent := makeGenesis()

	dummy, err := h.engine.BuildDummyBlock(ctx, parent, 5)
	if err != nil {
		t.Fatalf("BuildDummyBlock: %v", err)
	}
	if !dummy.Header.IsDummy {
		t.Fatalf("expected IsDummy = true")
	}
	if len(dummy.Commands) != 0 {
		t.Fatalf("expected no commands in a dummy block")
	}
	if dummy.Header.ProposedBy != h.self {
		t.Fatalf("expected dummy block proposer to be the expected leader")
	}
}

func TestOnNewQCCommitsThreeChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	genesis := makeGenesis()
	if err := h.blocks.InsertBlock(ctx, genesis); err != nil {
		t.Fatalf("insert genesis: %v", err)
	}
	h.substate.StagePendingDiff(genesis.BlockID, genesis.Header.ShardGroup, types.SubstateDiff{})

	qc1 := &types.QuorumCertificate{HeaderHash: genesis.BlockID, Height: 1, Epoch: 1}
	b := &types.Block{BlockID: hb(2), Header: types.BlockHeader{ParentID: genesis.BlockID, Height: 2, Epoch: 1, ShardGroup: 1}, Justify: qc1}
	if err := h.blocks.InsertBlock(ctx, b); err != nil {
		t.Fatalf("insert b: %v", err)
	}
	h.substate.StagePendingDiff(b.BlockID, b.Header.ShardGroup, types.SubstateDiff{})

	qc2 := &types.QuorumCertificate{HeaderHash: b.BlockID, Height: 2, Epoch: 1}
	bPrime := &types.Block{BlockID: hb(3), Header: types.BlockHeader{ParentID: b.BlockID, Height: 3, Epoch: 1, ShardGroup: 1}, Justify: qc2}
	if err := h.blocks.InsertBlock(ctx, bPrime); err != nil {
		t.Fatalf("insert b': %v", err)
	}

	qc3 := &types.QuorumCertificate{HeaderHash: bPrime.BlockID, Height: 3, Epoch: 1}
	bDoublePrime := &types.Block{BlockID: hb(4), Header: types.BlockHeader{ParentID: bPrime.BlockID, Height: 4, Epoch: 1, ShardGroup: 1}, Justify: qc3}
	if err := h.blocks.InsertBlock(ctx, bDoublePrime); err != nil {
		t.Fatalf("insert b'': %v", err)
	}

	// A fourth QC, justifying b'', completes the three-chain over
	// (b, b', b'') and drives b's commit.
	qc4 := &types.QuorumCertificate{HeaderHash: bDoublePrime.BlockID, Height: 4, Epoch: 1}

	resolve := func(ctx context.Context, id types.BlockID) (*types.Block, error) {
		return h.blocks.GetBlock(ctx, id)
	}

	if err := h.engine.OnNewQC(ctx, h.store, qc4, resolve); err != nil {
		t.Fatalf("OnNewQC: %v", err)
	}

	got, err := h.blocks.GetBlock(ctx, b.BlockID)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if !got.IsCommitted {
		t.Fatalf("expected b committed via three-chain rule")
	}
}

func TestOnViewTimeoutAccruesMissedProposalAgainstExpectedLeader(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var eligible bool
	var err error
	for i := 0; i < 3; i++ {
		eligible, err = h.engine.OnViewTimeout(ctx, 1, types.Height(i+1), 3)
		if err != nil {
			t.Fatalf("OnViewTimeout: %v", err)
		}
	}
	if !eligible {
		t.Fatalf("expected eviction eligible after 3 missed proposals against a threshold of 3")
	}

	stats := h.store.EpochStats(1, h.self)
	if stats == nil || stats.MissedProposals != 3 {
		t.Fatalf("expected 3 missed proposals recorded, got %+v", stats)
	}
}

func TestEncodeHeaderBindsHeightEpochAndShardGroup(t *testing.T) {
	parent := hb(1)
	proposer := hb(2)
	base := types.BlockHeader{ParentID: parent, ProposedBy: proposer, Height: 5, Epoch: 1, ShardGroup: 1}

	higher := base
	higher.Height = 6

	otherEpoch := base
	otherEpoch.Epoch = 2

	otherShard := base
	otherShard.ShardGroup = 2

	baseEnc := encodeHeader(&base)
	if string(baseEnc) == string(encodeHeader(&higher)) {
		t.Fatalf("expected distinct encodings for different heights")
	}
	if string(baseEnc) == string(encodeHeader(&otherEpoch)) {
		t.Fatalf("expected distinct encodings for different epochs")
	}
	if string(baseEnc) == string(encodeHeader(&otherShard)) {
		t.Fatalf("expected distinct encodings for different shard groups")
	}
}

func TestAdmitProposalRejectsAlreadyEndedEpoch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	genesis := makeGenesis()

	h.singletons.checkpoints[1] = &types.EpochCheckpoint{Epoch: 1, CommitBlock: hb(250)}

	qc := &types.QuorumCertificate{HeaderHash: genesis.BlockID, Height: genesis.Header.Height, Epoch: 1, AggregateSignature: []byte("agg"), SignerBitmap: []byte{0x01}}
	b := &types.Block{
		BlockID: hb(2),
		Header: types.BlockHeader{
			ParentID: genesis.BlockID, Height: 2, Epoch: 1, ShardGroup: 1,
			ProposedBy: h.self, Timestamp: time.Now(),
		},
		Justify: qc,
	}

	if err := h.engine.AdmitProposal(ctx, b, genesis); err == nil {
		t.Fatalf("expected rejection for a proposal naming an already-ended epoch")
	}
}

func TestAdmitProposalRejectsSubQuorumJustifyQC(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	genesis := makeGenesis()

	h.engine.oracle.(*fakeOracle).committee.Members = append(h.engine.oracle.(*fakeOracle).committee.Members, hb(9))
	h.engine.oracle.(*fakeOracle).committee.QuorumThreshold = 2

	qc := &types.QuorumCertificate{HeaderHash: genesis.BlockID, Height: genesis.Header.Height, Epoch: 1, AggregateSignature: []byte("agg"), SignerBitmap: []byte{0x01}}
	b := &types.Block{
		BlockID: hb(2),
		Header: types.BlockHeader{
			ParentID: genesis.BlockID, Height: 2, Epoch: 1, ShardGroup: 1,
			ProposedBy: h.self, Timestamp: time.Now(),
		},
		Justify: qc,
	}

	if err := h.engine.AdmitProposal(ctx, b, genesis); err == nil {
		t.Fatalf("expected rejection for a justify qc with fewer signers than quorum threshold")
	}
}
