// Copyright 2025 Certen Protocol
//
// The HotStuff consensus engine: proposal admission, the safety voting
// rule, the locking rule, the three-chain commit rule, the leader loop,
// dummy blocks, and no-vote diagnostics.

package consensus

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/bits"
	"time"

	"github.com/google/uuid"

	"github.com/certen-shard/validator-core/pkg/blockstore"
	"github.com/certen-shard/validator-core/pkg/crypto/hash"
	"github.com/certen-shard/validator-core/pkg/crypto/sign"
	"github.com/certen-shard/validator-core/pkg/epoch"
	"github.com/certen-shard/validator-core/pkg/ledger"
	"github.com/certen-shard/validator-core/pkg/metrics"
	"github.com/certen-shard/validator-core/pkg/pool"
	"github.com/certen-shard/validator-core/pkg/types"
)

// Engine runs the single-writer consensus task for one (epoch,
// shard_group) chain. All mutations to safety singletons go through
// this type.
type Engine struct {
	self       types.PublicKey
	shardGroup types.ShardGroup

	oracle    epoch.Oracle
	signer    sign.Strategy
	ledger    *ledger.Store
	blocks    *blockstore.Store
	pool      *pool.Pool
	metrics   *metrics.Metrics

	noVotes []types.NoVoteDiagnostic

	maxProposalBytes     int
	maxCommandsPerBlock  int
	maxLeaderFeePerBlock uint64
	staleness            time.Duration
	missedProposalCap    uint64
}

// Config bundles the tunables an Engine needs from node configuration.
type Config struct {
	MaxProposalBytes     int
	MaxCommandsPerBlock  int
	MaxLeaderFeePerBlock uint64
	StalenessBound       time.Duration
	MissedProposalCap    uint64
}

// New constructs an Engine for shardGroup, identified by self.
func New(self types.PublicKey, shardGroup types.ShardGroup, oracle epoch.Oracle, signer sign.Strategy,
	l *ledger.Store, b *blockstore.Store, p *pool.Pool, m *metrics.Metrics, cfg Config) *Engine {
	return &Engine{
		self:                 self,
		shardGroup:           shardGroup,
		oracle:               oracle,
		signer:               signer,
		ledger:               l,
		blocks:               b,
		pool:                 p,
		metrics:              m,
		maxProposalBytes:     cfg.MaxProposalBytes,
		maxCommandsPerBlock:  cfg.MaxCommandsPerBlock,
		maxLeaderFeePerBlock: cfg.MaxLeaderFeePerBlock,
		staleness:            cfg.StalenessBound,
		missedProposalCap:    cfg.MissedProposalCap,
	}
}

// recordNoVote ensures a refusal to vote never fails silently: every
// refusal is recorded, never just returned as an error.
func (e *Engine) recordNoVote(blockID types.BlockID, code types.NoVoteReasonCode, reasonText string) {
	e.noVotes = append(e.noVotes, types.NoVoteDiagnostic{
		BlockID: blockID, ReasonCode: code, ReasonText: reasonText,
		CorrelationID: uuid.NewString(),
	})
	e.metrics.NoVotes.WithLabelValues(string(code)).Inc()
}

// NoVotes returns every recorded no-vote diagnostic (for inspection/export).
func (e *Engine) NoVotes() []types.NoVoteDiagnostic { return e.noVotes }

// AdmitProposal checks a proposal against the admission rules (a)-(f).
// parent is the block referenced by b.Header.ParentID, already resolved
// by the caller (blockstore lookup or a freshly-admitted ancestor).
func (e *Engine) AdmitProposal(ctx context.Context, b *types.Block, parent *types.Block) error {
	if b.Justify == nil {
		return fmt.Errorf("consensus: proposal %s has no justify qc", b.BlockID)
	}

	// (a) justify is a valid QC signed by the committee of (epoch, shard_group).
	committee, err := e.oracle.Committee(ctx, b.Header.Epoch, b.Header.ShardGroup)
	if err != nil {
		return fmt.Errorf("consensus: resolve committee: %w", err)
	}
	msgHash := qcMessageHash(b.Justify)
	ok, err := e.signer.VerifyAggregate(ctx, committee.Members, msgHash, b.Justify.AggregateSignature, b.Justify.SignerBitmap)
	if err != nil {
		return fmt.Errorf("consensus: verify justify qc: %w", err)
	}
	if !ok {
		return fmt.Errorf("consensus: justify qc failed verification for proposal %s", b.BlockID)
	}
	if signerCount(b.Justify.SignerBitmap) < committee.QuorumThreshold {
		return fmt.Errorf("consensus: justify qc for proposal %s has fewer signers than quorum threshold", b.BlockID)
	}

	// (b) parent = justify.block_id
	if b.Header.ParentID != b.Justify.HeaderHash {
		return fmt.Errorf("consensus: proposal %s parent does not match justify qc", b.BlockID)
	}

	// (c) height = justify.height + 1 (dummy blocks fill larger gaps upstream)
	if b.Header.Height != b.Justify.Height+1 {
		return fmt.Errorf("consensus: proposal %s height does not follow justify qc", b.BlockID)
	}

	// (d) proposed_by is the expected leader
	leader, err := e.oracle.ExpectedLeader(ctx, b.Header.Epoch, b.Header.ShardGroup, b.Header.Height)
	if err != nil {
		return fmt.Errorf("consensus: resolve expected leader: %w", err)
	}
	if b.Header.ProposedBy != leader {
		return fmt.Errorf("consensus: proposal %s not from expected leader", b.BlockID)
	}

	ended, err := e.blocks.HasEnded(ctx, b.Header.Epoch)
	if err != nil {
		return fmt.Errorf("consensus: check epoch ended: %w", err)
	}
	if ended {
		return fmt.Errorf("consensus: proposal %s names an already-ended epoch %d", b.BlockID, b.Header.Epoch)
	}

	// (e) timestamp/base-layer anchor monotonicity and staleness
	if parent != nil && b.Header.Timestamp.Before(parent.Header.Timestamp) {
		return fmt.Errorf("consensus: proposal %s timestamp precedes parent", b.BlockID)
	}
	if e.staleness > 0 && time.Since(b.Header.Timestamp) > e.staleness {
		return fmt.Errorf("consensus: proposal %s exceeds staleness bound", b.BlockID)
	}

	// (f) every command individually admissible: structural checks only
	// here; pkg/pool.ApplyCommittedCommand re-validates transition legality
	// against each entry's current stage once the block commits.
	if len(b.Commands) > e.maxCommandsPerBlock {
		return fmt.Errorf("consensus: proposal %s exceeds max commands per block", b.BlockID)
	}
	if b.TotalLeaderFee > e.maxLeaderFeePerBlock {
		return fmt.Errorf("consensus: proposal %s exceeds max leader fee per block", b.BlockID)
	}
	for i := 1; i < len(b.Commands); i++ {
		if !b.Commands[i-1].SortKey().Less(b.Commands[i].SortKey()) {
			return fmt.Errorf("consensus: proposal %s commands are not strictly ordered", b.BlockID)
		}
	}

	return nil
}

// ShouldVote implements the safety rule: vote for b iff (i)
// b.height > LastVoted.height, AND (ii) b extends LockedBlock OR
// b.justify.height > LockedBlock.height.
func (e *Engine) ShouldVote(b *types.Block, extendsLocked bool) (bool, types.NoVoteReasonCode, string) {
	lastVoted, err := e.ledger.GetLastVoted(b.Header.Epoch)
	if err == nil && b.Header.Height <= lastVoted.Height {
		text := fmt.Sprintf("already voted at height %d", lastVoted.Height)
		e.recordNoVote(b.BlockID, types.NoVoteAlreadyVotedHigher, text)
		return false, types.NoVoteAlreadyVotedHigher, text
	}

	locked, err := e.ledger.GetLockedBlock(b.Header.Epoch)
	if err == nil {
		livenessOK := b.Justify != nil && b.Justify.Height > locked.Height
		if !extendsLocked && !livenessOK {
			text := "proposal neither extends locked block nor satisfies the liveness rule"
			e.recordNoVote(b.BlockID, types.NoVoteViolatesLockedChain, text)
			return false, types.NoVoteViolatesLockedChain, text
		}
	}

	return true, "", ""
}

// Vote signs a VoteMessage for b, recording LastVoted and LastSentVote.
// Callers must have already confirmed ShouldVote and AdmitProposal.
func (e *Engine) Vote(ctx context.Context, b *types.Block) (*types.VoteMessage, error) {
	msg := &types.VoteMessage{
		Epoch:       b.Header.Epoch,
		ShardGroup:  b.Header.ShardGroup,
		BlockID:     b.BlockID,
		BlockHeight: b.Header.Height,
		Decision:    types.DecisionAccept,
		Voter:       e.self,
	}
	sig, err := e.signer.Sign(ctx, voteMessageHash(msg))
	if err != nil {
		return nil, fmt.Errorf("consensus: sign vote: %w", err)
	}
	msg.Signature = sig

	if err := e.ledger.SetLastVoted(b.Header.Epoch, &ledger.LastVoted{
		Epoch: b.Header.Epoch, BlockID: b.BlockID, Height: b.Header.Height,
	}); err != nil {
		return nil, fmt.Errorf("consensus: persist last voted: %w", err)
	}
	if err := e.ledger.SetLastSentVote(b.Header.Epoch, &ledger.LastSentVote{
		Epoch: b.Header.Epoch, BlockID: b.BlockID, Height: b.Header.Height, Decision: msg.Decision,
	}); err != nil {
		return nil, fmt.Errorf("consensus: persist last sent vote: %w", err)
	}
	e.metrics.VotesCast.Inc()
	return msg, nil
}

// BuildDummyBlock bridges a height gap >= 2: is_dummy
// = true, commands = [], proposed_by = expected_leader.
func (e *Engine) BuildDummyBlock(ctx context.Context, parent *types.Block, height types.Height) (*types.Block, error) {
	leader, err := e.oracle.ExpectedLeader(ctx, parent.Header.Epoch, parent.Header.ShardGroup, height)
	if err != nil {
		return nil, fmt.Errorf("consensus: resolve dummy block leader: %w", err)
	}
	header := types.BlockHeader{
		ParentID:          parent.BlockID,
		Height:            height,
		Epoch:             parent.Header.Epoch,
		ShardGroup:        parent.Header.ShardGroup,
		ProposedBy:        leader,
		StateMerkleRoot:   parent.Header.StateMerkleRoot,
		CommandMerkleRoot: types.ZeroHash32,
		Timestamp:         time.Now(),
		IsDummy:           true,
	}
	id := hash.Keccak256(encodeHeader(&header))
	return &types.Block{BlockID: id, Header: header, Commands: nil}, nil
}

// signerCount returns the number of set bits in a QC's signer bitmap.
func signerCount(bitmap []byte) int {
	n := 0
	for _, b := range bitmap {
		n += bits.OnesCount8(b)
	}
	return n
}

func qcMessageHash(qc *types.QuorumCertificate) types.Hash32 {
	return hash.Keccak256(qc.HeaderHash.Bytes(), qc.ParentID.Bytes(), []byte(qc.Decision))
}

func voteMessageHash(v *types.VoteMessage) types.Hash32 {
	return hash.Keccak256(v.BlockID.Bytes(), []byte(v.Decision))
}

// encodeHeader deterministically encodes every field that identifies a
// block's position in the chain -- the block id must bind height, epoch,
// and shard group alongside parent and proposer, or two dummy blocks at
// different heights with the same parent and leader collide to one id.
func encodeHeader(h *types.BlockHeader) []byte {
	buf := make([]byte, 0, 64+len(h.ParentID)+len(h.ProposedBy)+len(h.StateMerkleRoot))
	buf = append(buf, h.ParentID.Bytes()...)
	buf = append(buf, h.ProposedBy.Bytes()...)
	buf = append(buf, h.StateMerkleRoot.Bytes()...)

	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], uint64(h.Height))
	buf = append(buf, scratch[:]...)
	binary.BigEndian.PutUint64(scratch[:], uint64(h.Epoch))
	buf = append(buf, scratch[:]...)

	var shardScratch [4]byte
	binary.BigEndian.PutUint32(shardScratch[:], uint32(h.ShardGroup))
	buf = append(buf, shardScratch[:]...)

	binary.BigEndian.PutUint64(scratch[:], uint64(h.Timestamp.UnixNano()))
	buf = append(buf, scratch[:]...)

	return buf
}
