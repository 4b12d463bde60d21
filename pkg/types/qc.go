package types

// QuorumCertificate proves that the committee of (Epoch, ShardGroup)
// voted Decision over the block identified by HeaderHash. Uniquely
// identified by QCID = H(contents) -- computed by the caller and carried
// in the QCID field.
type QuorumCertificate struct {
	QCID       QCID       `json:"qc_id"`
	HeaderHash BlockID    `json:"header_hash"`
	ParentID   BlockID    `json:"parent_id"`
	Height     Height     `json:"height"`
	Epoch      Epoch      `json:"epoch"`
	ShardGroup ShardGroup `json:"shard_group"`
	Decision   Decision   `json:"decision"`

	// Signatures is the threshold proof. In this implementation it is a
	// BLS12-381 aggregate signature plus a signer bitmap rather than a
	// list of individual signatures (see pkg/crypto/bls and
	// pkg/crypto/sign) -- the logical content is unchanged: the
	// aggregate is a threshold over the committee of (Epoch, ShardGroup).
	AggregateSignature []byte   `json:"aggregate_signature"`
	SignerBitmap        []byte   `json:"signer_bitmap"`
	LeafHashes          []Hash32 `json:"leaf_hashes"`
}

// BlockRef identifies a block by (BlockID, Height, Epoch) for chain-order
// comparisons.
type BlockRef struct {
	BlockID BlockID `json:"block_id"`
	Height  Height  `json:"height"`
	Epoch   Epoch   `json:"epoch"`
}

// VoteMessage is a single validator's signed vote for a proposal.
type VoteMessage struct {
	Epoch       Epoch      `json:"epoch"`
	ShardGroup  ShardGroup `json:"shard_group"`
	BlockID     BlockID    `json:"block_id"`
	BlockHeight Height     `json:"block_height"`
	Decision    Decision   `json:"decision"`
	Voter       PublicKey  `json:"voter"`
	Signature   []byte     `json:"signature"`
}

// NoVoteReasonCode enumerates why the engine declined to vote for a block.
type NoVoteReasonCode string

const (
	NoVoteAlreadyVotedHigher   NoVoteReasonCode = "already_voted_higher"
	NoVoteViolatesLockedChain  NoVoteReasonCode = "violates_locked_chain"
	NoVoteInadmissibleProposal NoVoteReasonCode = "inadmissible_proposal"
	NoVoteEpochEnded           NoVoteReasonCode = "epoch_ended"
)

// NoVoteDiagnostic is recorded whenever the engine refuses to vote, so
// that a missing vote never fails silently.
type NoVoteDiagnostic struct {
	BlockID       BlockID          `json:"block_id"`
	ReasonCode    NoVoteReasonCode `json:"reason_code"`
	ReasonText    string           `json:"reason_text"`
	CorrelationID string           `json:"correlation_id"`
}
