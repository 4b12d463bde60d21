// Copyright 2025 Certen Protocol
//
// Wire message shapes exchanged between validator nodes. This package
// defines the message surface only; transport (gossip, request/response
// framing) is out of scope here and owned by the node's networking
// layer.

package wire

import "github.com/certen-shard/validator-core/pkg/types"

// Proposal carries a leader's newly assembled block for a view.
type Proposal struct {
	Block *types.Block `json:"block"`
}

// Vote carries a single validator's signed decision on a proposal.
type Vote struct {
	Message *types.VoteMessage `json:"message"`
}

// NewView is sent by a replica on view timeout, carrying its HighQC so
// the next leader can catch up.
type NewView struct {
	Epoch      types.Epoch              `json:"epoch"`
	ShardGroup types.ShardGroup         `json:"shard_group"`
	HighQC     *types.QuorumCertificate `json:"high_qc"`
}

// ForeignProposal is a justified block from a foreign shard group's
// chain, offered for cross-shard evidence ingestion.
type ForeignProposal struct {
	ShardGroup types.ShardGroup         `json:"shard_group"`
	Epoch      types.Epoch              `json:"epoch"`
	Justify    *types.QuorumCertificate `json:"justify_qc"`
	Block      *types.Block             `json:"block"`
}

// ForeignProposalNotification announces that a foreign proposal exists
// without shipping its full body, letting the receiver decide whether to
// pull it (e.g. it already holds every referenced transaction).
type ForeignProposalNotification struct {
	ShardGroup types.ShardGroup `json:"shard_group"`
	BlockID    types.BlockID    `json:"block_id"`
	Height     types.Height     `json:"height"`
}

// ForeignProposalRequest pulls a full foreign proposal body by id.
type ForeignProposalRequest struct {
	ShardGroup types.ShardGroup `json:"shard_group"`
	BlockID    types.BlockID    `json:"block_id"`
}

// MissingTransactionsRequest asks a peer for the raw bodies of
// transactions this node does not yet hold, so a parked foreign
// proposal can be drained.
type MissingTransactionsRequest struct {
	TxIDs []types.TxID `json:"tx_ids"`
}

// MissingTransactionsResponse returns the requested transaction bodies,
// best-effort (a requester re-requests anything still absent).
type MissingTransactionsResponse struct {
	Transactions []*types.Transaction `json:"transactions"`
}

// SyncRequest asks a peer for blocks after a known height on a given
// (epoch, shard_group) chain, used for catch-up after a restart or
// prolonged partition.
type SyncRequest struct {
	Epoch        types.Epoch      `json:"epoch"`
	ShardGroup   types.ShardGroup `json:"shard_group"`
	FromHeight   types.Height     `json:"from_height"`
	MaxBlocks    int              `json:"max_blocks"`
}

// SyncResponse returns a contiguous run of blocks starting at
// SyncRequest.FromHeight + 1.
type SyncResponse struct {
	Blocks []*types.Block `json:"blocks"`
}
