package ledger

import "github.com/certen-shard/validator-core/pkg/types"

// LastSentVote records the last vote this node cast, enforced across
// restarts so a node never double-votes for (block_id, voter).
type LastSentVote struct {
	Epoch   types.Epoch `json:"epoch"`
	BlockID types.BlockID `json:"block_id"`
	Height  types.Height  `json:"height"`
	Decision types.Decision `json:"decision"`
}

// LastProposed records the last block this node proposed as leader.
type LastProposed struct {
	Epoch   types.Epoch   `json:"epoch"`
	BlockID types.BlockID `json:"block_id"`
	Height  types.Height  `json:"height"`
}

// LastVoted records the highest block this node has voted for, used by
// the safety rule to refuse a vote for a lower or equal height in the
// same epoch.
type LastVoted struct {
	Epoch   types.Epoch   `json:"epoch"`
	BlockID types.BlockID `json:"block_id"`
	Height  types.Height  `json:"height"`
}

// LastExecuted records the highest block this node has applied a diff
// for -- separate from LastVoted because speculative execution may run
// ahead of or behind vote casting.
type LastExecuted struct {
	Epoch   types.Epoch   `json:"epoch"`
	BlockID types.BlockID `json:"block_id"`
	Height  types.Height  `json:"height"`
}
