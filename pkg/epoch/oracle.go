// Copyright 2025 Certen Protocol
//
// Epoch/committee oracle boundary interface.
//
// The consensus core never computes committee membership itself; it
// consumes this read-only interface. L1 scanning (external to this
// module) is responsible for keeping the underlying validator_nodes
// table current.

package epoch

import (
	"context"
	"fmt"

	"github.com/certen-shard/validator-core/pkg/types"
)

// Role is this node's relationship to a given (epoch, shard_group).
type Role string

const (
	RoleCommitteeMember Role = "committee_member"
	RoleObserver         Role = "observer"
	RoleNone             Role = "none"
)

// Committee is the resolved membership of one (epoch, shard_group).
type Committee struct {
	Epoch         types.Epoch
	ShardGroup    types.ShardGroup
	Members       []types.PublicKey
	QuorumThreshold int // minimum signer count for a valid QC
}

// Contains reports whether pk sits in the committee.
func (c *Committee) Contains(pk types.PublicKey) bool {
	for _, m := range c.Members {
		if m == pk {
			return true
		}
	}
	return false
}

// Oracle is the read-only boundary interface consumed by the consensus
// engine, the transaction pool, and the cross-shard coordinator. It is
// never written to from within this module.
type Oracle interface {
	// Committee returns the committee for (epoch, shardGroup).
	Committee(ctx context.Context, e types.Epoch, group types.ShardGroup) (*Committee, error)

	// ExpectedLeader returns the public key expected to propose at the
	// given height within (epoch, shardGroup).
	ExpectedLeader(ctx context.Context, e types.Epoch, group types.ShardGroup, height types.Height) (types.PublicKey, error)

	// RoleOf returns this node's role for (epoch, shardGroup).
	RoleOf(ctx context.Context, e types.Epoch, group types.ShardGroup, self types.PublicKey) (Role, error)

	// CurrentEpoch returns the epoch the oracle currently considers active.
	CurrentEpoch(ctx context.Context) (types.Epoch, error)
}

// ErrUnknownEpoch is returned when an oracle has no committee data for a
// requested epoch (it has ended, or has not started yet).
type ErrUnknownEpoch struct {
	Epoch types.Epoch
	Group types.ShardGroup
}

func (e *ErrUnknownEpoch) Error() string {
	return fmt.Sprintf("epoch: no committee for epoch %d shard group %d", e.Epoch, e.Group)
}
