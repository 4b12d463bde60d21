// Copyright 2025 Certen Protocol
//
// StaticOracle is a config-driven Oracle for single-epoch test networks
// and local development: committee membership is fixed at construction
// time rather than tracked from L1 validator_nodes scanning.

package epoch

import (
	"context"

	"github.com/certen-shard/validator-core/pkg/types"
)

// StaticOracle implements Oracle over a fixed set of committees keyed
// by (epoch, shard_group). Leader rotation is round-robin by height.
type StaticOracle struct {
	epoch      types.Epoch
	committees map[types.ShardGroup]*Committee
}

// NewStaticOracle builds a StaticOracle for the given active epoch and
// per-shard-group committees.
func NewStaticOracle(activeEpoch types.Epoch, committees map[types.ShardGroup]*Committee) *StaticOracle {
	return &StaticOracle{epoch: activeEpoch, committees: committees}
}

func (o *StaticOracle) Committee(ctx context.Context, e types.Epoch, group types.ShardGroup) (*Committee, error) {
	if e != o.epoch {
		return nil, &ErrUnknownEpoch{Epoch: e, Group: group}
	}
	c, ok := o.committees[group]
	if !ok {
		return nil, &ErrUnknownEpoch{Epoch: e, Group: group}
	}
	return c, nil
}

func (o *StaticOracle) ExpectedLeader(ctx context.Context, e types.Epoch, group types.ShardGroup, height types.Height) (types.PublicKey, error) {
	c, err := o.Committee(ctx, e, group)
	if err != nil {
		return types.ZeroHash32, err
	}
	if len(c.Members) == 0 {
		return types.ZeroHash32, &ErrUnknownEpoch{Epoch: e, Group: group}
	}
	idx := int(uint64(height) % uint64(len(c.Members)))
	return c.Members[idx], nil
}

func (o *StaticOracle) RoleOf(ctx context.Context, e types.Epoch, group types.ShardGroup, self types.PublicKey) (Role, error) {
	c, err := o.Committee(ctx, e, group)
	if err != nil {
		return RoleNone, err
	}
	if c.Contains(self) {
		return RoleCommitteeMember, nil
	}
	return RoleObserver, nil
}

func (o *StaticOracle) CurrentEpoch(ctx context.Context) (types.Epoch, error) {
	return o.epoch, nil
}
