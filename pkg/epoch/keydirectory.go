// Copyright 2025 Certen Protocol
//
// StaticKeyDirectory implements sign.KeyDirectory over a fixed
// identifier -> raw BLS public key map, for static/test networks where
// the committee's key material is known at construction time rather than
// resolved from the oracle's L1-backed validator_nodes view.

package epoch

import (
	"context"
	"fmt"

	"github.com/certen-shard/validator-core/pkg/crypto/bls"
	"github.com/certen-shard/validator-core/pkg/crypto/sign"
	"github.com/certen-shard/validator-core/pkg/types"
)

// StaticKeyDirectory resolves identifiers against a fixed map.
type StaticKeyDirectory struct {
	keys map[types.PublicKey]*bls.PublicKey
}

// NewStaticKeyDirectory builds a StaticKeyDirectory from raw BLS public
// keys, deriving each committee member's identifier via
// sign.IdentifierForBLSKey.
func NewStaticKeyDirectory(rawKeys []*bls.PublicKey) *StaticKeyDirectory {
	keys := make(map[types.PublicKey]*bls.PublicKey, len(rawKeys))
	for _, k := range rawKeys {
		keys[sign.IdentifierForBLSKey(k)] = k
	}
	return &StaticKeyDirectory{keys: keys}
}

// Lookup resolves id to its raw BLS public key.
func (d *StaticKeyDirectory) Lookup(ctx context.Context, id types.PublicKey) (*bls.PublicKey, error) {
	k, ok := d.keys[id]
	if !ok {
		return nil, fmt.Errorf("epoch: no key registered for identifier %s", id)
	}
	return k, nil
}
