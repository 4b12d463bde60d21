// Copyright 2025 Certen Protocol
//
// Hashing primitives for block headers, commands, and substate
// addresses.

package hash

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen-shard/validator-core/pkg/types"
)

// Keccak256 hashes the concatenation of data using go-ethereum's
// Keccak256, the hash function shared with Hash32's underlying
// common.Hash representation.
func Keccak256(data ...[]byte) types.Hash32 {
	return types.HashFromBytes(crypto.Keccak256(data...))
}

// SubstateAddress computes address = H(substate_id, version), the
// content address of a specific substate version.
func SubstateAddress(substateID types.SubstateID, version types.Version) types.Hash32 {
	var vb [8]byte
	binary.BigEndian.PutUint64(vb[:], uint64(version))
	return Keccak256(substateID.Bytes(), vb[:])
}

// CommandMerkleLeaf hashes one command's canonical encoding for
// inclusion in a block's CommandMerkleRoot.
func CommandMerkleLeaf(encoded []byte) types.Hash32 {
	return Keccak256(encoded)
}
