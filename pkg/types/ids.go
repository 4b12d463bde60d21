// Copyright 2025 Certen Protocol
//
// Package types holds the shared domain model for the consensus-and-state
// core: substates, transactions, blocks, commands, quorum certificates,
// evidence, and the transaction pool entry. These types are pure data --
// the packages in pkg/consensus, pkg/pool, pkg/substate, pkg/blockstore
// and pkg/crossshard operate on them but own no fields of their own.
package types

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Hash32 is the common 32-byte content-addressed identifier shape used for
// every ID in this package (substate_id, tx_id, block_id, qc_id, address).
// It is a named wrapper around go-ethereum's common.Hash so every ID kind
// stays its own Go type while reusing a battle-tested hex/JSON codec.
type Hash32 common.Hash

// ZeroHash32 is the empty/unset sentinel for any Hash32-derived ID.
var ZeroHash32 Hash32

func (h Hash32) String() string { return common.Hash(h).Hex() }

// Hex returns the lowercase 0x-prefixed hex encoding.
func (h Hash32) Hex() string { return common.Hash(h).Hex() }

// Bytes returns a copy of the underlying 32 bytes.
func (h Hash32) Bytes() []byte { return common.Hash(h).Bytes() }

// IsZero reports whether h is the zero value.
func (h Hash32) IsZero() bool { return h == ZeroHash32 }

// MarshalJSON renders the hash as a hex string.
func (h Hash32) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", h.Hex())), nil
}

// UnmarshalJSON parses a hex string (with or without 0x prefix) into h.
func (h *Hash32) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		*h = ZeroHash32
		return nil
	}
	trimmed := s
	if len(trimmed) >= 2 && trimmed[0:2] == "0x" {
		trimmed = trimmed[2:]
	}
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return fmt.Errorf("types: invalid Hash32 %q: %w", s, err)
	}
	var out Hash32
	copy(out[32-len(b):], b)
	*h = out
	return nil
}

// HashFromBytes converts b into a Hash32: a shorter b is left-padded with
// zeros, a longer one keeps only its last 32 bytes, and a 32-byte digest
// is copied exactly.
func HashFromBytes(b []byte) Hash32 {
	return Hash32(common.BytesToHash(b))
}

// SubstateID identifies a substate across all of its versions.
type SubstateID = Hash32

// Address uniquely identifies one (SubstateID, Version) pair:
// address = H(substate_id, version). Unique across all versions ever created.
type Address = Hash32

// TxID is the content hash of a transaction.
type TxID = Hash32

// BlockID is the content hash of a block header.
type BlockID = Hash32

// QCID is the content hash of a quorum certificate's contents.
type QCID = Hash32

// PublicKey identifies a validator/committee member.
type PublicKey = Hash32

// Version is a monotonically increasing substate generation counter.
type Version uint64

// Epoch identifies an epoch boundary owned by the epoch/committee oracle.
type Epoch uint64

// ShardGroup identifies a contiguous range of the substate address space
// assigned to a committee for an epoch.
type ShardGroup uint32

// Height is a block height within a single (epoch, shard_group) chain.
type Height uint64
