// Copyright 2025 Certen Protocol
//
// Signer/Verifier abstraction for vote signatures and QC aggregation.
// Common interface over BLS12-381 (aggregating) and Ed25519
// (non-aggregating) schemes, chosen per committee at startup.

package sign

import (
	"context"

	"github.com/certen-shard/validator-core/pkg/types"
)

// Signer signs a vote's canonical message hash with this node's key.
type Signer interface {
	Scheme() Scheme
	PublicKey() types.PublicKey
	Sign(ctx context.Context, messageHash types.Hash32) ([]byte, error)
}

// Verifier checks an individual vote signature.
type Verifier interface {
	Scheme() Scheme
	Verify(ctx context.Context, pub types.PublicKey, messageHash types.Hash32, signature []byte) (bool, error)
}

// QuorumAggregator folds individual vote signatures from committee
// members into a QuorumCertificate's AggregateSignature/SignerBitmap.
type QuorumAggregator interface {
	Scheme() Scheme

	// Aggregate combines signatures from the given committee members
	// (in committee order) into an aggregate signature and bitmap.
	// signers[i] is nil where member i did not sign.
	Aggregate(ctx context.Context, committee []types.PublicKey, signers []*VoteSignature) (aggSig []byte, bitmap []byte, err error)

	// VerifyAggregate checks an aggregate signature against the
	// committee members selected by bitmap.
	VerifyAggregate(ctx context.Context, committee []types.PublicKey, messageHash types.Hash32, aggSig []byte, bitmap []byte) (bool, error)
}

// VoteSignature pairs a committee member's public key with their raw
// signature over a vote's message hash.
type VoteSignature struct {
	Voter     types.PublicKey
	Signature []byte
}

// Strategy bundles Signer, Verifier, and QuorumAggregator for one
// scheme -- the unit registered in the Registry.
type Strategy interface {
	Signer
	Verifier
	QuorumAggregator
}
