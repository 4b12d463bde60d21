// Copyright 2025 Certen Protocol
//
// BLS12-381 backed Strategy. types.PublicKey is a 32-byte identifier
// (H(raw BLS public key)), not the raw 96-byte G2 point -- a KeyDirectory
// resolves identifiers to the raw key material needed for aggregation
// and verification, the same indirection key_manager.go uses for its
// Ethereum-style GetAddress().

package sign

import (
	"context"
	"fmt"

	"github.com/certen-shard/validator-core/pkg/crypto/bls"
	"github.com/certen-shard/validator-core/pkg/types"
)

// KeyDirectory resolves a committee member's identifier to their raw
// BLS public key bytes. Backed by the epoch oracle's validator_nodes
// view in production; a static map in tests.
type KeyDirectory interface {
	Lookup(ctx context.Context, id types.PublicKey) (*bls.PublicKey, error)
}

// IdentifierForBLSKey computes the types.PublicKey identifier for a raw
// BLS public key, matching key_manager.go's GetAddress derivation but
// keeping the full 32-byte digest instead of truncating to 20.
func IdentifierForBLSKey(pub *bls.PublicKey) types.PublicKey {
	return types.HashFromBytes(bls.ComputeMessageHash("", pub.Bytes())[:])
}

// BLSStrategy implements Strategy over gnark-crypto BLS12-381.
type BLSStrategy struct {
	self *bls.KeyManager
	dir  KeyDirectory
}

// NewBLSStrategy constructs a BLSStrategy signing with self's key and
// resolving other committee members' keys through dir.
func NewBLSStrategy(self *bls.KeyManager, dir KeyDirectory) *BLSStrategy {
	return &BLSStrategy{self: self, dir: dir}
}

func (s *BLSStrategy) Scheme() Scheme { return SchemeBLS12381 }

func (s *BLSStrategy) PublicKey() types.PublicKey {
	return IdentifierForBLSKey(s.self.GetPublicKey())
}

func (s *BLSStrategy) Sign(ctx context.Context, messageHash types.Hash32) ([]byte, error) {
	sig, err := s.self.SignWithDomain(messageHash.Bytes(), bls.DomainVote)
	if err != nil {
		return nil, fmt.Errorf("sign: bls sign: %w", err)
	}
	return sig.Bytes(), nil
}

func (s *BLSStrategy) Verify(ctx context.Context, pub types.PublicKey, messageHash types.Hash32, signature []byte) (bool, error) {
	rawPub, err := s.dir.Lookup(ctx, pub)
	if err != nil {
		return false, fmt.Errorf("sign: resolve public key: %w", err)
	}
	sig, err := bls.SignatureFromBytes(signature)
	if err != nil {
		return false, fmt.Errorf("sign: parse signature: %w", err)
	}
	return rawPub.VerifyWithDomain(sig, messageHash.Bytes(), bls.DomainVote), nil
}

func (s *BLSStrategy) Aggregate(ctx context.Context, committee []types.PublicKey, signers []*VoteSignature) ([]byte, []byte, error) {
	if len(signers) != len(committee) {
		return nil, nil, fmt.Errorf("sign: signers slice must be indexed by committee position")
	}

	byVoter := make(map[types.PublicKey]*VoteSignature, len(signers))
	for _, vs := range signers {
		if vs != nil {
			byVoter[vs.Voter] = vs
		}
	}

	bitmap := make([]byte, (len(committee)+7)/8)
	var sigs []*bls.Signature
	for i, member := range committee {
		vs, signed := byVoter[member]
		if !signed {
			continue
		}
		sig, err := bls.SignatureFromBytes(vs.Signature)
		if err != nil {
			return nil, nil, fmt.Errorf("sign: parse signature for committee index %d: %w", i, err)
		}
		sigs = append(sigs, sig)
		bitmap[i/8] |= 1 << uint(i%8)
	}

	if len(sigs) == 0 {
		return nil, nil, fmt.Errorf("sign: no signatures to aggregate")
	}

	agg, err := bls.AggregateSignatures(sigs)
	if err != nil {
		return nil, nil, fmt.Errorf("sign: aggregate: %w", err)
	}
	return agg.Bytes(), bitmap, nil
}

func (s *BLSStrategy) VerifyAggregate(ctx context.Context, committee []types.PublicKey, messageHash types.Hash32, aggSig []byte, bitmap []byte) (bool, error) {
	sig, err := bls.SignatureFromBytes(aggSig)
	if err != nil {
		return false, fmt.Errorf("sign: parse aggregate signature: %w", err)
	}

	var pubs []*bls.PublicKey
	for i, member := range committee {
		if bitmap[i/8]&(1<<uint(i%8)) == 0 {
			continue
		}
		raw, err := s.dir.Lookup(ctx, member)
		if err != nil {
			return false, fmt.Errorf("sign: resolve committee index %d: %w", i, err)
		}
		pubs = append(pubs, raw)
	}
	if len(pubs) == 0 {
		return false, fmt.Errorf("sign: empty signer bitmap")
	}

	aggPub, err := bls.AggregatePublicKeys(pubs)
	if err != nil {
		return false, fmt.Errorf("sign: aggregate public keys: %w", err)
	}
	return aggPub.VerifyWithDomain(sig, messageHash.Bytes(), bls.DomainVote), nil
}
