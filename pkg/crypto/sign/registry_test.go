// Copyright 2025 Certen Protocol

package sign

import (
	"context"
	"testing"

	"github.com/certen-shard/validator-core/pkg/types"
)

type fakeStrategy struct{ scheme Scheme }

func (f *fakeStrategy) Scheme() Scheme              { return f.scheme }
func (f *fakeStrategy) PublicKey() types.PublicKey   { return types.ZeroHash32 }
func (f *fakeStrategy) Sign(ctx context.Context, messageHash types.Hash32) ([]byte, error) {
	return nil, nil
}
func (f *fakeStrategy) Verify(ctx context.Context, pub types.PublicKey, messageHash types.Hash32, signature []byte) (bool, error) {
	return true, nil
}
func (f *fakeStrategy) Aggregate(ctx context.Context, committee []types.PublicKey, signers []*VoteSignature) ([]byte, []byte, error) {
	return nil, nil, nil
}
func (f *fakeStrategy) VerifyAggregate(ctx context.Context, committee []types.PublicKey, messageHash types.Hash32, aggSig []byte, bitmap []byte) (bool, error) {
	return true, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	s := &fakeStrategy{scheme: SchemeBLS12381}
	if err := r.Register(s); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.Get(SchemeBLS12381)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != s {
		t.Fatalf("Get returned a different strategy than registered")
	}
}

func TestRegistryRejectsDuplicateScheme(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeStrategy{scheme: SchemeBLS12381})
	if err := r.Register(&fakeStrategy{scheme: SchemeBLS12381}); err == nil {
		t.Fatalf("expected error re-registering an existing scheme")
	}
}

func TestRegistryRejectsInvalidScheme(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeStrategy{scheme: Scheme("unknown")}); err == nil {
		t.Fatalf("expected error registering an invalid scheme")
	}
}

func TestRegistryGetUnregisteredSchemeFails(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get(SchemeEd25519); err == nil {
		t.Fatalf("expected error looking up an unregistered scheme")
	}
}
