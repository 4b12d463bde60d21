// Copyright 2025 Certen Protocol

package ledger

import (
	"errors"
	"testing"

	"github.com/certen-shard/validator-core/pkg/types"
)

type fakeKV struct{ m map[string][]byte }

func newFakeKV() *fakeKV { return &fakeKV{m: make(map[string][]byte)} }

func (f *fakeKV) Get(key []byte) ([]byte, error) { return f.m[string(key)], nil }
func (f *fakeKV) Set(key, value []byte) error {
	f.m[string(key)] = value
	return nil
}

func TestHighQCGetSetRoundTrip(t *testing.T) {
	s := NewStore(newFakeKV())
	qc := &types.QuorumCertificate{HeaderHash: hashByte(1), Height: 3, Epoch: 1}

	if err := s.SetHighQC(1, qc); err != nil {
		t.Fatalf("SetHighQC: %v", err)
	}
	got, err := s.GetHighQC(1)
	if err != nil {
		t.Fatalf("GetHighQC: %v", err)
	}
	if got.HeaderHash != qc.HeaderHash || got.Height != qc.Height {
		t.Fatalf("GetHighQC = %+v, want %+v", got, qc)
	}
}

func TestHighQCIsIsolatedPerEpoch(t *testing.T) {
	s := NewStore(newFakeKV())
	qc1 := &types.QuorumCertificate{HeaderHash: hashByte(1), Height: 1, Epoch: 1}
	if err := s.SetHighQC(1, qc1); err != nil {
		t.Fatalf("SetHighQC: %v", err)
	}

	if _, err := s.GetHighQC(2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a different epoch, got %v", err)
	}
}

func TestGetLockedBlockNotFoundBeforeAnySet(t *testing.T) {
	s := NewStore(newFakeKV())
	if _, err := s.GetLockedBlock(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func hashByte(b byte) types.Hash32 {
	var h types.Hash32
	h[31] = b
	return h
}
