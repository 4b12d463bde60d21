package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/certen-shard/validator-core/pkg/types"
)

// KV defines the key-value store interface this package is built on.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// Store provides fast, crash-safe access to the consensus engine's
// safety singletons: HighQC, LeafBlock, LockedBlock, LastVoted,
// LastExecuted, LastProposed, and LastSentVote.
//
// CONCURRENCY: Store assumes single-writer access and is designed to be
// called from the consensus task only. Each singleton is append-only in
// the backing Postgres tables
// (see pkg/database); this KV-backed facade caches only the active
// (most recently written) row per epoch for low-latency reads on the
// hot consensus path.
type Store struct {
	kv KV
}

// NewStore creates a new singleton Store over kv.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// ====== KV Key Layout ======

var (
	keyHighQCPrefix       = []byte("ledger:high_qc:")
	keyLeafBlockPrefix    = []byte("ledger:leaf_block:")
	keyLockedBlockPrefix  = []byte("ledger:locked_block:")
	keyLastVotedPrefix    = []byte("ledger:last_voted:")
	keyLastExecutedPrefix = []byte("ledger:last_executed:")
	keyLastProposedPrefix = []byte("ledger:last_proposed:")
	keyLastSentVotePrefix = []byte("ledger:last_sent_vote:")
)

func epochKey(prefix []byte, e types.Epoch) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(e))
	return append(append([]byte{}, prefix...), b...)
}

func get(kv KV, key []byte, out interface{}) error {
	b, err := kv.Get(key)
	if err != nil {
		return fmt.Errorf("ledger: get %s: %w", key, err)
	}
	if len(b) == 0 {
		return ErrNotFound
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("ledger: unmarshal %s: %w", key, err)
	}
	return nil
}

func set(kv KV, key []byte, in interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("ledger: marshal %s: %w", key, err)
	}
	if err := kv.Set(key, b); err != nil {
		return fmt.Errorf("ledger: set %s: %w", key, err)
	}
	return nil
}

// ====== HighQC ======

// GetHighQC returns the highest quorum certificate this node has seen
// for the given epoch.
func (s *Store) GetHighQC(e types.Epoch) (*types.QuorumCertificate, error) {
	var qc types.QuorumCertificate
	if err := get(s.kv, epochKey(keyHighQCPrefix, e), &qc); err != nil {
		return nil, err
	}
	return &qc, nil
}

// SetHighQC updates the HighQC singleton. Callers must only call this
// with a QC whose height exceeds the current HighQC's height.
func (s *Store) SetHighQC(e types.Epoch, qc *types.QuorumCertificate) error {
	return set(s.kv, epochKey(keyHighQCPrefix, e), qc)
}

// ====== LeafBlock ======

// GetLeafBlock returns the tip of the local chain for the given epoch.
func (s *Store) GetLeafBlock(e types.Epoch) (*types.BlockRef, error) {
	var ref types.BlockRef
	if err := get(s.kv, epochKey(keyLeafBlockPrefix, e), &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// SetLeafBlock updates the leaf block singleton.
func (s *Store) SetLeafBlock(e types.Epoch, ref *types.BlockRef) error {
	return set(s.kv, epochKey(keyLeafBlockPrefix, e), ref)
}

// ====== LockedBlock ======

// GetLockedBlock returns the block the safety rule currently prevents
// this node from voting against.
func (s *Store) GetLockedBlock(e types.Epoch) (*types.BlockRef, error) {
	var ref types.BlockRef
	if err := get(s.kv, epochKey(keyLockedBlockPrefix, e), &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// SetLockedBlock updates the locked block singleton.
func (s *Store) SetLockedBlock(e types.Epoch, ref *types.BlockRef) error {
	return set(s.kv, epochKey(keyLockedBlockPrefix, e), ref)
}

// ====== LastVoted ======

// GetLastVoted returns the highest block this node has voted for.
func (s *Store) GetLastVoted(e types.Epoch) (*LastVoted, error) {
	var v LastVoted
	if err := get(s.kv, epochKey(keyLastVotedPrefix, e), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// SetLastVoted updates the last-voted singleton.
func (s *Store) SetLastVoted(e types.Epoch, v *LastVoted) error {
	return set(s.kv, epochKey(keyLastVotedPrefix, e), v)
}

// ====== LastExecuted ======

// GetLastExecuted returns the highest block this node has executed.
func (s *Store) GetLastExecuted(e types.Epoch) (*LastExecuted, error) {
	var v LastExecuted
	if err := get(s.kv, epochKey(keyLastExecutedPrefix, e), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// SetLastExecuted updates the last-executed singleton.
func (s *Store) SetLastExecuted(e types.Epoch, v *LastExecuted) error {
	return set(s.kv, epochKey(keyLastExecutedPrefix, e), v)
}

// ====== LastProposed ======

// GetLastProposed returns the last block this node proposed as leader.
func (s *Store) GetLastProposed(e types.Epoch) (*LastProposed, error) {
	var v LastProposed
	if err := get(s.kv, epochKey(keyLastProposedPrefix, e), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// SetLastProposed updates the last-proposed singleton.
func (s *Store) SetLastProposed(e types.Epoch, v *LastProposed) error {
	return set(s.kv, epochKey(keyLastProposedPrefix, e), v)
}

// ====== LastSentVote ======

// GetLastSentVote returns the last vote this node sent, used to enforce
// at-most-once voting per (block_id, voter) across restarts.
func (s *Store) GetLastSentVote(e types.Epoch) (*LastSentVote, error) {
	var v LastSentVote
	if err := get(s.kv, epochKey(keyLastSentVotePrefix, e), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// SetLastSentVote updates the last-sent-vote singleton. Must be
// committed in the same transaction as the vote send, never after.
func (s *Store) SetLastSentVote(e types.Epoch, v *LastSentVote) error {
	return set(s.kv, epochKey(keyLastSentVotePrefix, e), v)
}
