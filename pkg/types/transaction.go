package types

// Decision is a binary outcome: local execution, remote aggregation, and
// final commit decisions all share this type.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// AbortReason enumerates why a transaction's final decision became Abort.
// FeesNotPaid and InsufficientFeesPaid are treated as synonyms and
// normalized to AbortInsufficientFeesPaid on emit.
type AbortReason string

const (
	AbortInvalidTransaction             AbortReason = "InvalidTransaction"
	AbortExecutionFailure               AbortReason = "ExecutionFailure"
	AbortOneOrMoreInputsNotFound        AbortReason = "OneOrMoreInputsNotFound"
	AbortInputLockConflict              AbortReason = "InputLockConflict"
	AbortLockInputsFailed               AbortReason = "LockInputsFailed"
	AbortLockOutputsFailed              AbortReason = "LockOutputsFailed"
	AbortLockInputsOutputsFailed        AbortReason = "LockInputsOutputsFailed"
	AbortForeignShardGroupDecidedAbort  AbortReason = "ForeignShardGroupDecidedToAbort"
	AbortForeignPledgeInputConflict     AbortReason = "ForeignPledgeInputConflict"
	AbortInsufficientFeesPaid           AbortReason = "InsufficientFeesPaid"
	AbortEarlyAbort                     AbortReason = "EarlyAbort"
	AbortTransactionAtomMustBeAbort     AbortReason = "TransactionAtomMustBeAbort"
	AbortTransactionAtomMustBeCommit    AbortReason = "TransactionAtomMustBeCommit"
)

// NormalizeAbortReason maps known synonyms onto their canonical constant.
// "FeesNotPaid" is the bindings-era alias for AbortInsufficientFeesPaid.
func NormalizeAbortReason(s string) AbortReason {
	if s == "FeesNotPaid" {
		return AbortInsufficientFeesPaid
	}
	return AbortReason(s)
}

// FinalDecision is the terminal outcome committed atomically with a
// transaction's substate diff.
type FinalDecision struct {
	Decision Decision    `json:"decision"`
	Reason   AbortReason `json:"reason,omitempty"` // set iff Decision == DecisionReject/abort
}

// Transaction is identified by tx_id, a content hash over its fee
// instructions, instructions, declared inputs, signatures and seal.
type Transaction struct {
	TxID TxID `json:"tx_id"`

	FeeInstruction []byte                `json:"fee_instruction"`
	Instructions   []byte                `json:"instructions"`
	Inputs         []SubstateRequirement `json:"inputs"`

	Signatures    [][]byte `json:"signatures"`
	SealSignature []byte   `json:"seal_signature"`

	MinEpoch *Epoch `json:"min_epoch,omitempty"`
	MaxEpoch *Epoch `json:"max_epoch,omitempty"`

	// Populated once the transaction has been executed (possibly
	// speculatively, per the block that executed it).
	ResolvedInputs  []FilledInput `json:"resolved_inputs,omitempty"`
	ResultingOutputs []FilledInput `json:"resulting_outputs,omitempty"`
	ExecutionOK     *bool         `json:"execution_ok,omitempty"`

	FinalDecision *FinalDecision `json:"final_decision,omitempty"`
}

// IsLocalOnly reports whether every declared input belongs to shard
// groups the caller already knows are local (the caller supplies the
// membership test since shard assignment is owned by pkg/epoch).
func (t *Transaction) IsLocalOnly(isLocal func(SubstateID) bool) bool {
	for _, in := range t.Inputs {
		if !isLocal(in.SubstateID) {
			return false
		}
	}
	return true
}
