package consensus

import (
	"fmt"

	"github.com/bludnic/lisk-sdk/internal/chain"
)

// StateEvent is one entry of the event list an applied block produces.
// Shape is intentionally opaque — module-specific event schemas are an
// external, per-asset concern; the state machine only needs to collect and
// return them.
type StateEvent struct {
	Module string
	Name   string
	Data   []byte
}

// StateSnapshot is a mutable, discardable view over the state store taken
// before executing a candidate block. Get/Set operate on "module:key" state
// entries.
type StateSnapshot interface {
	Get(module, key string) ([]byte, bool)
	Set(module, key string, value []byte)
	// Root computes the state root implied by the snapshot's current contents.
	Root() [32]byte
	// Diff returns the reverse diff needed to undo everything written since
	// the snapshot was taken.
	Diff() chain.StateDiff
}

// StateStore is the snapshot-capable backing store a StateMachine executes
// blocks against.
type StateStore interface {
	Snapshot() StateSnapshot
	// Commit makes a snapshot's writes visible to future Snapshot() calls.
	Commit(StateSnapshot) error
}

// TransactionExecutor is the external, per-module-asset state transition
// logic (transfers, votes, multisignature, delegate registration, ...). The
// state machine only needs to: check the transaction's signature and nonce,
// dispatch by (moduleID, assetID), and apply it to the snapshot.
type TransactionExecutor interface {
	VerifySignature(tx chain.Transaction) error
	VerifyNonce(tx chain.Transaction, snap StateSnapshot) error
	ApplyAsset(tx chain.Transaction, snap StateSnapshot) ([]StateEvent, error)
}

// Hooks are the pre/post-block lifecycle callbacks. Both are optional (nil
// means no-op) — most modules only need one or the other.
type Hooks struct {
	PreBlock  func(b *chain.Block, snap StateSnapshot) error
	PostBlock func(b *chain.Block, snap StateSnapshot) ([]StateEvent, error)
}

// ExecutionResult is what a successful StateMachine.Execute produces: the
// new state root, the event list, and the state diff to persist for later
// reversal.
type ExecutionResult struct {
	StateRoot [32]byte
	Events    []StateEvent
	Diff      chain.StateDiff
}

// ErrTransactionFailed wraps the transaction index and underlying cause of
// an aborted block execution: any transaction error fails the whole block
// and discards the snapshot.
type ErrTransactionFailed struct {
	Index int
	Err   error
}

func (e *ErrTransactionFailed) Error() string {
	return fmt.Sprintf("consensus: transaction %d failed: %v", e.Index, e.Err)
}

func (e *ErrTransactionFailed) Unwrap() error { return e.Err }

// StateMachine deterministically applies a Block to a StateStore snapshot,
// running pre-block hook, per-transaction checks and dispatch, then
// post-block hook.
type StateMachine struct {
	store    StateStore
	executor TransactionExecutor
	hooks    Hooks
}

// NewStateMachine constructs a StateMachine around an injected store,
// transaction executor, and optional lifecycle hooks.
func NewStateMachine(store StateStore, executor TransactionExecutor, hooks Hooks) *StateMachine {
	return &StateMachine{store: store, executor: executor, hooks: hooks}
}

// Execute runs the full block-application algorithm against a fresh
// snapshot and returns the result without committing it — the caller
// (Processor.ExecuteValidated) decides whether to commit.
func (m *StateMachine) Execute(b *chain.Block) (StateSnapshot, ExecutionResult, error) {
	snap := m.store.Snapshot()
	var events []StateEvent

	if m.hooks.PreBlock != nil {
		if err := m.hooks.PreBlock(b, snap); err != nil {
			return nil, ExecutionResult{}, fmt.Errorf("consensus: pre-block hook: %w", err)
		}
	}

	for i, tx := range b.Transactions {
		if err := m.executor.VerifySignature(tx); err != nil {
			return nil, ExecutionResult{}, &ErrTransactionFailed{Index: i, Err: err}
		}
		if err := m.executor.VerifyNonce(tx, snap); err != nil {
			return nil, ExecutionResult{}, &ErrTransactionFailed{Index: i, Err: err}
		}
		evs, err := m.executor.ApplyAsset(tx, snap)
		if err != nil {
			return nil, ExecutionResult{}, &ErrTransactionFailed{Index: i, Err: err}
		}
		events = append(events, evs...)
	}

	if m.hooks.PostBlock != nil {
		evs, err := m.hooks.PostBlock(b, snap)
		if err != nil {
			return nil, ExecutionResult{}, fmt.Errorf("consensus: post-block hook: %w", err)
		}
		events = append(events, evs...)
	}

	return snap, ExecutionResult{StateRoot: snap.Root(), Events: events, Diff: snap.Diff()}, nil
}
