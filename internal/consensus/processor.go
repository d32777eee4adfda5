package consensus

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/bludnic/lisk-sdk/internal/bft"
	"github.com/bludnic/lisk-sdk/internal/chain"
	"github.com/bludnic/lisk-sdk/internal/crypto"
)

// Broadcaster hands a freshly executed block to the network layer. Errors
// here are logged, never rolled back.
type Broadcaster interface {
	Broadcast(b *chain.Block) error
}

// GeneratorKeySource resolves the EdDSA public key a header's Signature must
// verify against: the active generator for (height, generatorAddress).
type GeneratorKeySource interface {
	GeneratorKey(height uint32, addr [20]byte) (ed25519.PublicKey, bool)
}

// NodeInfoApplier refreshes a peer's known height and maxHeightPrevoted
// after a block attributed to it has been successfully applied.
type NodeInfoApplier interface {
	ApplyNodeInfo(peerID string, height, maxHeightPrevoted uint32)
}

// ExecuteOptions tunes ExecuteValidated's side effects for the synchronizer
// mechanisms, which need to replay blocks without re-broadcasting them or
// without touching the temp table. SourcePeerID, when set, identifies the
// peer the block came from, so a successful apply can refresh that peer's
// known status; it is left empty for locally-forged blocks.
type ExecuteOptions struct {
	SkipBroadcast       bool
	RemoveFromTempTable bool
	SourcePeerID        string
}

// Processor handles verification and application of a single candidate
// block, including the TIE_BREAK swap-and-restore path. Every method
// assumes the caller (Coordinator) already holds the single consensus
// mutex — Processor has no locking of its own.
type Processor struct {
	chain       *chain.Chain
	sm          *StateMachine
	heights     *bft.Heights
	commitPool  *bft.CommitPool
	events      *EventEmitter
	broadcaster Broadcaster
	keys        GeneratorKeySource
	oracle      SlotOracle
	networkID   []byte
	sync        SyncCoordinator
	nodeInfo    NodeInfoApplier
}

// NewProcessor wires a Processor from its collaborators.
func NewProcessor(ch *chain.Chain, sm *StateMachine, heights *bft.Heights, pool *bft.CommitPool, events *EventEmitter, bc Broadcaster, keys GeneratorKeySource, oracle SlotOracle, networkID []byte) *Processor {
	return &Processor{
		chain: ch, sm: sm, heights: heights, commitPool: pool,
		events: events, broadcaster: bc, keys: keys, oracle: oracle, networkID: networkID,
	}
}

// Verify performs the structural and cryptographic checks on a candidate
// block: well-formed version, generator signature, and a transaction root
// consistent with the carried transaction list. It never touches the chain
// or the state store.
func (p *Processor) Verify(b *chain.Block) error {
	if b.Header.Version != 1 {
		return fmt.Errorf("%w: got version %d", ErrWrongVersion, b.Header.Version)
	}
	pub, ok := p.keys.GeneratorKey(b.Header.Height, b.Header.GeneratorAddress)
	if !ok {
		return fmt.Errorf("%w: unknown generator for height %d", ErrVerifyFailed, b.Header.Height)
	}
	if err := crypto.VerifyHeaderSignature(pub, b.Header.SignedBytes(), b.Header.Signature); err != nil {
		return fmt.Errorf("%w: signature: %v", ErrVerifyFailed, err)
	}
	if got, want := chain.TransactionRoot(b.Transactions), b.Header.TransactionRoot; got != want {
		return fmt.Errorf("%w: transaction root mismatch", ErrVerifyFailed)
	}
	return nil
}

// ExecuteValidated applies an already-Verify'd block: state machine
// execution, aggregate commit validation, persistence, and broadcast. A
// failure during execution, commit validation, or persistence aborts with
// no side effects — the snapshot is simply discarded and nothing is written
// to the chain. A broadcast failure is returned to the caller for logging
// but the block remains committed.
func (p *Processor) ExecuteValidated(b *chain.Block, opts ExecuteOptions) error {
	snap, result, err := p.sm.Execute(b)
	if err != nil {
		return fmt.Errorf("consensus: state machine: %w", err)
	}
	if result.StateRoot != b.Header.StateRoot {
		return fmt.Errorf("%w: state root mismatch", ErrVerifyFailed)
	}

	var certified uint32
	if b.Header.AggregateCommit != nil && len(b.Header.AggregateCommit.AggregationBits) > 0 {
		agg := bft.AggregateCommit{
			Height:               b.Header.AggregateCommit.Height,
			AggregationBits:      b.Header.AggregateCommit.AggregationBits,
			CertificateSignature: b.Header.AggregateCommit.CertificateSignature,
		}
		if err := p.commitPool.VerifyAggregateCommit(agg); err != nil {
			return fmt.Errorf("consensus: aggregate commit: %w", err)
		}
		certified = agg.Height
	}

	finalizedHeight, err := p.chain.FinalizedHeight()
	if err != nil {
		return err
	}
	if cert := p.heights.MaxHeightCertified(); cert > finalizedHeight {
		finalizedHeight = cert
	}
	if certified > finalizedHeight {
		finalizedHeight = certified
	}

	if err := p.chain.SaveBlock(b, result.Diff, finalizedHeight); err != nil {
		return fmt.Errorf("consensus: save: %w", err)
	}
	if err := p.sm.store.Commit(snap); err != nil {
		return fmt.Errorf("consensus: state commit: %w", err)
	}
	p.heights.AdvanceCertified(certified)

	p.heights.AdvancePrevoted(b.Header.MaxHeightPrevoted)

	if opts.RemoveFromTempTable {
		_ = p.chain.ClearTempBlock(b.Header.Height)
	}

	p.events.Emit(Event{Type: EventBlockNew, Block: b})

	if opts.SourcePeerID != "" && p.nodeInfo != nil {
		p.nodeInfo.ApplyNodeInfo(opts.SourcePeerID, b.Header.Height, b.Header.MaxHeightPrevoted)
	}

	if !opts.SkipBroadcast {
		if err := p.broadcaster.Broadcast(b); err != nil {
			// Logged by the caller, never rolled back.
			return fmt.Errorf("consensus: broadcast (non-fatal): %w", err)
		}
		p.events.Emit(Event{Type: EventBlockBroadcast, Block: b})
	}
	return nil
}

// Execute is the VALID_BLOCK path: verify then apply, broadcasting on
// success. Caller must already hold the coordinator mutex.
func (p *Processor) Execute(b *chain.Block) error {
	if err := p.Verify(b); err != nil {
		return err
	}
	return p.ExecuteValidated(b, ExecuteOptions{})
}

// DeleteLastBlock removes the chain tip, optionally preserving it in the
// temp table, and emits EventBlockDelete.
func (p *Processor) DeleteLastBlock(saveTempBlock bool) (*chain.Block, error) {
	b, err := p.chain.DeleteLastBlock(saveTempBlock)
	if err != nil {
		return nil, err
	}
	p.events.Emit(Event{Type: EventBlockDelete, Block: b})
	return b, nil
}

// OnBlockReceive decodes the wire envelope, classifies the carried block
// against the current tip via the fork-choice rule, and dispatches.
// Malformed envelopes are peer misbehavior. DISCARD is silent.
// DOUBLE_FORGING only emits EventForkDetected — the punitive response is
// left to an external evidence-collection module.
func (p *Processor) OnBlockReceive(data []byte, peerID string, receivedAt time.Time) error {
	b, err := chain.DecodeBlock(data)
	if err != nil {
		return NewApplyPenalty("malformed block envelope", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err))
	}

	tip, err := p.chain.GetLastBlock()
	if err != nil {
		return fmt.Errorf("consensus: cannot classify without a tip: %w", err)
	}
	tipMeta := TipMeta{Header: tip.Header, ReceivedAt: receivedAt}

	switch Classify(&b.Header, tipMeta, p.oracle) {
	case StatusIdenticalBlock, StatusDiscard:
		return nil

	case StatusDoubleForging:
		p.events.Emit(Event{Type: EventForkDetected, Block: b})
		return nil

	case StatusTieBreak:
		return p.tieBreakSwap(b, tip, peerID)

	case StatusDifferentChain:
		// The block itself is not applied here; it is evidence the sender's
		// chain is ahead, so synchronization is kicked off against it.
		if p.sync != nil {
			p.sync.RequestSync(peerID, b.Header.Height, b.Header.MaxHeightPrevoted)
		}
		return nil

	case StatusValidBlock:
		if err := p.Verify(b); err != nil {
			return fmt.Errorf("consensus: execute: %w", err)
		}
		if err := p.ExecuteValidated(b, ExecuteOptions{SourcePeerID: peerID}); err != nil {
			return fmt.Errorf("consensus: execute: %w", err)
		}
		return nil

	default:
		return nil
	}
}

// tieBreakSwap resolves a TIE_BREAK classification: delete the current tip
// (keeping it as a temp block), try to execute the challenger; on any
// failure, restore the original tip without re-broadcasting it and surface
// the original error. No additional penalty is applied unless the
// challenger itself failed Verify — a losing tie-break is not by itself
// evidence of misbehavior.
func (p *Processor) tieBreakSwap(challenger *chain.Block, tip *chain.Block, peerID string) error {
	if err := p.Verify(challenger); err != nil {
		return NewApplyPenalty("tie-break challenger failed verification", err)
	}

	if _, err := p.DeleteLastBlock(true); err != nil {
		return fmt.Errorf("consensus: tie-break: cannot remove tip: %w", err)
	}

	if err := p.ExecuteValidated(challenger, ExecuteOptions{SourcePeerID: peerID}); err != nil {
		restored, rerr := p.chain.TempBlock(tip.Header.Height)
		if rerr != nil {
			return fmt.Errorf("%w: original error %v, restore failed: %v", ErrTieBreakSwapFailed, err, rerr)
		}
		if rerr := p.ExecuteValidated(restored, ExecuteOptions{SkipBroadcast: true}); rerr != nil {
			return fmt.Errorf("%w: original error %v, restore failed: %v", ErrTieBreakSwapFailed, err, rerr)
		}
		return fmt.Errorf("consensus: tie-break challenger rejected, tip restored: %w", err)
	}

	_ = p.chain.ClearTempBlock(tip.Header.Height)
	return nil
}
