package consensus

import (
	"fmt"
	"sync"
	"time"

	"github.com/bludnic/lisk-sdk/internal/bft"
	"github.com/bludnic/lisk-sdk/internal/chain"
)

// SyncCoordinator is the capability the consensus core needs from a
// synchronizer supervisor: whether it is currently running a mechanism, and
// a way to ask it to start one against a peer whose block looked like a
// longer chain than the local tip.
type SyncCoordinator interface {
	IsActive() bool
	RequestSync(peerID string, peerHeight, peerMaxHeightPrevoted uint32)
}

// Coordinator is the top-level owner of the single consensus mutex, the
// chain handle, the processor, the commit pool and the event emitter. It is
// the only entry point synchronization mechanisms and the network endpoint
// are allowed to call into — a single-writer concurrency model.
type Coordinator struct {
	mu        sync.Mutex
	stopped   bool
	chain     *chain.Chain
	processor *Processor
	heights   *bft.Heights
	pool      *bft.CommitPool
	events    *EventEmitter
	sync      SyncCoordinator
}

// NewCoordinator assembles a Coordinator. genesis is applied idempotently:
// if the chain already has a tip, genesis is ignored.
func NewCoordinator(ch *chain.Chain, processor *Processor, heights *bft.Heights, pool *bft.CommitPool, events *EventEmitter, genesis *chain.Block) (*Coordinator, error) {
	c := &Coordinator{chain: ch, processor: processor, heights: heights, pool: pool, events: events}

	if ch.Height() < 0 {
		if genesis == nil {
			return nil, fmt.Errorf("consensus: empty chain and no genesis block provided")
		}
		if err := ch.SaveBlock(genesis, chain.StateDiff{}, genesis.Header.Height); err != nil {
			return nil, fmt.Errorf("consensus: persisting genesis: %w", err)
		}
		c.heights.AdvancePrevoted(genesis.Header.Height)
		c.heights.AdvancePrecommitted(genesis.Header.Height)
		c.heights.AdvanceCertified(genesis.Header.Height)
	}
	return c, nil
}

// Stop cooperatively halts the coordinator: it sets a flag observed by every
// entry point and waits for any in-flight call to release the mutex before
// returning.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

func (c *Coordinator) checkRunning() error {
	if c.stopped {
		return ErrCoordinatorStopped
	}
	return nil
}

// Execute applies an already-verified, locally-produced block (the
// forging/proposal path feeds this). Acquires the consensus mutex.
func (c *Coordinator) Execute(b *chain.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRunning(); err != nil {
		return err
	}
	return c.processor.Execute(b)
}

// OnBlockReceive handles an inbound block envelope from peerID. Acquires the
// consensus mutex for the full classify-and-dispatch sequence. While a
// synchronizer mechanism is already running, incoming blocks are dropped
// silently rather than classified against a tip that is about to move.
func (c *Coordinator) OnBlockReceive(data []byte, peerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRunning(); err != nil {
		return err
	}
	if c.syncing() {
		return nil
	}
	return c.processor.OnBlockReceive(data, peerID, time.Now())
}

// DeleteLastBlock removes the chain tip. Acquires the consensus mutex.
func (c *Coordinator) DeleteLastBlock(saveTempBlock bool) (*chain.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRunning(); err != nil {
		return nil, err
	}
	return c.processor.DeleteLastBlock(saveTempBlock)
}

// ExecuteValidated exposes the synchronizer's replay path (skip-broadcast,
// remove-from-temp-table) under the same mutex.
func (c *Coordinator) ExecuteValidated(b *chain.Block, opts ExecuteOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRunning(); err != nil {
		return err
	}
	if err := c.processor.Verify(b); err != nil {
		return err
	}
	return c.processor.ExecuteValidated(b, opts)
}

// Verify exposes the stateless verification step without acquiring the
// mutex, for synchronizer mechanisms that want to batch-verify before
// taking the lock to actually apply.
func (c *Coordinator) Verify(b *chain.Block) error {
	return c.processor.Verify(b)
}

// SetSyncCoordinator wires the synchronizer supervisor into the coordinator:
// Syncing() and the OnBlockReceive fast path consult it, and the processor's
// DIFFERENT_CHAIN classification calls its RequestSync. Must be set once,
// before the coordinator is exposed to concurrent callers.
func (c *Coordinator) SetSyncCoordinator(s SyncCoordinator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sync = s
	c.processor.sync = s
}

// Syncing reports whether the node believes itself behind its peers —
// delegating to the wired synchronizer supervisor's IsActive(); state
// itself lives in the supervisor, this just exposes the coordinator's view
// of it. Returns false if no supervisor has been wired.
func (c *Coordinator) Syncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncing()
}

// syncing is Syncing's lock-free core, for callers that already hold c.mu.
func (c *Coordinator) syncing() bool {
	return c.sync != nil && c.sync.IsActive()
}

// SetNodeInfoApplier wires the component that refreshes a peer's known
// status after a block attributed to it is successfully applied (the
// network endpoint's peer registry, in production wiring).
func (c *Coordinator) SetNodeInfoApplier(n NodeInfoApplier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processor.nodeInfo = n
}

// FinalizedHeight returns the chain's current finalized height.
func (c *Coordinator) FinalizedHeight() (uint32, error) {
	return c.chain.FinalizedHeight()
}

// IsSynced reports whether the local node is within one block of height/
// maxHeightPrevoted, the condition the synchronizer supervisor uses to
// decide whether synchronization can stop.
func (c *Coordinator) IsSynced(height, maxHeightPrevoted uint32) bool {
	tip, err := c.chain.GetLastBlock()
	if err != nil {
		return false
	}
	localPrevoted := c.heights.MaxHeightPrevoted()
	if tip.Header.Height+1 >= height && localPrevoted+1 >= maxHeightPrevoted {
		return true
	}
	return false
}

// Chain exposes the underlying chain handle read-only to the synchronizer
// and network packages, which need GetLastBlock/GetBlockByHeight/etc.
// without reaching inside the coordinator's mutex.
func (c *Coordinator) Chain() *chain.Chain { return c.chain }

// Heights exposes the BFT height tracker.
func (c *Coordinator) Heights() *bft.Heights { return c.heights }

// CommitPool exposes the commit pool for the network endpoint's gossip handlers.
func (c *Coordinator) CommitPool() *bft.CommitPool { return c.pool }

// Events exposes the event emitter for subscriber registration.
func (c *Coordinator) Events() *EventEmitter { return c.events }
