package consensus

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/bludnic/lisk-sdk/internal/bft"
	"github.com/bludnic/lisk-sdk/internal/chain"
)

func buildCoordinator(t *testing.T) (*Coordinator, ed25519.PrivateKey, [20]byte) {
	t.Helper()
	p, ch, priv, addr, _, events := buildProcessor(t)
	coord, err := NewCoordinator(ch, p, p.heights, p.commitPool, events, nil)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return coord, priv, addr
}

func TestCoordinatorGenesisIdempotent(t *testing.T) {
	ch, err := chain.NewChain(chain.NewMemStore())
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	heights := &bft.Heights{}
	sm := NewStateMachine(newMemState(), acceptingExecutor{}, Hooks{})
	events := NewEventEmitter()
	pool := bft.NewCommitPool([]byte("n"), 50, bft.NewStaticParamsProvider(map[uint32]bft.Parameters{0: {}}), ch, heights, func() uint32 { return 0 })
	proc := NewProcessor(ch, sm, heights, pool, events, &recordingBroadcaster{}, singleKeySource{}, fixedOracle{}, []byte("n"))

	genesis := &chain.Block{Header: chain.Header{Height: 0, Version: 1, TransactionRoot: chain.TransactionRoot(nil), StateRoot: emptyStateRoot()}}
	if _, err := NewCoordinator(ch, proc, heights, pool, events, genesis); err != nil {
		t.Fatalf("first NewCoordinator: %v", err)
	}
	if ch.Height() != 0 {
		t.Fatalf("expected genesis to be applied, height=%d", ch.Height())
	}

	// Re-wrapping the same, now non-empty chain with a coordinator must not
	// re-apply genesis.
	if _, err := NewCoordinator(ch, proc, heights, pool, events, genesis); err != nil {
		t.Fatalf("second NewCoordinator: %v", err)
	}
	if ch.Height() != 0 {
		t.Fatalf("expected genesis re-application to be a no-op, height=%d", ch.Height())
	}
}

func TestCoordinatorRejectsEmptyChainWithoutGenesis(t *testing.T) {
	ch, _ := chain.NewChain(chain.NewMemStore())
	heights := &bft.Heights{}
	events := NewEventEmitter()
	pool := bft.NewCommitPool([]byte("n"), 50, bft.NewStaticParamsProvider(map[uint32]bft.Parameters{0: {}}), ch, heights, func() uint32 { return 0 })
	sm := NewStateMachine(newMemState(), acceptingExecutor{}, Hooks{})
	proc := NewProcessor(ch, sm, heights, pool, events, &recordingBroadcaster{}, singleKeySource{}, fixedOracle{}, []byte("n"))
	if _, err := NewCoordinator(ch, proc, heights, pool, events, nil); err == nil {
		t.Fatalf("expected an error constructing a coordinator over an empty chain with no genesis")
	}
}

func TestCoordinatorStopRejectsFurtherCalls(t *testing.T) {
	coord, _, _ := buildCoordinator(t)
	coord.Stop()
	b := &chain.Block{Header: chain.Header{Height: 1, Version: 1}}
	if err := coord.Execute(b); !errors.Is(err, ErrCoordinatorStopped) {
		t.Fatalf("expected ErrCoordinatorStopped, got %v", err)
	}
}

func TestCoordinatorIsSyncedBoundary(t *testing.T) {
	coord, _, _ := buildCoordinator(t)
	// tip height is 0 (genesis only), localPrevoted is 0.
	if !coord.IsSynced(1, 1) {
		t.Fatalf("expected synced when claimed height/prevoted are exactly one ahead")
	}
	if coord.IsSynced(2, 1) {
		t.Fatalf("expected not synced when claimed height is two or more ahead")
	}
}

func TestCoordinatorExecuteAppliesValidBlock(t *testing.T) {
	coord, priv, addr := buildCoordinator(t)
	tip, err := coord.Chain().GetLastBlock()
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}
	b := signedChild(t, tip, priv, addr, 10)
	if err := coord.Execute(b); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if coord.Chain().Height() != 1 {
		t.Fatalf("expected tip height 1, got %d", coord.Chain().Height())
	}
}

func TestCoordinatorDeleteLastBlockEmitsEvent(t *testing.T) {
	coord, priv, addr := buildCoordinator(t)
	tip, _ := coord.Chain().GetLastBlock()
	b := signedChild(t, tip, priv, addr, 10)
	if err := coord.Execute(b); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var sawDelete bool
	coord.Events().Subscribe(func(ev Event) {
		if ev.Type == EventBlockDelete {
			sawDelete = true
		}
	})
	if _, err := coord.DeleteLastBlock(false); err != nil {
		t.Fatalf("DeleteLastBlock: %v", err)
	}
	if !sawDelete {
		t.Fatalf("expected EventBlockDelete to fire")
	}
	if coord.Chain().Height() != 0 {
		t.Fatalf("expected tip height 0 after delete, got %d", coord.Chain().Height())
	}
}
