package consensus

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/bludnic/lisk-sdk/internal/bft"
	"github.com/bludnic/lisk-sdk/internal/chain"
	"github.com/bludnic/lisk-sdk/internal/crypto"
)

type singleKeySource struct {
	addr [20]byte
	pub  ed25519.PublicKey
}

func (s singleKeySource) GeneratorKey(height uint32, addr [20]byte) (ed25519.PublicKey, bool) {
	if addr != s.addr {
		return nil, false
	}
	return s.pub, true
}

type fixedOracle struct{}

func (fixedOracle) SlotOf(ts uint32) int64         { return int64(ts) }
func (fixedOracle) CurrentSlot() int64             { return 1 << 30 }
func (fixedOracle) SlotEndTime(slot int64) time.Time { return time.Unix(0, 0) }

type recordingBroadcaster struct{ blocks []*chain.Block }

func (b *recordingBroadcaster) Broadcast(blk *chain.Block) error {
	b.blocks = append(b.blocks, blk)
	return nil
}

func emptyStateRoot() [32]byte {
	return sha256.Sum256(nil)
}

// buildProcessor wires a full Processor over a fresh in-memory chain with one
// genesis block already saved and one validator able to sign/generate.
func buildProcessor(t *testing.T) (*Processor, *chain.Chain, ed25519.PrivateKey, [20]byte, *recordingBroadcaster, *EventEmitter) {
	t.Helper()
	ch, err := chain.NewChain(chain.NewMemStore())
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var addr [20]byte
	copy(addr[:], pub[:20])

	genesis := &chain.Block{Header: chain.Header{
		Height:          0,
		Version:         1,
		TransactionRoot: chain.TransactionRoot(nil),
		StateRoot:       emptyStateRoot(),
	}}
	if err := ch.SaveBlock(genesis, chain.StateDiff{}, 0); err != nil {
		t.Fatalf("SaveBlock(genesis): %v", err)
	}

	heights := &bft.Heights{}
	params := bft.NewStaticParamsProvider(map[uint32]bft.Parameters{0: {CertificateThreshold: 1}})
	pool := bft.NewCommitPool([]byte("test-net"), 50, params, ch, heights, func() uint32 { return 0 })
	sm := NewStateMachine(newMemState(), acceptingExecutor{}, Hooks{})
	events := NewEventEmitter()
	bc := &recordingBroadcaster{}
	keys := singleKeySource{addr: addr, pub: pub}

	p := NewProcessor(ch, sm, heights, pool, events, bc, keys, fixedOracle{}, []byte("test-net"))
	return p, ch, priv, addr, bc, events
}

// signedChild builds and EdDSA-signs a valid next block atop tip.
func signedChild(t *testing.T, tip *chain.Block, priv ed25519.PrivateKey, addr [20]byte, timestamp uint32) *chain.Block {
	t.Helper()
	h := chain.Header{
		Height:           tip.Header.Height + 1,
		PreviousBlockID:  tip.Header.ID(),
		GeneratorAddress: addr,
		Timestamp:        timestamp,
		Version:          1,
		TransactionRoot:  chain.TransactionRoot(nil),
		StateRoot:        emptyStateRoot(),
	}
	h.Signature = crypto.SignHeader(priv, h.SignedBytes())
	return &chain.Block{Header: h}
}

func TestProcessorVerifyAcceptsWellFormedBlock(t *testing.T) {
	p, ch, priv, addr, _, _ := buildProcessor(t)
	tip, _ := ch.GetLastBlock()
	b := signedChild(t, tip, priv, addr, 10)
	if err := p.Verify(b); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestProcessorVerifyRejectsBadSignature(t *testing.T) {
	p, ch, priv, addr, _, _ := buildProcessor(t)
	tip, _ := ch.GetLastBlock()
	b := signedChild(t, tip, priv, addr, 10)
	b.Header.Signature[0] ^= 0xFF // corrupt
	if err := p.Verify(b); err == nil {
		t.Fatalf("expected a corrupted signature to fail verification")
	}
}

func TestProcessorVerifyRejectsUnknownGenerator(t *testing.T) {
	p, ch, priv, _, _, _ := buildProcessor(t)
	tip, _ := ch.GetLastBlock()
	var stranger [20]byte
	stranger[19] = 0xAA
	b := signedChild(t, tip, priv, stranger, 10)
	if err := p.Verify(b); err == nil {
		t.Fatalf("expected an unknown generator to fail verification")
	}
}

func TestProcessorExecuteAppliesAndBroadcasts(t *testing.T) {
	p, ch, priv, addr, bc, events := buildProcessor(t)
	var seen []EventType
	events.Subscribe(func(ev Event) { seen = append(seen, ev.Type) })

	tip, _ := ch.GetLastBlock()
	b := signedChild(t, tip, priv, addr, 10)
	if err := p.Execute(b); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ch.Height() != 1 {
		t.Fatalf("expected tip height 1, got %d", ch.Height())
	}
	if len(bc.blocks) != 1 {
		t.Fatalf("expected block to be broadcast")
	}
	if len(seen) != 2 || seen[0] != EventBlockNew || seen[1] != EventBlockBroadcast {
		t.Fatalf("expected [BlockNew Broadcast] events, got %v", seen)
	}
}

func TestOnBlockReceiveDiscardsIdenticalBlock(t *testing.T) {
	p, ch, _, _, bc, _ := buildProcessor(t)
	tip, _ := ch.GetLastBlock()
	if err := p.OnBlockReceive(tip.Encode(), "peer1", time.Now()); err != nil {
		t.Fatalf("OnBlockReceive: %v", err)
	}
	if len(bc.blocks) != 0 {
		t.Fatalf("expected no broadcast for an identical block")
	}
}

func TestOnBlockReceiveAppliesValidBlock(t *testing.T) {
	p, ch, priv, addr, bc, _ := buildProcessor(t)
	tip, _ := ch.GetLastBlock()
	b := signedChild(t, tip, priv, addr, 10)
	if err := p.OnBlockReceive(b.Encode(), "peer1", time.Now()); err != nil {
		t.Fatalf("OnBlockReceive: %v", err)
	}
	if ch.Height() != 1 {
		t.Fatalf("expected tip height 1, got %d", ch.Height())
	}
	if len(bc.blocks) != 1 {
		t.Fatalf("expected the valid block to be broadcast")
	}
}

func TestOnBlockReceiveRejectsMalformedEnvelope(t *testing.T) {
	p, _, _, _, _, _ := buildProcessor(t)
	err := p.OnBlockReceive([]byte{0xFF, 0xFF}, "peer1", time.Now())
	if err == nil {
		t.Fatalf("expected malformed envelope to error")
	}
	var penalty *ApplyPenaltyError
	if !errors.As(err, &penalty) {
		t.Fatalf("expected ApplyPenaltyError, got %T: %v", err, err)
	}
}
