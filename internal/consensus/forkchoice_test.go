package consensus

import (
	"testing"
	"time"

	"github.com/bludnic/lisk-sdk/internal/chain"
)

// fakeOracle maps slots to fixed boundaries so TIE_BREAK timing can be
// driven deterministically instead of depending on wall-clock block time.
type fakeOracle struct {
	slotOf  map[uint32]int64
	current int64
	ends    map[int64]time.Time
}

func (o fakeOracle) SlotOf(ts uint32) int64         { return o.slotOf[ts] }
func (o fakeOracle) CurrentSlot() int64             { return o.current }
func (o fakeOracle) SlotEndTime(slot int64) time.Time { return o.ends[slot] }

func header(height uint32, prev [32]byte, generator [20]byte, ts uint32, prevoted uint32) chain.Header {
	return chain.Header{
		Height:            height,
		PreviousBlockID:   prev,
		GeneratorAddress:  generator,
		Timestamp:         ts,
		Version:           1,
		MaxHeightPrevoted: prevoted,
	}
}

func TestClassifyIdenticalBlock(t *testing.T) {
	h := header(5, [32]byte{1}, [20]byte{1}, 50, 4)
	tip := TipMeta{Header: h}
	got := Classify(&h, tip, fakeOracle{})
	if got != StatusIdenticalBlock {
		t.Fatalf("expected IDENTICAL_BLOCK, got %s", got)
	}
}

func TestClassifyDoubleForging(t *testing.T) {
	prev := [32]byte{9}
	gen := [20]byte{1}
	tipHeader := header(5, prev, gen, 50, 4)
	// Same height, same previous block, same generator, but a different
	// timestamp — two competing blocks from the same generator.
	rival := header(5, prev, gen, 51, 4)
	tip := TipMeta{Header: tipHeader}
	got := Classify(&rival, tip, fakeOracle{})
	if got != StatusDoubleForging {
		t.Fatalf("expected DOUBLE_FORGING, got %s", got)
	}
}

func TestClassifyTieBreak(t *testing.T) {
	prevA := [32]byte{1}
	prevB := [32]byte{2}
	tipHeader := header(5, prevA, [20]byte{1}, 100, 4)
	rival := header(5, prevB, [20]byte{2}, 100, 4)

	oracle := fakeOracle{
		slotOf:  map[uint32]int64{100: 10},
		current: 10,
		ends:    map[int64]time.Time{10: time.Unix(90, 0)},
	}
	tip := TipMeta{Header: tipHeader, ReceivedAt: time.Unix(200, 0)} // received after slot end
	got := Classify(&rival, tip, oracle)
	if got != StatusTieBreak {
		t.Fatalf("expected TIE_BREAK, got %s", got)
	}
}

func TestClassifyTieBreakBoundaryNotLate(t *testing.T) {
	prevA := [32]byte{1}
	prevB := [32]byte{2}
	tipHeader := header(5, prevA, [20]byte{1}, 100, 4)
	rival := header(5, prevB, [20]byte{2}, 100, 4)

	oracle := fakeOracle{
		slotOf:  map[uint32]int64{100: 10},
		current: 10,
		ends:    map[int64]time.Time{10: time.Unix(300, 0)}, // slot ends after the tip was received
	}
	tip := TipMeta{Header: tipHeader, ReceivedAt: time.Unix(200, 0)}
	got := Classify(&rival, tip, oracle)
	if got == StatusTieBreak {
		t.Fatalf("expected no TIE_BREAK when the tip was received before its slot ended")
	}
}

func TestClassifyDifferentChain(t *testing.T) {
	tipHeader := header(5, [32]byte{1}, [20]byte{1}, 100, 4)
	rival := header(6, [32]byte{9}, [20]byte{2}, 101, 6) // higher MaxHeightPrevoted
	tip := TipMeta{Header: tipHeader}
	got := Classify(&rival, tip, fakeOracle{})
	if got != StatusDifferentChain {
		t.Fatalf("expected DIFFERENT_CHAIN, got %s", got)
	}
}

func TestClassifyValidBlock(t *testing.T) {
	tipHeader := header(5, [32]byte{1}, [20]byte{1}, 100, 4)
	tipID := tipHeader.ID()
	next := header(6, tipID, [20]byte{2}, 110, 4)
	tip := TipMeta{Header: tipHeader}
	got := Classify(&next, tip, fakeOracle{})
	if got != StatusValidBlock {
		t.Fatalf("expected VALID_BLOCK, got %s", got)
	}
}

func TestClassifyDiscard(t *testing.T) {
	tipHeader := header(5, [32]byte{1}, [20]byte{1}, 100, 4)
	// Neither contiguous with the tip nor ahead on MaxHeightPrevoted.
	stale := header(3, [32]byte{7}, [20]byte{2}, 90, 2)
	tip := TipMeta{Header: tipHeader}
	got := Classify(&stale, tip, fakeOracle{})
	if got != StatusDiscard {
		t.Fatalf("expected DISCARD, got %s", got)
	}
}
