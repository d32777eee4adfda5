package consensus

import (
	"time"

	"github.com/bludnic/lisk-sdk/internal/chain"
)

// Status is one of the six fork-choice classifications a candidate header
// can receive relative to the current tip.
type Status int

const (
	StatusIdenticalBlock Status = iota
	StatusDoubleForging
	StatusTieBreak
	StatusDifferentChain
	StatusValidBlock
	StatusDiscard
)

func (s Status) String() string {
	switch s {
	case StatusIdenticalBlock:
		return "IDENTICAL_BLOCK"
	case StatusDoubleForging:
		return "DOUBLE_FORGING"
	case StatusTieBreak:
		return "TIE_BREAK"
	case StatusDifferentChain:
		return "DIFFERENT_CHAIN"
	case StatusValidBlock:
		return "VALID_BLOCK"
	default:
		return "DISCARD"
	}
}

// SlotOracle converts a block timestamp to its consensus slot number and
// exposes the current slot, so fork-choice and tie-break decisions don't
// need to know how slot timing is derived from the network's block time —
// that derivation is an external, forging-layer concern.
type SlotOracle interface {
	SlotOf(timestamp uint32) int64
	CurrentSlot() int64
	// SlotEndTime returns the wall-clock instant at which the given slot ends.
	SlotEndTime(slot int64) time.Time
}

// TipMeta carries the tip information fork-choice needs beyond the header
// itself: when the tip's header was actually received locally, used by the
// TIE_BREAK rule.
type TipMeta struct {
	Header     chain.Header
	ReceivedAt time.Time
}

// Classify evaluates an incoming header h against the current tip and
// returns the first matching status in the order IDENTICAL_BLOCK,
// DOUBLE_FORGING, TIE_BREAK, VALID_BLOCK, DIFFERENT_CHAIN, DISCARD.
func Classify(h *chain.Header, tip TipMeta, oracle SlotOracle) Status {
	t := &tip.Header
	hID := h.ID()
	tID := t.ID()

	if hID == tID {
		return StatusIdenticalBlock
	}

	if h.Height == t.Height && h.PreviousBlockID == t.PreviousBlockID &&
		h.GeneratorAddress == t.GeneratorAddress {
		return StatusDoubleForging
	}

	if h.Height == t.Height {
		hSlot := oracle.SlotOf(h.Timestamp)
		tSlot := oracle.SlotOf(t.Timestamp)
		currentSlot := oracle.CurrentSlot()
		if hSlot == tSlot && hSlot <= currentSlot && tip.ReceivedAt.After(oracle.SlotEndTime(tSlot)) {
			return StatusTieBreak
		}
	}

	if h.Height == t.Height+1 && h.PreviousBlockID == tID {
		return StatusValidBlock
	}

	if h.MaxHeightPrevoted > t.MaxHeightPrevoted ||
		(h.MaxHeightPrevoted == t.MaxHeightPrevoted && h.Height > t.Height) {
		return StatusDifferentChain
	}

	return StatusDiscard
}
