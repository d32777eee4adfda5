package bft

import "sync/atomic"

// Heights tracks three derived, monotone BFT heights: maxHeightCertified
// (greatest height with a stored aggregate commit), maxHeightPrecommitted
// (greatest height with a local prevote quorum) and maxHeightPrevoted. All
// three only ever move forward — callers use the Advance* methods rather
// than raw setters so monotonicity can never be violated by accident.
type Heights struct {
	certified    atomic.Uint32
	precommitted atomic.Uint32
	prevoted     atomic.Uint32
}

// MaxHeightCertified returns the greatest height with a stored aggregate commit.
func (h *Heights) MaxHeightCertified() uint32 { return h.certified.Load() }

// MaxHeightPrecommitted returns the greatest height with a local prevote quorum.
func (h *Heights) MaxHeightPrecommitted() uint32 { return h.precommitted.Load() }

// MaxHeightPrevoted returns the greatest height the node has observed a BFT
// prevote quorum for (may exceed MaxHeightPrecommitted if not yet locally committed).
func (h *Heights) MaxHeightPrevoted() uint32 { return h.prevoted.Load() }

// AdvanceCertified moves maxHeightCertified to height if it is greater than
// the current value; otherwise it is a no-op (monotonicity).
func (h *Heights) AdvanceCertified(height uint32) {
	advanceMax(&h.certified, height)
}

// AdvancePrecommitted moves maxHeightPrecommitted forward, enforcing
// monotonicity at the BFT-heights level (the chain's finalizedHeight
// monotonicity is enforced separately in consensus.Processor).
func (h *Heights) AdvancePrecommitted(height uint32) {
	advanceMax(&h.precommitted, height)
}

// AdvancePrevoted moves maxHeightPrevoted forward.
func (h *Heights) AdvancePrevoted(height uint32) {
	advanceMax(&h.prevoted, height)
}

func advanceMax(v *atomic.Uint32, height uint32) {
	for {
		cur := v.Load()
		if height <= cur {
			return
		}
		if v.CompareAndSwap(cur, height) {
			return
		}
	}
}
