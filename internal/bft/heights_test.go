package bft

import (
	"sync"
	"testing"
)

func TestHeightsAdvanceMonotone(t *testing.T) {
	var h Heights
	h.AdvancePrecommitted(5)
	if got := h.MaxHeightPrecommitted(); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	h.AdvancePrecommitted(3) // lower value must be ignored
	if got := h.MaxHeightPrecommitted(); got != 5 {
		t.Fatalf("expected advance to a lower height to be a no-op, got %d", got)
	}
	h.AdvancePrecommitted(8)
	if got := h.MaxHeightPrecommitted(); got != 8 {
		t.Fatalf("expected 8, got %d", got)
	}
}

func TestHeightsIndependentCounters(t *testing.T) {
	var h Heights
	h.AdvanceCertified(1)
	h.AdvancePrecommitted(2)
	h.AdvancePrevoted(3)
	if h.MaxHeightCertified() != 1 || h.MaxHeightPrecommitted() != 2 || h.MaxHeightPrevoted() != 3 {
		t.Fatalf("expected independent counters, got certified=%d precommitted=%d prevoted=%d",
			h.MaxHeightCertified(), h.MaxHeightPrecommitted(), h.MaxHeightPrevoted())
	}
}

func TestHeightsAdvanceConcurrentConvergesToMax(t *testing.T) {
	var h Heights
	var wg sync.WaitGroup
	for i := uint32(1); i <= 100; i++ {
		wg.Add(1)
		go func(height uint32) {
			defer wg.Done()
			h.AdvancePrevoted(height)
		}(i)
	}
	wg.Wait()
	if got := h.MaxHeightPrevoted(); got != 100 {
		t.Fatalf("expected concurrent advances to converge to the max (100), got %d", got)
	}
}
