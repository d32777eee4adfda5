// Package syncer implements the block-sync and fast-chain-switch
// synchronization mechanisms and the supervisor that selects among them and
// translates their errors into peer penalties, restarts, or aborts.
package syncer

import (
	"github.com/bludnic/lisk-sdk/internal/chain"
	"github.com/bludnic/lisk-sdk/internal/network"
)

// probeCount is how many geometrically-spaced local block ids are sent in a
// single getHighestCommonBlock request.
const probeCount = 20

// Mechanism is one synchronization strategy the supervisor can run: an
// ordered list of mechanisms, where the first one whose IsValidFor returns
// true for the triggering condition is run.
type Mechanism interface {
	// IsActive reports whether this mechanism is currently mid-run.
	IsActive() bool
	// IsValidFor decides whether this mechanism should handle a
	// DIFFERENT_CHAIN classification against the given peer.
	IsValidFor(peer network.PeerInfo, localHeight uint32, localMaxHeightPrevoted uint32) bool
	// Run executes the mechanism against peer using client, returning a
	// typed error (RestartError/ApplyPenaltyAndRestartError/AbortError) or
	// nil on success.
	Run(peer network.PeerInfo, client *network.PeerClient) error
}

// probeHeights returns up to probeCount geometrically-spaced heights walking
// back from tip to 0: tip, tip-1, tip-3, tip-7, tip-15, ...
func probeHeights(tip uint32) []uint32 {
	heights := make([]uint32, 0, probeCount)
	seen := make(map[uint32]bool)
	step := uint32(1)
	h := tip
	for len(heights) < probeCount {
		if !seen[h] {
			heights = append(heights, h)
			seen[h] = true
		}
		if h == 0 {
			break
		}
		if h < step {
			h = 0
		} else {
			h -= step
		}
		step *= 2
	}
	return heights
}

// probeIDs collects the block ids at probeHeights(tip) from the local chain,
// skipping any height the chain has already pruned.
func probeIDs(ch *chain.Chain, tip uint32) [][32]byte {
	var ids [][32]byte
	for _, h := range probeHeights(tip) {
		b, err := ch.GetBlockByHeight(h)
		if err != nil {
			continue
		}
		ids = append(ids, b.Header.ID())
	}
	return ids
}
