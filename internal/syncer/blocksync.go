package syncer

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/bludnic/lisk-sdk/internal/chain"
	"github.com/bludnic/lisk-sdk/internal/consensus"
	"github.com/bludnic/lisk-sdk/internal/network"
)

// BlockSync is the general-purpose synchronization mechanism. It is always
// a valid fallback — every DIFFERENT_CHAIN classification that no more
// specific mechanism (FastChainSwitch) accepts ends up here.
type BlockSync struct {
	coord      *consensus.Coordinator
	getBlocksN int
	active     atomic.Bool
}

// NewBlockSync constructs a BlockSync. getBlocksN bounds each
// getBlocksFromId request.
func NewBlockSync(coord *consensus.Coordinator, getBlocksN int) *BlockSync {
	if getBlocksN <= 0 {
		getBlocksN = 100
	}
	return &BlockSync{coord: coord, getBlocksN: getBlocksN}
}

// IsActive implements Mechanism.
func (s *BlockSync) IsActive() bool { return s.active.Load() }

// IsValidFor implements Mechanism: block sync handles any peer strictly
// ahead of the local node, and is always tried last by the supervisor so
// more specific mechanisms get first refusal.
func (s *BlockSync) IsValidFor(peer network.PeerInfo, localHeight, localMaxHeightPrevoted uint32) bool {
	return peer.Height > localHeight && peer.MaxHeightPrevoted > localMaxHeightPrevoted
}

// Run fetches the peer's reported tip, finds the highest common ancestor
// via a geometric probe of local block ids, reverts the local chain to that
// ancestor, then replays blocks from the peer in batches, verifying and
// applying each one with broadcast suppressed.
func (s *BlockSync) Run(peer network.PeerInfo, client *network.PeerClient) error {
	s.active.Store(true)
	defer s.active.Store(false)

	ch := s.coord.Chain()
	tip := ch.Height()
	if tip < 0 {
		return consensus.NewAbort("block sync requires a local genesis block", nil)
	}

	if _, err := client.GetLastBlock(); err != nil {
		return consensus.NewRestart("getLastBlock", err)
	}

	ids := probeIDs(ch, uint32(tip))
	commonResp, err := client.GetHighestCommonBlock(network.GetHighestCommonBlockRequest{IDs: ids})
	if err != nil {
		return consensus.NewRestart("getHighestCommonBlock", err)
	}
	if !commonResp.Found {
		return consensus.NewAbort("no common block found with peer", nil)
	}

	commonBlock, err := ch.GetBlockByID(commonResp.ID)
	if err != nil {
		return consensus.NewAbort("peer-reported common block not found locally", err)
	}
	finalizedHeight, err := ch.FinalizedHeight()
	if err != nil {
		return fmt.Errorf("block sync: reading finalized height: %w", err)
	}
	if commonBlock.Header.Height < finalizedHeight {
		return consensus.NewAbort("common ancestor is below the finalized height", nil)
	}

	for uint32(ch.Height()) > commonBlock.Header.Height {
		if _, err := s.coord.DeleteLastBlock(true); err != nil {
			return fmt.Errorf("block sync: reverting to common ancestor: %w", err)
		}
	}

	fromID := commonBlock.Header.ID()
	for {
		encoded, err := client.GetBlocksFromID(network.GetBlocksFromIDRequest{FromID: fromID, Limit: uint32(s.getBlocksN)})
		if err != nil {
			return consensus.NewRestart("getBlocksFromId", err)
		}
		if len(encoded) == 0 {
			break
		}

		// Decoding and stateless verification (signature, transaction root)
		// have no cross-block dependency, so the batch is checked
		// concurrently before the strictly sequential apply pass below.
		batch := make([]*chain.Block, len(encoded))
		var g errgroup.Group
		for i, raw := range encoded {
			i, raw := i, raw
			g.Go(func() error {
				b, err := chain.DecodeBlock(raw)
				if err != nil {
					return err
				}
				if err := s.coord.Verify(b); err != nil {
					return err
				}
				batch[i] = b
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return consensus.NewApplyPenaltyAndRestart("malformed or unverifiable block in getBlocksFromId response", err)
		}

		for _, b := range batch {
			if err := s.coord.ExecuteValidated(b, consensus.ExecuteOptions{SkipBroadcast: true, RemoveFromTempTable: true, SourcePeerID: peer.ID}); err != nil {
				return consensus.NewApplyPenaltyAndRestart("synced block failed verification", err)
			}
			fromID = b.Header.ID()
		}
		if len(encoded) < s.getBlocksN {
			break
		}
		if peerTip, err := ch.GetBlockByID(fromID); err == nil && peerTip.Header.Height >= peer.Height {
			break
		}
	}
	return nil
}
