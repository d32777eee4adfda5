package syncer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bludnic/lisk-sdk/internal/chain"
	"github.com/bludnic/lisk-sdk/internal/consensus"
	"github.com/bludnic/lisk-sdk/internal/network"
)

// ErrDeclined is returned by FastChainSwitch.Run when the common ancestor
// lies outside its TWO_ROUNDS window: not a peer fault, just the wrong tool
// for this gap. The supervisor falls through to BlockSync when the ancestor
// search exceeds the window.
var ErrDeclined = errors.New("syncer: fast chain switch declined, gap exceeds window")

// FastChainSwitch is a bounded-depth variant of block sync for small forks,
// walking back at most TWO_ROUNDS = 2*roundLength blocks before giving up
// in favor of the general mechanism.
type FastChainSwitch struct {
	coord       *consensus.Coordinator
	roundLength uint32
	getBlocksN  int
	active      atomic.Bool
}

// NewFastChainSwitch constructs a FastChainSwitch. roundLength is the
// number of blocks in one consensus round (used to derive the TWO_ROUNDS
// bound).
func NewFastChainSwitch(coord *consensus.Coordinator, roundLength uint32, getBlocksN int) *FastChainSwitch {
	if getBlocksN <= 0 {
		getBlocksN = 100
	}
	return &FastChainSwitch{coord: coord, roundLength: roundLength, getBlocksN: getBlocksN}
}

func (s *FastChainSwitch) twoRounds() uint32 { return 2 * s.roundLength }

// IsActive implements Mechanism.
func (s *FastChainSwitch) IsActive() bool { return s.active.Load() }

// IsValidFor implements Mechanism: only small gaps within TWO_ROUNDS blocks
// are attempted here.
func (s *FastChainSwitch) IsValidFor(peer network.PeerInfo, localHeight, localMaxHeightPrevoted uint32) bool {
	if peer.Height <= localHeight {
		return false
	}
	return peer.Height-localHeight <= s.twoRounds()
}

// Run locates the common ancestor exactly as BlockSync does, but refuses
// (ErrDeclined) if it falls outside the TWO_ROUNDS window, letting the
// supervisor retry with BlockSync instead.
func (s *FastChainSwitch) Run(peer network.PeerInfo, client *network.PeerClient) error {
	s.active.Store(true)
	defer s.active.Store(false)

	ch := s.coord.Chain()
	tip := ch.Height()
	if tip < 0 {
		return ErrDeclined
	}

	ids := probeIDs(ch, uint32(tip))
	commonResp, err := client.GetHighestCommonBlock(network.GetHighestCommonBlockRequest{IDs: ids})
	if err != nil {
		return consensus.NewRestart("getHighestCommonBlock", err)
	}
	if !commonResp.Found {
		return ErrDeclined
	}

	commonBlock, err := ch.GetBlockByID(commonResp.ID)
	if err != nil {
		return ErrDeclined
	}
	if uint32(tip)-commonBlock.Header.Height > s.twoRounds() {
		return ErrDeclined
	}
	finalizedHeight, err := ch.FinalizedHeight()
	if err != nil {
		return fmt.Errorf("fast chain switch: reading finalized height: %w", err)
	}
	if commonBlock.Header.Height < finalizedHeight {
		return consensus.NewAbort("common ancestor is below the finalized height", nil)
	}

	for uint32(ch.Height()) > commonBlock.Header.Height {
		if _, err := s.coord.DeleteLastBlock(true); err != nil {
			return fmt.Errorf("fast chain switch: reverting to common ancestor: %w", err)
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
		for _, raw := range encoded {
			b, err := chain.DecodeBlock(raw)
			if err != nil {
				return consensus.NewApplyPenaltyAndRestart("malformed block in getBlocksFromId response", err)
			}
			if err := s.coord.ExecuteValidated(b, consensus.ExecuteOptions{SkipBroadcast: true, RemoveFromTempTable: true, SourcePeerID: peer.ID}); err != nil {
				return consensus.NewApplyPenaltyAndRestart("synced block failed verification", err)
			}
			fromID = b.Header.ID()
		}
		if len(encoded) < s.getBlocksN {
			break
		}
	}
	return nil
}
