package chain

import "github.com/bludnic/lisk-sdk/internal/bft"

// HeaderAt implements bft.HeaderSource, letting the commit pool confirm a
// single commit's blockID matches what is actually stored at that height
// without the bft package needing to know about chain's full Block/Header
// wire types.
func (c *Chain) HeaderAt(height uint32) (bft.HeaderInfo, bool) {
	b, err := c.GetBlockByHeight(height)
	if err != nil {
		return bft.HeaderInfo{}, false
	}
	return bft.HeaderInfo{
		BlockID:        b.Header.ID(),
		Height:         b.Header.Height,
		Timestamp:      b.Header.Timestamp,
		StateRoot:      b.Header.StateRoot,
		ValidatorsHash: b.Header.ValidatorsHash,
	}, true
}

// AggregateCommitAtFinalizedHeight returns the aggregate-commit height
// recorded in the header stored at finalizedHeight, i.e. maxRemovalHeight.
// Returns 0 if finalizedHeight has no stored aggregate commit (e.g.
// genesis).
func (c *Chain) AggregateCommitAtFinalizedHeight() uint32 {
	fh, err := c.FinalizedHeight()
	if err != nil {
		return 0
	}
	b, err := c.GetBlockByHeight(fh)
	if err != nil || b.Header.AggregateCommit == nil {
		return 0
	}
	return b.Header.AggregateCommit.Height
}
