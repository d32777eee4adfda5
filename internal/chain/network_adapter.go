package chain

// LastBlockBytes implements network.ChainReader for the getLastBlock RPC.
func (c *Chain) LastBlockBytes() ([]byte, error) {
	b, err := c.GetLastBlock()
	if err != nil {
		return nil, err
	}
	return b.Encode(), nil
}

// BlocksFromID implements network.ChainReader for the getBlocksFromId RPC:
// up to limit blocks strictly after the block identified by fromID.
func (c *Chain) BlocksFromID(fromID [idLength]byte, limit int) ([][]byte, error) {
	from, err := c.GetBlockByID(fromID)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for h := from.Header.Height + 1; len(out) < limit; h++ {
		b, err := c.GetBlockByHeight(h)
		if err != nil {
			break
		}
		out = append(out, b.Encode())
	}
	return out, nil
}

// HighestCommonID implements network.ChainReader for the
// getHighestCommonBlock RPC: returns the first of ids, in the order given,
// that the local chain actually stores.
func (c *Chain) HighestCommonID(ids [][idLength]byte) ([idLength]byte, bool) {
	for _, id := range ids {
		if _, err := c.GetBlockByID(id); err == nil {
			return id, true
		}
	}
	return [idLength]byte{}, false
}
