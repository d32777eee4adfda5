package chain

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// Key prefixes for the persisted layout.
const (
	prefixBlockByHeight = "BLK:"
	prefixHeightByID     = "BLK_ID:"
	prefixTx             = "TX:"
	prefixState          = "STATE:"
	prefixDiff           = "DIFF:"
	prefixTemp           = "TEMP:"
	keyFinalizedHeight   = "CONSENSUS:finalizedHeight"
)

var (
	// ErrBlockNotFound is returned by lookups that miss the KV store.
	ErrBlockNotFound = errors.New("chain: block not found")
	// ErrChainEmpty is returned by GetLastBlock before genesis exists.
	ErrChainEmpty = errors.New("chain: no blocks persisted yet")
	// ErrDeleteAtOrBelowFinalized enforces that finalized blocks are never
	// removed from the chain.
	ErrDeleteAtOrBelowFinalized = errors.New("chain: refusing to delete a block at or below finalized height")
)

// KVStore is the minimal transactional key/value capability the chain
// needs. A Batch groups writes that must land atomically — the unit of
// atomicity for save/delete.
type KVStore interface {
	Get(key []byte) ([]byte, bool, error)
	NewBatch() Batch
}

// Batch accumulates writes and deletes to be applied atomically via Commit.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Commit() error
}

// StateDiff is the reverse diff persisted alongside a block, sufficient to
// undo its effect on the state store.
type StateDiff struct {
	// Entries maps "module:key" to its pre-block value (nil means the key
	// did not exist before the block and should be removed on revert).
	Entries map[string][]byte
}

// Chain wraps a KVStore with the block-indexed operations the consensus core
// needs: save/delete/lookup by height or id, the temp table used by the
// synchronizer's revert paths, and the monotonic finalized-height counter.
type Chain struct {
	mu  sync.RWMutex // guards tipHeight cache only; KVStore has its own safety
	kv  KVStore
	tip int64 // -1 when empty
}

// NewChain wraps an already-open KVStore.
func NewChain(kv KVStore) (*Chain, error) {
	c := &Chain{kv: kv, tip: -1}
	h, err := c.findTipHeight()
	if err != nil {
		return nil, err
	}
	c.tip = h
	return c, nil
}

func (c *Chain) findTipHeight() (int64, error) {
	// Walk the finalized-height-independent tip pointer stored at
	// CONSENSUS:finalizedHeight's sibling key is not kept separately; the
	// tip is derived by probing for the highest contiguous BLK: entry using
	// a doubling search, since the KV store has no native "max key" op.
	var probe uint32 = 1
	var lastFound int64 = -1
	for {
		_, ok, err := c.kv.Get(heightKey(probe))
		if err != nil {
			return -1, err
		}
		if !ok {
			break
		}
		lastFound = int64(probe)
		if probe > (1<<31)-1 {
			break
		}
		probe *= 2
	}
	lo, hi := uint32(lastFound+1), probe
	if lastFound == -1 {
		lo = 0
	}
	for lo < hi {
		mid := lo + (hi-lo)/2
		_, ok, err := c.kv.Get(heightKey(mid))
		if err != nil {
			return -1, err
		}
		if ok {
			lastFound = int64(mid)
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lastFound, nil
}

func heightKey(h uint32) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefixBlockByHeight, h))
}

func idKey(id [idLength]byte) []byte {
	return append([]byte(prefixHeightByID), id[:]...)
}

func tempKey(h uint32) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefixTemp, h))
}

func diffKey(h uint32) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefixDiff, h))
}

// Height returns the tip's height, or -1 if the chain is empty.
func (c *Chain) Height() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip
}

// GetLastBlock returns the current tip.
func (c *Chain) GetLastBlock() (*Block, error) {
	c.mu.RLock()
	h := c.tip
	c.mu.RUnlock()
	if h < 0 {
		return nil, ErrChainEmpty
	}
	return c.GetBlockByHeight(uint32(h))
}

// GetBlockByHeight looks a block up by height.
func (c *Chain) GetBlockByHeight(height uint32) (*Block, error) {
	raw, ok, err := c.kv.Get(heightKey(height))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBlockNotFound
	}
	return DecodeBlock(raw)
}

// GetBlockByID looks a block up by its header id.
func (c *Chain) GetBlockByID(id [idLength]byte) (*Block, error) {
	hb, ok, err := c.kv.Get(idKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBlockNotFound
	}
	return c.GetBlockByHeight(binary.BigEndian.Uint32(hb))
}

// HasBlockWithID reports whether the chain has a stored header at height h
// whose id equals id.
func (c *Chain) HasBlockWithID(height uint32, id [idLength]byte) bool {
	b, err := c.GetBlockByHeight(height)
	if err != nil {
		return false
	}
	return b.Header.ID() == id
}

// FinalizedHeight returns the greatest height whose subtree is irreversible.
func (c *Chain) FinalizedHeight() (uint32, error) {
	raw, ok, err := c.kv.Get([]byte(keyFinalizedHeight))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return binary.BigEndian.Uint32(raw), nil
}

// SaveBlock persists a block, its transactions, the accompanying state diff,
// updated finalized height, and the height index entry, all atomically.
// finalizedHeight must already be max(old, new) — Chain does not re-derive
// the monotonicity invariant itself; the caller (consensus.Processor) owns
// that arithmetic.
func (c *Chain) SaveBlock(b *Block, diff StateDiff, finalizedHeight uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b.Header.Height > 0 {
		if int64(b.Header.Height) != c.tip+1 {
			return fmt.Errorf("chain: non-contiguous save: tip=%d, got height=%d", c.tip, b.Header.Height)
		}
	}

	batch := c.kv.NewBatch()
	enc := b.Encode()
	batch.Put(heightKey(b.Header.Height), enc)

	id := b.Header.ID()
	var hb [4]byte
	binary.BigEndian.PutUint32(hb[:], b.Header.Height)
	batch.Put(idKey(id), hb[:])

	for _, tx := range b.Transactions {
		var txBuf bytes.Buffer
		encodeTransaction(&txBuf, tx)
		batch.Put(append([]byte(prefixTx), tx.ID[:]...), txBuf.Bytes())
	}

	if len(diff.Entries) > 0 {
		batch.Put(diffKey(b.Header.Height), encodeStateDiff(diff))
	}

	var fh [4]byte
	binary.BigEndian.PutUint32(fh[:], finalizedHeight)
	batch.Put([]byte(keyFinalizedHeight), fh[:])

	if err := batch.Commit(); err != nil {
		return err
	}
	c.tip = int64(b.Header.Height)
	return nil
}

// DeleteLastBlock removes the current tip, optionally preserving it in the
// temp table for later restoration (used by the synchronizer's revert
// paths). Refuses to delete at or below finalizedHeight.
func (c *Chain) DeleteLastBlock(saveTempBlock bool) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tip < 0 {
		return nil, ErrChainEmpty
	}
	fh, err := c.FinalizedHeight()
	if err != nil {
		return nil, err
	}
	if uint32(c.tip) <= fh {
		return nil, ErrDeleteAtOrBelowFinalized
	}

	b, err := c.GetBlockByHeight(uint32(c.tip))
	if err != nil {
		return nil, err
	}

	batch := c.kv.NewBatch()
	batch.Delete(heightKey(uint32(c.tip)))
	batch.Delete(idKey(b.Header.ID()))
	batch.Delete(diffKey(uint32(c.tip)))
	for _, tx := range b.Transactions {
		batch.Delete(append([]byte(prefixTx), tx.ID[:]...))
	}
	if saveTempBlock {
		batch.Put(tempKey(uint32(c.tip)), b.Encode())
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}
	c.tip--
	return b, nil
}

// TempBlock retrieves a block previously stashed by DeleteLastBlock.
func (c *Chain) TempBlock(height uint32) (*Block, error) {
	raw, ok, err := c.kv.Get(tempKey(height))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBlockNotFound
	}
	return DecodeBlock(raw)
}

// ClearTempBlock removes a stashed block once it has been restored or is no
// longer needed (evicted below maxRemovalHeight).
func (c *Chain) ClearTempBlock(height uint32) error {
	batch := c.kv.NewBatch()
	batch.Delete(tempKey(height))
	return batch.Commit()
}

func encodeStateDiff(d StateDiff) []byte {
	buf := make([]byte, 0, 64)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(d.Entries)))
	buf = append(buf, n[:]...)
	for k, v := range d.Entries {
		var kl, vl [4]byte
		binary.BigEndian.PutUint32(kl[:], uint32(len(k)))
		buf = append(buf, kl[:]...)
		buf = append(buf, k...)
		if v == nil {
			binary.BigEndian.PutUint32(vl[:], 0xFFFFFFFF)
			buf = append(buf, vl[:]...)
		} else {
			binary.BigEndian.PutUint32(vl[:], uint32(len(v)))
			buf = append(buf, vl[:]...)
			buf = append(buf, v...)
		}
	}
	return buf
}
