package network

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bludnic/lisk-sdk/internal/consensus"
)

// PenaltyMalformedPayload is applied when a peer sends a structurally
// invalid RPC payload.
const PenaltyMalformedPayload = 100

// ChainReader is the read-only chain surface the RPC endpoint serves
// (getLastBlock/getBlocksFromId/getHighestCommonBlock), kept narrow so
// network never needs to import chain's full API.
type ChainReader interface {
	LastBlockBytes() ([]byte, error)
	BlocksFromID(fromID [32]byte, limit int) ([][]byte, error)
	// HighestCommonID returns the first of ids (checked in order) the local
	// chain actually has, or found=false if none match.
	HighestCommonID(ids [][32]byte) (id [32]byte, found bool)
}

// BlockReceiver is the consensus coordinator's inbound entry point.
type BlockReceiver interface {
	OnBlockReceive(data []byte, peerID string) error
}

// rateLimiter is a fixed-window request counter per peer: simple, adequate
// for bounding a single malicious peer's RPC volume. No token-bucket
// library appears anywhere in the retrieved examples, so this stays on the
// standard library — see DESIGN.md.
type rateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	max      int
	counters map[string]*windowCount
}

type windowCount struct {
	count     int
	windowEnd time.Time
}

func newRateLimiter(window time.Duration, max int) *rateLimiter {
	return &rateLimiter{window: window, max: max, counters: make(map[string]*windowCount)}
}

func (rl *rateLimiter) allow(peerID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	wc, ok := rl.counters[peerID]
	if !ok || now.After(wc.windowEnd) {
		wc = &windowCount{count: 0, windowEnd: now.Add(rl.window)}
		rl.counters[peerID] = wc
	}
	wc.count++
	return wc.count <= rl.max
}

// Endpoint is the RPC server side: it reads framed RPC requests off a peer
// connection, serves reads from ChainReader, and forwards postBlock pushes
// to the consensus coordinator, penalizing malformed traffic and excessive
// call volume.
type Endpoint struct {
	chain    ChainReader
	receiver BlockReceiver
	registry *Registry
	limiter  *rateLimiter
	getBlocksLimit int
}

// NewEndpoint constructs an Endpoint. getBlocksLimit bounds getBlocksFromId
// responses.
func NewEndpoint(chain ChainReader, receiver BlockReceiver, registry *Registry, getBlocksLimit int) *Endpoint {
	if getBlocksLimit <= 0 {
		getBlocksLimit = 100
	}
	return &Endpoint{
		chain: chain, receiver: receiver, registry: registry,
		limiter: newRateLimiter(time.Second, 50), getBlocksLimit: getBlocksLimit,
	}
}

// Serve processes one request/response or push frame from peerID over conn.
// Callers loop this over a connection's lifetime.
func (e *Endpoint) Serve(conn Conn, peerID string) error {
	kind, payload, err := ReadEnvelope(conn)
	if err != nil {
		return err
	}

	if !e.limiter.allow(peerID) {
		e.registry.Penalize(peerID, PenaltyMalformedPayload)
		return fmt.Errorf("network: peer %s exceeded rate limit", peerID)
	}

	switch kind {
	case KindPostBlock:
		if err := e.receiver.OnBlockReceive(payload, peerID); err != nil {
			var penalty *consensus.ApplyPenaltyError
			if errors.As(err, &penalty) {
				e.registry.Penalize(peerID, consensus.PenaltyPoints)
			}
			return fmt.Errorf("network: onBlockReceive: %w", err)
		}
		return nil

	case KindPostNodeInfo:
		info, err := DecodeNodeInfo(payload)
		if err != nil {
			e.registry.Penalize(peerID, PenaltyMalformedPayload)
			return err
		}
		e.registry.Upsert(PeerInfo{ID: peerID, Height: info.Height, MaxHeightPrevoted: info.MaxHeightPrevoted, NetworkVersion: info.NetworkVersion})
		return nil

	case KindGetLastBlock:
		b, err := e.chain.LastBlockBytes()
		if err != nil {
			return err
		}
		return WriteEnvelope(conn, KindGetLastBlockResp, b)

	case KindGetBlocksFromID:
		req, err := DecodeGetBlocksFromIDRequest(payload)
		if err != nil {
			e.registry.Penalize(peerID, PenaltyMalformedPayload)
			return err
		}
		limit := int(req.Limit)
		if limit <= 0 || limit > e.getBlocksLimit {
			limit = e.getBlocksLimit
		}
		blocks, err := e.chain.BlocksFromID(req.FromID, limit)
		if err != nil {
			return err
		}
		return WriteEnvelope(conn, KindGetBlocksFromIDResp, EncodeBlockList(blocks))

	case KindGetHighestCommonBlock:
		req, err := DecodeGetHighestCommonBlockRequest(payload)
		if err != nil {
			e.registry.Penalize(peerID, PenaltyMalformedPayload)
			return err
		}
		id, found := e.chain.HighestCommonID(req.IDs)
		return WriteEnvelope(conn, KindGetHighestCommonBlockResp, EncodeGetHighestCommonBlockResponse(GetHighestCommonBlockResponse{Found: found, ID: id}))

	default:
		e.registry.Penalize(peerID, PenaltyMalformedPayload)
		return fmt.Errorf("%w: unknown kind %d", ErrMalformedMessage, kind)
	}
}

// ApplyNodeInfo implements consensus.NodeInfoApplier: it is called by the
// consensus processor after applying a block attributed to a peer, to refresh
// that peer's reported height and maxHeightPrevoted, preserving any
// other previously reported fields (address, network version).
func (e *Endpoint) ApplyNodeInfo(peerID string, height, maxHeightPrevoted uint32) {
	info, _ := e.registry.Get(peerID)
	info.ID = peerID
	info.Height = height
	info.MaxHeightPrevoted = maxHeightPrevoted
	e.registry.Upsert(info)
}
