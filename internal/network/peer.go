// Package network implements the peer registry, wire codec, and RPC
// client/endpoint the synchronization mechanisms and the consensus
// coordinator use to talk to other nodes.
package network

import (
	"errors"
	"sync"
	"time"
)

// DefaultBanThreshold is the cumulative penalty score at which a peer is
// considered banned and excluded from peer selection.
const DefaultBanThreshold = 1000

// ErrPeerBanned reports a banned peer. Registry lookups do not return it;
// banned peers are reported through IsBanned and skipped by Candidates.
var ErrPeerBanned = errors.New("network: peer is banned")

// PeerInfo is the gossiped status of a remote node: its reported chain tip
// and BFT height, used by the synchronizer's best-peer selection (peers
// reporting a height and maxHeightPrevoted strictly greater than the local
// node's own).
type PeerInfo struct {
	ID                string
	Address           string
	Height            uint32
	MaxHeightPrevoted uint32
	NetworkVersion    string
}

type peerRecord struct {
	info    PeerInfo
	penalty int
	lastSeen time.Time
}

// Registry tracks known peers, their last-reported status, and an additive
// penalty scoreboard clamped at the registry's ban threshold.
type Registry struct {
	mu          sync.RWMutex
	peers       map[string]*peerRecord
	banThreshold int
}

// NewRegistry constructs an empty peer registry.
func NewRegistry(banThreshold int) *Registry {
	if banThreshold <= 0 {
		banThreshold = DefaultBanThreshold
	}
	return &Registry{peers: make(map[string]*peerRecord), banThreshold: banThreshold}
}

// Upsert records or refreshes a peer's reported status. It is called when a
// peer posts its NodeInfo and when a block attributed to a peer is applied.
func (r *Registry) Upsert(info PeerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.peers[info.ID]
	if !ok {
		rec = &peerRecord{}
		r.peers[info.ID] = rec
	}
	rec.info = info
	rec.lastSeen = time.Now()
}

// Penalize adds points to a peer's penalty score. Returns true if the peer
// crossed the ban threshold.
func (r *Registry) Penalize(peerID string, points int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.peers[peerID]
	if !ok {
		rec = &peerRecord{}
		r.peers[peerID] = rec
	}
	rec.penalty += points
	if rec.penalty > r.banThreshold {
		rec.penalty = r.banThreshold
	}
	return rec.penalty >= r.banThreshold
}

// IsBanned reports whether peerID has crossed the ban threshold.
func (r *Registry) IsBanned(peerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.peers[peerID]
	return ok && rec.penalty >= r.banThreshold
}

// Get returns a peer's last known status.
func (r *Registry) Get(peerID string) (PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.peers[peerID]
	if !ok {
		return PeerInfo{}, false
	}
	return rec.info, true
}

// Candidates returns every non-banned peer reporting a height and
// maxHeightPrevoted strictly greater than the given local values.
func (r *Registry) Candidates(localHeight, localMaxHeightPrevoted uint32) []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []PeerInfo
	for id, rec := range r.peers {
		if rec.penalty >= r.banThreshold {
			continue
		}
		if rec.info.Height > localHeight && rec.info.MaxHeightPrevoted > localMaxHeightPrevoted {
			rec.info.ID = id
			out = append(out, rec.info)
		}
	}
	return out
}

// Remove drops a peer entirely (disconnect).
func (r *Registry) Remove(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, peerID)
}
