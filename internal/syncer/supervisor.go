package syncer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bludnic/lisk-sdk/internal/consensus"
	"github.com/bludnic/lisk-sdk/internal/network"
)

// maxRestartAttempts bounds how many times the supervisor retries a single
// triggering DIFFERENT_CHAIN event before giving up as an abort.
const maxRestartAttempts = 3

// Logger is the minimal logging capability the supervisor needs, satisfied
// by *zap.SugaredLogger (see internal/logging).
type Logger interface {
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
}

// Dialer opens an RPC client connection to a peer. In production wiring this
// dials the peer's advertised address over TCP; tests can supply a fake that
// hands back a net.Pipe() end.
type Dialer interface {
	Dial(peer network.PeerInfo) (*network.PeerClient, error)
}

// Supervisor holds the ordered mechanism list and, for each DIFFERENT_CHAIN
// event, runs the first mechanism whose IsValidFor accepts the peer,
// translating the mechanism's typed errors into peer penalties, restarts,
// or aborts. It implements consensus.SyncCoordinator so the coordinator can
// consult IsActive() and dispatch RequestSync without importing this
// package.
type Supervisor struct {
	mechanisms []Mechanism
	registry   *network.Registry
	log        Logger

	dialer   Dialer
	progress func() (height, maxHeightPrevoted uint32)
	running  atomic.Bool
}

// NewSupervisor builds a Supervisor from an ordered mechanism list — most
// specific first, BlockSync last as the universal fallback.
func NewSupervisor(registry *network.Registry, log Logger, mechanisms ...Mechanism) *Supervisor {
	return &Supervisor{mechanisms: mechanisms, registry: registry, log: log}
}

// SetDialer wires the connection dialer RequestSync uses to reach a peer
// flagged by a DIFFERENT_CHAIN classification.
func (s *Supervisor) SetDialer(d Dialer) { s.dialer = d }

// SetLocalProgress wires the callback RequestSync uses to read the local
// node's current height and maxHeightPrevoted, needed to pick a mechanism.
func (s *Supervisor) SetLocalProgress(f func() (height, maxHeightPrevoted uint32)) {
	s.progress = f
}

// IsActive reports whether any owned mechanism is currently running, or a
// RequestSync dispatch is in flight selecting one.
func (s *Supervisor) IsActive() bool {
	if s.running.Load() {
		return true
	}
	for _, m := range s.mechanisms {
		if m.IsActive() {
			return true
		}
	}
	return false
}

// RequestSync implements consensus.SyncCoordinator: it is called by the
// processor's DIFFERENT_CHAIN classification, still holding the consensus
// mutex, so the actual dial-and-run sequence (which needs that same mutex
// via the coordinator's ExecuteValidated/Verify/DeleteLastBlock) is
// dispatched on a goroutine. A sync already in flight is not restarted.
func (s *Supervisor) RequestSync(peerID string, peerHeight, peerMaxHeightPrevoted uint32) {
	if s.dialer == nil || s.progress == nil {
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	peer, ok := s.registry.Get(peerID)
	if !ok {
		peer = network.PeerInfo{ID: peerID, Height: peerHeight, MaxHeightPrevoted: peerMaxHeightPrevoted}
	}

	go func() {
		defer s.running.Store(false)

		client, err := s.dialer.Dial(peer)
		if err != nil {
			s.log.Warnw("sync dial failed", "peer", peer.ID, "error", err)
			return
		}
		defer client.Close()

		localHeight, localMaxHeightPrevoted := s.progress()
		if err := s.Run(peer, client, localHeight, localMaxHeightPrevoted); err != nil {
			s.log.Warnw("sync run failed", "peer", peer.ID, "error", err)
		}
	}()
}

// Run drives synchronization against peer using client, selecting the first
// valid mechanism and retrying per this error taxonomy:
//   - ApplyPenaltyAndRestartError: penalize the peer, retry from the top.
//   - RestartError: retry from the top, no penalty.
//   - AbortError: log and return nil (idle).
//   - ErrDeclined (raised by FastChainSwitch): try the next mechanism in order.
//   - any other error: propagated to the caller unchanged.
func (s *Supervisor) Run(peer network.PeerInfo, client *network.PeerClient, localHeight, localMaxHeightPrevoted uint32) error {
attemptLoop:
	for attempt := 0; attempt < maxRestartAttempts; attempt++ {
		ran := false
		for _, m := range s.mechanisms {
			if !m.IsValidFor(peer, localHeight, localMaxHeightPrevoted) {
				continue
			}
			ran = true
			err := m.Run(peer, client)
			if err == nil {
				return nil
			}
			if errors.Is(err, ErrDeclined) {
				continue
			}

			var restartAndPenalty *consensus.ApplyPenaltyAndRestartError
			var restart *consensus.RestartError
			var abort *consensus.AbortError
			switch {
			case errors.As(err, &restartAndPenalty):
				s.registry.Penalize(peer.ID, consensus.PenaltyPoints)
				s.log.Warnw("sync mechanism failed, penalizing peer and restarting", "peer", peer.ID, "error", err)
				continue attemptLoop
			case errors.As(err, &restart):
				s.log.Warnw("sync mechanism transient failure, restarting", "peer", peer.ID, "error", err)
				continue attemptLoop
			case errors.As(err, &abort):
				s.log.Infow("sync aborted", "peer", peer.ID, "error", err)
				return nil
			default:
				return err
			}
		}
		if !ran {
			return fmt.Errorf("syncer: no mechanism accepted peer %s", peer.ID)
		}
	}
	return fmt.Errorf("syncer: exhausted %d restart attempts against peer %s", maxRestartAttempts, peer.ID)
}
