package syncer

import (
	"errors"
	"testing"

	"github.com/bludnic/lisk-sdk/internal/consensus"
	"github.com/bludnic/lisk-sdk/internal/network"
)

type fakeMechanism struct {
	validFor bool
	runs     []error // each call to Run pops the next error off the front
	calls    int
}

func (m *fakeMechanism) IsActive() bool { return false }
func (m *fakeMechanism) IsValidFor(peer network.PeerInfo, localHeight, localMaxHeightPrevoted uint32) bool {
	return m.validFor
}
func (m *fakeMechanism) Run(peer network.PeerInfo, client *network.PeerClient) error {
	i := m.calls
	m.calls++
	if i < len(m.runs) {
		return m.runs[i]
	}
	return nil
}

type discardLogger struct{}

func (discardLogger) Infow(msg string, kv ...interface{}) {}
func (discardLogger) Warnw(msg string, kv ...interface{}) {}

func TestSupervisorRunSucceedsOnFirstValidMechanism(t *testing.T) {
	m := &fakeMechanism{validFor: true}
	sup := NewSupervisor(network.NewRegistry(0), discardLogger{}, m)
	if err := sup.Run(network.PeerInfo{ID: "p1"}, nil, 0, 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.calls != 1 {
		t.Fatalf("expected exactly 1 call to Run, got %d", m.calls)
	}
}

func TestSupervisorRunFallsThroughOnDeclined(t *testing.T) {
	declining := &fakeMechanism{validFor: true, runs: []error{ErrDeclined}}
	fallback := &fakeMechanism{validFor: true}
	sup := NewSupervisor(network.NewRegistry(0), discardLogger{}, declining, fallback)
	if err := sup.Run(network.PeerInfo{ID: "p1"}, nil, 0, 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if declining.calls != 1 || fallback.calls != 1 {
		t.Fatalf("expected both mechanisms to run once, got declining=%d fallback=%d", declining.calls, fallback.calls)
	}
}

func TestSupervisorRunRetriesOnApplyPenaltyAndRestart(t *testing.T) {
	m := &fakeMechanism{validFor: true, runs: []error{
		consensus.NewApplyPenaltyAndRestart("peer misbehaved", errors.New("bad batch")),
	}}
	registry := network.NewRegistry(0)
	sup := NewSupervisor(registry, discardLogger{}, m)
	if err := sup.Run(network.PeerInfo{ID: "p1"}, nil, 0, 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.calls != 2 {
		t.Fatalf("expected a retry after the penalty, got %d calls", m.calls)
	}
	info, _ := registry.Get("p1")
	_ = info
}

func TestSupervisorRunRetriesOnRestartWithoutPenalty(t *testing.T) {
	m := &fakeMechanism{validFor: true, runs: []error{
		consensus.NewRestart("timeout", errors.New("rpc timeout")),
	}}
	sup := NewSupervisor(network.NewRegistry(0), discardLogger{}, m)
	if err := sup.Run(network.PeerInfo{ID: "p1"}, nil, 0, 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.calls != 2 {
		t.Fatalf("expected a retry after the transient failure, got %d calls", m.calls)
	}
}

func TestSupervisorRunReturnsNilOnAbort(t *testing.T) {
	m := &fakeMechanism{validFor: true, runs: []error{
		consensus.NewAbort("no common ancestor", nil),
	}}
	sup := NewSupervisor(network.NewRegistry(0), discardLogger{}, m)
	if err := sup.Run(network.PeerInfo{ID: "p1"}, nil, 0, 0); err != nil {
		t.Fatalf("expected Run to return nil after an abort, got %v", err)
	}
	if m.calls != 1 {
		t.Fatalf("expected no retry after an abort, got %d calls", m.calls)
	}
}

func TestSupervisorRunPropagatesUnrecognizedError(t *testing.T) {
	sentinel := errors.New("unexpected failure")
	m := &fakeMechanism{validFor: true, runs: []error{sentinel}}
	sup := NewSupervisor(network.NewRegistry(0), discardLogger{}, m)
	if err := sup.Run(network.PeerInfo{ID: "p1"}, nil, 0, 0); !errors.Is(err, sentinel) {
		t.Fatalf("expected the unrecognized error to propagate unchanged, got %v", err)
	}
}

func TestSupervisorRunErrorsWhenNoMechanismAccepts(t *testing.T) {
	m := &fakeMechanism{validFor: false}
	sup := NewSupervisor(network.NewRegistry(0), discardLogger{}, m)
	if err := sup.Run(network.PeerInfo{ID: "p1"}, nil, 0, 0); err == nil {
		t.Fatalf("expected an error when no mechanism accepts the peer")
	}
}

func TestSupervisorRunExhaustsRestartAttempts(t *testing.T) {
	m := &fakeMechanism{validFor: true, runs: []error{
		consensus.NewRestart("t1", errors.New("x")),
		consensus.NewRestart("t2", errors.New("x")),
		consensus.NewRestart("t3", errors.New("x")),
	}}
	sup := NewSupervisor(network.NewRegistry(0), discardLogger{}, m)
	if err := sup.Run(network.PeerInfo{ID: "p1"}, nil, 0, 0); err == nil {
		t.Fatalf("expected an error once restart attempts are exhausted")
	}
}

func TestBlockSyncIsValidForRequiresStrictlyAhead(t *testing.T) {
	bs := NewBlockSync(nil, 0)
	if bs.IsValidFor(network.PeerInfo{Height: 5, MaxHeightPrevoted: 5}, 5, 5) {
		t.Fatalf("expected a peer at the same height/prevoted to be rejected")
	}
	if !bs.IsValidFor(network.PeerInfo{Height: 6, MaxHeightPrevoted: 6}, 5, 5) {
		t.Fatalf("expected a peer strictly ahead to be accepted")
	}
}

func TestFastChainSwitchIsValidForWindow(t *testing.T) {
	fcs := NewFastChainSwitch(nil, 10, 0) // TWO_ROUNDS = 20
	if !fcs.IsValidFor(network.PeerInfo{Height: 20}, 0, 0) {
		t.Fatalf("expected a peer exactly at the TWO_ROUNDS boundary to be accepted")
	}
	if fcs.IsValidFor(network.PeerInfo{Height: 21}, 0, 0) {
		t.Fatalf("expected a peer one block beyond the TWO_ROUNDS boundary to be rejected")
	}
	if fcs.IsValidFor(network.PeerInfo{Height: 5}, 10, 0) {
		t.Fatalf("expected a peer at or below local height to be rejected")
	}
}
