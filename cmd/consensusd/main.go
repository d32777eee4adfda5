// consensusd is a runnable demonstration binary wiring the consensus core's
// packages together end to end: a bolt-backed chain, a single-validator BFT
// parameter set, the commit pool, the processor/coordinator, and a minimal
// network endpoint. It exists to give the otherwise library-only core an
// entrypoint to run; it is not itself part of the consensus core's public
// surface.
package main

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bludnic/lisk-sdk/cmd/consensusd/cli"
	"github.com/bludnic/lisk-sdk/internal/bft"
	"github.com/bludnic/lisk-sdk/internal/chain"
	"github.com/bludnic/lisk-sdk/internal/consensus"
	"github.com/bludnic/lisk-sdk/internal/crypto"
	"github.com/bludnic/lisk-sdk/internal/logging"
	"github.com/bludnic/lisk-sdk/internal/metrics"
	"github.com/bludnic/lisk-sdk/internal/network"
	"github.com/bludnic/lisk-sdk/internal/syncer"
)

// demoRoundLength is the round length (in blocks) used to derive the fast
// chain switch's TWO_ROUNDS window in this demonstration wiring.
const demoRoundLength = 103

var networkID = []byte("consensusd-demo-network")

func main() {
	sugar, err := logging.New()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer sugar.Sync()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	_ = m

	genPub, genPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		sugar.Fatalw("generating demo validator key", "error", err)
	}
	_ = genPriv // a production deployment loads this from a keystore to sign proposals
	blsPriv, err := crypto.NewBLSPrivateKeyFromBytes(sha256Sum([]byte("consensusd-demo-validator")))
	if err != nil {
		sugar.Fatalw("generating demo BLS key", "error", err)
	}

	var genAddr [20]byte
	copy(genAddr[:], sha256Sum(genPub)[:20])

	params := bft.NewStaticParamsProvider(map[uint32]bft.Parameters{
		0: {
			CertificateThreshold: 1,
			Validators: []bft.ValidatorInfo{
				{Address: genAddr, BLSKey: blsPriv.Public(), BFTWeight: 1},
			},
		},
	})

	store, err := chain.OpenBoltStore("consensusd.db")
	if err != nil {
		sugar.Fatalw("opening bolt store", "error", err)
	}
	defer store.Close()
	ch, err := chain.NewChain(store)
	if err != nil {
		sugar.Fatalw("opening chain store", "error", err)
	}

	genesis := &chain.Block{Header: chain.Header{
		Height:            0,
		Timestamp:         uint32(time.Now().Unix()),
		Version:           1,
		TransactionRoot:   chain.TransactionRoot(nil),
		MaxHeightGenerated: 0,
		MaxHeightPrevoted: 0,
	}}

	heights := &bft.Heights{}
	pool := bft.NewCommitPool(networkID, 50, params, ch, heights, ch.AggregateCommitAtFinalizedHeight)

	sm := consensus.NewStateMachine(newDemoStore(), demoExecutor{}, consensus.Hooks{})
	events := consensus.NewEventEmitter()
	events.Subscribe(func(ev consensus.Event) {
		sugar.Infow("consensus event", "type", ev.Type, "height", ev.Block.Header.Height)
	})

	keys := demoKeySource{addr: genAddr, pub: genPub}
	oracle := demoSlotOracle{genesisTime: time.Now(), blockTime: 10 * time.Second}
	broadcaster := logBroadcaster{log: sugar}

	processor := consensus.NewProcessor(ch, sm, heights, pool, events, broadcaster, keys, oracle, networkID)

	coord, err := consensus.NewCoordinator(ch, processor, heights, pool, events, genesis)
	if err != nil {
		sugar.Fatalw("constructing coordinator", "error", err)
	}

	registry := network.NewRegistry(network.DefaultBanThreshold)
	endpoint := network.NewEndpoint(ch, coord, registry, 100)
	coord.SetNodeInfoApplier(endpoint)

	blockSync := syncer.NewBlockSync(coord, 100)
	fastSwitch := syncer.NewFastChainSwitch(coord, demoRoundLength, 100)
	sup := syncer.NewSupervisor(registry, sugar, fastSwitch, blockSync)
	sup.SetDialer(demoDialer{timeout: network.DefaultCallTimeout})
	sup.SetLocalProgress(func() (uint32, uint32) {
		tip := ch.Height()
		if tip < 0 {
			tip = 0
		}
		return uint32(tip), heights.MaxHeightPrevoted()
	})
	coord.SetSyncCoordinator(sup)

	nodeID := uuid.NewString()
	sugar.Infow("consensusd ready", "nodeID", nodeID, "tipHeight", ch.Height())

	if err := cli.NewCLI(coord).Execute(); err != nil {
		sugar.Fatalw("cli error", "error", err)
	}
}

// --- demo-only collaborator implementations ---

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

type demoKeySource struct {
	addr [20]byte
	pub  ed25519.PublicKey
}

func (d demoKeySource) GeneratorKey(height uint32, addr [20]byte) (ed25519.PublicKey, bool) {
	if addr != d.addr {
		return nil, false
	}
	return d.pub, true
}

type demoSlotOracle struct {
	genesisTime time.Time
	blockTime   time.Duration
}

func (o demoSlotOracle) SlotOf(timestamp uint32) int64 {
	t := time.Unix(int64(timestamp), 0)
	return int64(t.Sub(o.genesisTime) / o.blockTime)
}

func (o demoSlotOracle) CurrentSlot() int64 {
	return int64(time.Since(o.genesisTime) / o.blockTime)
}

func (o demoSlotOracle) SlotEndTime(slot int64) time.Time {
	return o.genesisTime.Add(time.Duration(slot+1) * o.blockTime)
}

type logBroadcaster struct {
	log interface {
		Infow(msg string, kv ...interface{})
	}
}

func (b logBroadcaster) Broadcast(blk *chain.Block) error {
	b.log.Infow("broadcasting block", "height", blk.Header.Height)
	return nil
}

// demoDialer dials a peer's advertised address over plain TCP. Production
// deployments would resolve this through the same peer-discovery layer that
// reports PeerInfo.Address in the first place; here the address is taken at
// face value.
type demoDialer struct {
	timeout time.Duration
}

func (d demoDialer) Dial(peer network.PeerInfo) (*network.PeerClient, error) {
	conn, err := net.DialTimeout("tcp", peer.Address, d.timeout)
	if err != nil {
		return nil, fmt.Errorf("demoDialer: dial %s: %w", peer.Address, err)
	}
	return network.NewPeerClient(conn, d.timeout), nil
}

// demoStore is a trivial in-memory StateStore/StateSnapshot: real modules
// back this with the same bolt-backed KV the chain uses, keyed under
// STATE:<module>:<key>; the demo binary only needs enough to exercise the
// pipeline end to end.
type demoStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newDemoStore() *demoStore {
	return &demoStore{data: make(map[string][]byte)}
}

func (s *demoStore) Snapshot() consensus.StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &demoSnapshot{base: s, writes: make(map[string][]byte), before: make(map[string][]byte)}
	return snap
}

func (s *demoStore) Commit(snap consensus.StateSnapshot) error {
	ds, ok := snap.(*demoSnapshot)
	if !ok {
		return fmt.Errorf("demoStore: unexpected snapshot type")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range ds.writes {
		if v == nil {
			delete(s.data, k)
			continue
		}
		s.data[k] = v
	}
	return nil
}

type demoSnapshot struct {
	base   *demoStore
	writes map[string][]byte
	before map[string][]byte
}

func stateKey(module, key string) string { return module + ":" + key }

func (s *demoSnapshot) Get(module, key string) ([]byte, bool) {
	k := stateKey(module, key)
	if v, ok := s.writes[k]; ok {
		return v, v != nil
	}
	s.base.mu.Lock()
	defer s.base.mu.Unlock()
	v, ok := s.base.data[k]
	return v, ok
}

func (s *demoSnapshot) Set(module, key string, value []byte) {
	k := stateKey(module, key)
	if _, recorded := s.before[k]; !recorded {
		s.base.mu.Lock()
		s.before[k] = s.base.data[k]
		s.base.mu.Unlock()
	}
	s.writes[k] = value
}

func (s *demoSnapshot) Root() [32]byte {
	keys := make([]string, 0, len(s.writes))
	for k := range s.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write(s.writes[k])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (s *demoSnapshot) Diff() chain.StateDiff {
	entries := make(map[string][]byte, len(s.before))
	for k, v := range s.before {
		entries[k] = v
	}
	return chain.StateDiff{Entries: entries}
}

// demoExecutor accepts every transaction unconditionally: module-asset
// dispatch is an external concern left to the modules that register with a
// real state machine.
type demoExecutor struct{}

func (demoExecutor) VerifySignature(tx chain.Transaction) error { return nil }
func (demoExecutor) VerifyNonce(tx chain.Transaction, snap consensus.StateSnapshot) error {
	return nil
}
func (demoExecutor) ApplyAsset(tx chain.Transaction, snap consensus.StateSnapshot) ([]consensus.StateEvent, error) {
	return nil, nil
}
