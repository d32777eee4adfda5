package bft

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bludnic/lisk-sdk/internal/crypto"
)

var (
	// ErrCommitBelowRemovalHeight rejects a commit at or below maxRemovalHeight.
	ErrCommitBelowRemovalHeight = errors.New("bft: commit height at or below maxRemovalHeight")
	// ErrCommitNoMatchingHeader rejects a commit whose blockID doesn't match the stored header.
	ErrCommitNoMatchingHeader = errors.New("bft: no stored header matches commit's height/blockID")
	// ErrCommitAlreadyStored rejects a duplicate.
	ErrCommitAlreadyStored = errors.New("bft: commit already present in pool")
	// ErrCommitNotInteresting rejects a commit outside the valid range and
	// with no future parameter change pending.
	ErrCommitNotInteresting = errors.New("bft: commit height not interesting")
	// ErrCommitUnknownValidator rejects a commit from a non-active validator —
	// this is malicious and distinguishable from merely "not interesting".
	ErrCommitUnknownValidator = errors.New("bft: validator not active at commit height")
	// ErrCommitBadSignature rejects a commit whose BLS signature fails — malicious.
	ErrCommitBadSignature = errors.New("bft: commit signature verification failed")
)

// SingleCommit is one validator's BLS signature over a committed header's
// certificate.
type SingleCommit struct {
	BlockID              [32]byte
	Height               uint32
	ValidatorAddress     [20]byte
	CertificateSignature []byte
}

func commitKey(c SingleCommit) string {
	return fmt.Sprintf("%d:%x:%x", c.Height, c.ValidatorAddress, c.CertificateSignature)
}

// HeaderInfo is the subset of a stored header the commit pool needs to
// validate and (re)build certificates, decoupling bft from chain's full
// Block/Header type.
type HeaderInfo struct {
	BlockID        [32]byte
	Height         uint32
	Timestamp      uint32
	StateRoot      [32]byte
	ValidatorsHash [32]byte
}

// HeaderSource resolves stored headers by height, as the commit pool needs
// to confirm a commit's blockID matches what the local chain actually has.
type HeaderSource interface {
	HeaderAt(height uint32) (HeaderInfo, bool)
}

// CommitPool collects single commits, aggregates them into threshold
// signatures, and selects finalizing heights.
type CommitPool struct {
	mu          sync.Mutex
	nonGossiped map[uint32][]SingleCommit
	gossiped    map[uint32][]SingleCommit
	networkID   []byte
	rangeStored uint32 // COMMIT_RANGE_STORED, default 50
	params      ParamsProvider
	headers     HeaderSource
	heights     *Heights
	maxRemoval  func() uint32 // aggregateCommit.height recorded at finalizedHeight
}

// NewCommitPool constructs a commit pool. maxRemovalHeightFn must return the
// aggregate-commit height recorded in the header at the chain's current
// finalizedHeight — the definition of maxRemovalHeight.
func NewCommitPool(networkID []byte, rangeStored uint32, params ParamsProvider, headers HeaderSource, heights *Heights, maxRemovalHeightFn func() uint32) *CommitPool {
	return &CommitPool{
		nonGossiped: make(map[uint32][]SingleCommit),
		gossiped:    make(map[uint32][]SingleCommit),
		networkID:   networkID,
		rangeStored: rangeStored,
		params:      params,
		headers:     headers,
		heights:     heights,
		maxRemoval:  maxRemovalHeightFn,
	}
}

// CreateSingleCommit BLS-signs the certificate derived from header on behalf
// of the given validator key.
func (p *CommitPool) CreateSingleCommit(h HeaderInfo, validatorAddress [20]byte, priv *crypto.BLSPrivateKey) (SingleCommit, error) {
	msg := certificateForHeader(p.networkID, h.BlockID, h.Height, h.Timestamp, h.StateRoot, h.ValidatorsHash)
	sig, err := priv.Sign(msg)
	if err != nil {
		return SingleCommit{}, err
	}
	return SingleCommit{
		BlockID:              h.BlockID,
		Height:               h.Height,
		ValidatorAddress:     validatorAddress,
		CertificateSignature: sig.Bytes(),
	}, nil
}

// AddCommit deduplicates by (height, validatorAddress, signature) and
// appends to the non-gossiped pool.
func (p *CommitPool) AddCommit(c SingleCommit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := commitKey(c)
	for _, existing := range p.nonGossiped[c.Height] {
		if commitKey(existing) == key {
			return
		}
	}
	for _, existing := range p.gossiped[c.Height] {
		if commitKey(existing) == key {
			return
		}
	}
	p.nonGossiped[c.Height] = append(p.nonGossiped[c.Height], c)
}

// ValidateCommit runs a commit through the full acceptance pipeline: removal
// height, matching header, deduplication, range/interest, validator
// membership, and signature verification. It returns (true, nil) when the
// commit is valid and should be accepted; (false, nil) when the commit is
// merely uninteresting (stale, duplicate, or out of range); and (false, err)
// when the commit is evidence of validator misbehavior (bad signature or
// unknown validator) rather than simple staleness.
func (p *CommitPool) ValidateCommit(c SingleCommit) (bool, error) {
	maxRemoval := p.maxRemoval()
	if c.Height <= maxRemoval {
		return false, nil
	}

	h, ok := p.headers.HeaderAt(c.Height)
	if !ok || h.BlockID != c.BlockID {
		return false, nil
	}

	p.mu.Lock()
	for _, existing := range p.nonGossiped[c.Height] {
		if commitKey(existing) == commitKey(c) {
			p.mu.Unlock()
			return false, nil
		}
	}
	for _, existing := range p.gossiped[c.Height] {
		if commitKey(existing) == commitKey(c) {
			p.mu.Unlock()
			return false, nil
		}
	}
	p.mu.Unlock()

	maxPrecommitted := p.heights.MaxHeightPrecommitted()
	inRange := c.Height+p.rangeStored-1 >= maxPrecommitted && c.Height <= maxPrecommitted
	_, paramsErr := p.params.ParametersAt(c.Height + 1)
	paramsExistNext := paramsErr == nil
	if !inRange && !paramsExistNext {
		return false, nil // neither in range nor still interesting
	}

	params, err := p.params.ParametersAt(c.Height)
	if err != nil {
		return false, nil
	}
	idx := params.IndexOf(c.ValidatorAddress)
	if idx < 0 {
		return false, ErrCommitUnknownValidator
	}

	msg := certificateForHeader(p.networkID, h.BlockID, h.Height, h.Timestamp, h.StateRoot, h.ValidatorsHash)
	sig, err := crypto.BLSSignatureFromBytes(c.CertificateSignature)
	if err != nil {
		return false, ErrCommitBadSignature
	}
	if err := crypto.Verify(params.Validators[idx].BLSKey, msg, sig); err != nil {
		return false, ErrCommitBadSignature
	}
	return true, nil
}

// GetCommitsByHeight returns the concatenation of both pools at h.
func (p *CommitPool) GetCommitsByHeight(h uint32) []SingleCommit {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SingleCommit, 0, len(p.nonGossiped[h])+len(p.gossiped[h]))
	out = append(out, p.nonGossiped[h]...)
	out = append(out, p.gossiped[h]...)
	return out
}

// VerifyAggregateCommit checks that an aggregate commit falls in the
// certifiable height window, respects the active parameter set, and its
// aggregated signature verifies against the weighted validator set.
func (p *CommitPool) VerifyAggregateCommit(a AggregateCommit) error {
	if a.IsEmpty() {
		return ErrEmptyAggregateCommit
	}
	certified := p.heights.MaxHeightCertified()
	precommitted := p.heights.MaxHeightPrecommitted()
	if a.Height <= certified {
		return ErrAggregateTooOld
	}
	if a.Height > precommitted {
		return ErrAggregateTooNew
	}
	if next, ok := p.params.NextParamChangeHeight(certified); ok && a.Height > next-1 {
		return ErrAggregateCrossesParamChange
	}

	h, ok := p.headers.HeaderAt(a.Height)
	if !ok {
		return ErrCommitNoMatchingHeader
	}
	params, err := p.params.ParametersAt(a.Height)
	if err != nil {
		return err
	}
	weight, keys := weightedSum(params, a.AggregationBits)
	if weight < params.CertificateThreshold {
		return ErrAggregateBelowThreshold
	}
	sig, err := crypto.BLSSignatureFromBytes(a.CertificateSignature)
	if err != nil {
		return err
	}
	msg := certificateForHeader(p.networkID, h.BlockID, h.Height, h.Timestamp, h.StateRoot, h.ValidatorsHash)
	if err := crypto.AggregateVerify(keys, msg, sig); err != nil {
		return err
	}
	return nil
}

// SelectAggregateCommit scans descending from min(nextParamChange-1,
// maxHeightPrecommitted) down to maxHeightCertified+1, returning the first
// height whose commits reach threshold, or the empty aggregate otherwise.
func (p *CommitPool) SelectAggregateCommit() (AggregateCommit, error) {
	certified := p.heights.MaxHeightCertified()
	precommitted := p.heights.MaxHeightPrecommitted()

	upper := precommitted
	if next, ok := p.params.NextParamChangeHeight(certified); ok && next-1 < upper {
		upper = next - 1
	}

	for height := upper; height > certified; height-- {
		h, ok := p.headers.HeaderAt(height)
		if !ok {
			continue
		}
		params, err := p.params.ParametersAt(height)
		if err != nil {
			continue
		}
		commits := p.GetCommitsByHeight(height)
		if len(commits) == 0 {
			continue
		}
		bits := make([]byte, bitsForByteLength(len(params.Validators)))
		var sigs []*crypto.BLSSignature
		var weight uint64
		byValidator := make(map[[20]byte]bool)
		for _, c := range commits {
			if byValidator[c.ValidatorAddress] {
				continue
			}
			idx := params.IndexOf(c.ValidatorAddress)
			if idx < 0 {
				continue
			}
			sig, err := crypto.BLSSignatureFromBytes(c.CertificateSignature)
			if err != nil {
				continue
			}
			byValidator[c.ValidatorAddress] = true
			setBit(bits, idx)
			sigs = append(sigs, sig)
			weight += params.Validators[idx].BFTWeight
		}
		if weight < params.CertificateThreshold {
			continue
		}
		agg, err := crypto.Aggregate(sigs)
		if err != nil {
			continue
		}
		_ = h
		return AggregateCommit{Height: height, AggregationBits: bits, CertificateSignature: agg.Bytes()}, nil
	}
	return AggregateCommit{Height: certified, AggregationBits: nil, CertificateSignature: nil}, nil
}

// Job runs the periodic per-block maintenance: evict commits below
// maxRemovalHeight, move newly accumulated non-gossiped commits into the
// gossiped pool (returning them for the caller to actually broadcast), and
// select+return the current best aggregate for publication.
func (p *CommitPool) Job() (toGossip []SingleCommit, selected AggregateCommit, err error) {
	maxRemoval := p.maxRemoval()

	p.mu.Lock()
	for h := range p.nonGossiped {
		if h <= maxRemoval {
			delete(p.nonGossiped, h)
		}
	}
	for h := range p.gossiped {
		if h <= maxRemoval {
			delete(p.gossiped, h)
		}
	}
	var heights []uint32
	for h := range p.nonGossiped {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	for _, h := range heights {
		toGossip = append(toGossip, p.nonGossiped[h]...)
		p.gossiped[h] = append(p.gossiped[h], p.nonGossiped[h]...)
		delete(p.nonGossiped, h)
	}
	p.mu.Unlock()

	selected, err = p.SelectAggregateCommit()
	return toGossip, selected, err
}
