// Package bft implements the commit pool and the piecewise-constant BFT
// parameter/height bookkeeping: certificate thresholds and validator weights
// that hold until the next recorded change height.
package bft

import (
	"errors"
	"sort"

	"github.com/bludnic/lisk-sdk/internal/crypto"
)

// ErrNoParamsAtHeight is returned when a height has no defined BFT parameters.
var ErrNoParamsAtHeight = errors.New("bft: no parameters defined for height")

// ValidatorInfo is one entry of the active validator set at a given height,
// ordered by validator index.
type ValidatorInfo struct {
	Address   [20]byte
	BLSKey    *crypto.BLSPublicKey
	BFTWeight uint64
}

// Parameters are the BFT parameters in force starting at some height:
// certificate threshold and the ordered, weighted validator set.
type Parameters struct {
	CertificateThreshold uint64
	Validators           []ValidatorInfo
}

// TotalWeight sums the BFT weight of every active validator.
func (p Parameters) TotalWeight() uint64 {
	var total uint64
	for _, v := range p.Validators {
		total += v.BFTWeight
	}
	return total
}

// IndexOf returns the validator-set index of addr, or -1 if not present.
// Validator order is the canonical order used for aggregationBits: bit i
// corresponds to Validators[i].
func (p Parameters) IndexOf(addr [20]byte) int {
	for i, v := range p.Validators {
		if v.Address == addr {
			return i
		}
	}
	return -1
}

// ParamsProvider resolves BFT parameters as of a height, and tells the
// commit pool where the next parameter-change height lies. Parameters are
// piecewise-constant: they change only at explicitly stored heights.
type ParamsProvider interface {
	// ParametersAt returns the parameters in force at height.
	ParametersAt(height uint32) (Parameters, error)
	// NextParamChangeHeight returns the first height greater than after at
	// which parameters differ from those at `after`, and whether one exists
	// (false means the current parameters hold for all future heights).
	NextParamChangeHeight(after uint32) (uint32, bool)
}

// StaticParamsProvider is a ParamsProvider over explicitly registered
// parameter sets indexed by their first-effective height — adequate for
// tests and for networks that change validator sets only at genesis and at
// a handful of on-chain governance heights.
type StaticParamsProvider struct {
	changes []paramChange
}

type paramChange struct {
	fromHeight uint32
	params     Parameters
}

// NewStaticParamsProvider builds a provider from (fromHeight, Parameters)
// pairs; fromHeight=0 must be present.
func NewStaticParamsProvider(entries map[uint32]Parameters) *StaticParamsProvider {
	p := &StaticParamsProvider{}
	for h, params := range entries {
		p.changes = append(p.changes, paramChange{fromHeight: h, params: params})
	}
	sort.Slice(p.changes, func(i, j int) bool { return p.changes[i].fromHeight < p.changes[j].fromHeight })
	return p
}

// ParametersAt implements ParamsProvider.
func (p *StaticParamsProvider) ParametersAt(height uint32) (Parameters, error) {
	var found *Parameters
	for i := range p.changes {
		if p.changes[i].fromHeight <= height {
			found = &p.changes[i].params
		} else {
			break
		}
	}
	if found == nil {
		return Parameters{}, ErrNoParamsAtHeight
	}
	return *found, nil
}

// NextParamChangeHeight implements ParamsProvider.
func (p *StaticParamsProvider) NextParamChangeHeight(after uint32) (uint32, bool) {
	for _, c := range p.changes {
		if c.fromHeight > after {
			return c.fromHeight, true
		}
	}
	return 0, false
}
