package bft

import (
	"errors"

	"github.com/bludnic/lisk-sdk/internal/crypto"
)

var (
	// ErrEmptyAggregateCommit is returned by VerifyAggregateCommit on an
	// aggregate with no signature or no set bits.
	ErrEmptyAggregateCommit = errors.New("bft: empty aggregate commit")
	// ErrAggregateTooOld rejects an aggregate at or below maxHeightCertified.
	ErrAggregateTooOld = errors.New("bft: aggregate commit height not above maxHeightCertified")
	// ErrAggregateTooNew rejects an aggregate above maxHeightPrecommitted.
	ErrAggregateTooNew = errors.New("bft: aggregate commit height above maxHeightPrecommitted")
	// ErrAggregateCrossesParamChange rejects an aggregate that would span a parameter change.
	ErrAggregateCrossesParamChange = errors.New("bft: aggregate commit height crosses a parameter change")
	// ErrAggregateBelowThreshold is returned when the signer set's weight is insufficient.
	ErrAggregateBelowThreshold = errors.New("bft: aggregate commit weighted sum below threshold")
)

// AggregateCommit is a BLS-aggregated signature over the certificate at
// Height by the validators selected in AggregationBits.
type AggregateCommit struct {
	Height               uint32
	AggregationBits      []byte // bitstring over the active validator set at Height, ordered by index
	CertificateSignature []byte // aggregated BLS signature
}

// IsEmpty reports whether a is the sentinel "no finalizing height found" value.
func (a AggregateCommit) IsEmpty() bool {
	return len(a.AggregationBits) == 0 && len(a.CertificateSignature) == 0
}

// bitsForByteLength returns the number of bytes needed to hold n bits,
// rounded up to a whole byte.
func bitsForByteLength(n int) int {
	return (n + 7) / 8
}

func setBit(bits []byte, i int) {
	bits[i/8] |= 1 << uint(i%8)
}

func hasBit(bits []byte, i int) bool {
	if i/8 >= len(bits) {
		return false
	}
	return bits[i/8]&(1<<uint(i%8)) != 0
}

// weightedSum returns the sum of BFTWeight for every validator whose bit is
// set, and the list of corresponding BLS public keys in index order —
// needed by AggregateVerify, which must present keys in the same order they
// were combined when the signature was produced.
func weightedSum(params Parameters, bits []byte) (uint64, []*crypto.BLSPublicKey) {
	var sum uint64
	var keys []*crypto.BLSPublicKey
	for i, v := range params.Validators {
		if hasBit(bits, i) {
			sum += v.BFTWeight
			keys = append(keys, v.BLSKey)
		}
	}
	return sum, keys
}

// certificateForHeader builds the certificate tagged for height's header,
// shared by single-commit creation/verification and aggregate verification.
func certificateForHeader(networkID []byte, blockID [32]byte, height, timestamp uint32, stateRoot, validatorsHash [32]byte) []byte {
	cert := crypto.Certificate{
		BlockID:        blockID,
		Height:         height,
		Timestamp:      timestamp,
		StateRoot:      stateRoot,
		ValidatorsHash: validatorsHash,
	}
	return crypto.BuildCertificateMessage(networkID, cert.Bytes())
}
