package crypto

import (
	"errors"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// certificateDST is the domain-separation tag hashed into every BLS
// signature this package produces, preventing cross-protocol signature
// reuse. BuildCertificateMessage additionally prepends "LSK_CE_"+networkID
// to the certificate bytes before this tag is applied.
var certificateDST = []byte("CONSENSUS_CORE_BLS_CERTIFICATE_V1")

var (
	// ErrBLSVerifyFailed covers any single or aggregate BLS verification failure.
	ErrBLSVerifyFailed = errors.New("crypto: bls verification failed")
	// ErrEmptyAggregate is returned when an aggregate is attempted over zero signers.
	ErrEmptyAggregate = errors.New("crypto: cannot aggregate zero signatures")
)

// BLSPrivateKey is a validator's BLS signing key: a scalar in the scalar field Fr.
type BLSPrivateKey struct {
	scalar fr.Element
}

// BLSPublicKey is sk*G2, the validator's BLS public key.
type BLSPublicKey struct {
	point bls12381.G2Affine
}

// NewBLSPrivateKeyFromBytes decodes a 32-byte scalar into a private key.
func NewBLSPrivateKeyFromBytes(b []byte) (*BLSPrivateKey, error) {
	if len(b) != fr.Bytes {
		return nil, errors.New("crypto: bls private key must be 32 bytes")
	}
	var s fr.Element
	s.SetBytes(b)
	return &BLSPrivateKey{scalar: s}, nil
}

// Public derives the public key sk*G2 for this private key.
func (k *BLSPrivateKey) Public() *BLSPublicKey {
	_, _, _, g2Gen := bls12381.Generators()
	var s big.Int
	k.scalar.BigInt(&s)
	var pub bls12381.G2Affine
	pub.ScalarMultiplication(&g2Gen, &s)
	return &BLSPublicKey{point: pub}
}

// Bytes returns the compressed public key encoding.
func (p *BLSPublicKey) Bytes() []byte {
	b := p.point.Bytes()
	return b[:]
}

// BLSPublicKeyFromBytes decodes a compressed G2 public key.
func BLSPublicKeyFromBytes(b []byte) (*BLSPublicKey, error) {
	var p bls12381.G2Affine
	if _, err := p.SetBytes(b); err != nil {
		return nil, err
	}
	return &BLSPublicKey{point: p}, nil
}

// BLSSignature is a single or aggregated BLS signature, a point in G1.
type BLSSignature struct {
	point bls12381.G1Affine
}

// Bytes returns the compressed signature encoding.
func (s *BLSSignature) Bytes() []byte {
	b := s.point.Bytes()
	return b[:]
}

// BLSSignatureFromBytes decodes a compressed G1 signature.
func BLSSignatureFromBytes(b []byte) (*BLSSignature, error) {
	var p bls12381.G1Affine
	if _, err := p.SetBytes(b); err != nil {
		return nil, err
	}
	return &BLSSignature{point: p}, nil
}

// Sign signs msg (already domain-separated by the caller, see
// BuildCertificateMessage) by hashing to G1 and scalar-multiplying by sk.
func (k *BLSPrivateKey) Sign(msg []byte) (*BLSSignature, error) {
	hp, err := bls12381.HashToG1(msg, certificateDST)
	if err != nil {
		return nil, err
	}
	var s big.Int
	k.scalar.BigInt(&s)
	var sig bls12381.G1Affine
	sig.ScalarMultiplication(&hp, &s)
	return &BLSSignature{point: sig}, nil
}

// Verify checks a single BLS signature: e(sig, G2) == e(H(msg), pub).
func Verify(pub *BLSPublicKey, msg []byte, sig *BLSSignature) error {
	hp, err := bls12381.HashToG1(msg, certificateDST)
	if err != nil {
		return err
	}
	_, _, _, g2Gen := bls12381.Generators()

	lhs, err := bls12381.Pair([]bls12381.G1Affine{sig.point}, []bls12381.G2Affine{g2Gen})
	if err != nil {
		return err
	}
	rhs, err := bls12381.Pair([]bls12381.G1Affine{hp}, []bls12381.G2Affine{pub.point})
	if err != nil {
		return err
	}
	if !lhs.Equal(&rhs) {
		return ErrBLSVerifyFailed
	}
	return nil
}

// Aggregate combines several single signatures (over the same message, by
// distinct signers) into one aggregate signature by summing the G1 points.
func Aggregate(sigs []*BLSSignature) (*BLSSignature, error) {
	if len(sigs) == 0 {
		return nil, ErrEmptyAggregate
	}
	var acc bls12381.G1Jac
	acc.FromAffine(&sigs[0].point)
	for _, s := range sigs[1:] {
		var p bls12381.G1Jac
		p.FromAffine(&s.point)
		acc.AddAssign(&p)
	}
	var out bls12381.G1Affine
	out.FromJacobian(&acc)
	return &BLSSignature{point: out}, nil
}

// AggregateVerify checks an aggregate signature against the same message
// signed by all of pubs — all selected validators sign the identical
// certificate for a height.
func AggregateVerify(pubs []*BLSPublicKey, msg []byte, agg *BLSSignature) error {
	if len(pubs) == 0 {
		return ErrEmptyAggregate
	}
	var accPub bls12381.G2Jac
	accPub.FromAffine(&pubs[0].point)
	for _, p := range pubs[1:] {
		var j bls12381.G2Jac
		j.FromAffine(&p.point)
		accPub.AddAssign(&j)
	}
	var combinedPub bls12381.G2Affine
	combinedPub.FromJacobian(&accPub)

	return Verify(&BLSPublicKey{point: combinedPub}, msg, agg)
}

// BuildCertificateMessage tags the certificate bytes with the network
// identifier and the literal ASCII prefix "LSK_CE_", so BLS signatures
// over certificates cannot be replayed across networks.
func BuildCertificateMessage(networkID []byte, certificateBytes []byte) []byte {
	tag := append([]byte("LSK_CE_"), networkID...)
	return append(tag, certificateBytes...)
}
