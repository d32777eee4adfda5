package crypto

import (
	"bytes"
	"testing"
)

func seed(b byte) []byte {
	s := make([]byte, 32)
	s[31] = b
	return s
}

func TestBLSSignVerifyRoundTrip(t *testing.T) {
	priv, err := NewBLSPrivateKeyFromBytes(seed(1))
	if err != nil {
		t.Fatalf("NewBLSPrivateKeyFromBytes: %v", err)
	}
	msg := []byte("certificate bytes")
	sig, err := priv.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(priv.Public(), msg, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestBLSVerifyRejectsWrongMessage(t *testing.T) {
	priv, _ := NewBLSPrivateKeyFromBytes(seed(2))
	sig, _ := priv.Sign([]byte("original"))
	if err := Verify(priv.Public(), []byte("tampered"), sig); err == nil {
		t.Fatalf("expected verification to fail for a tampered message")
	}
}

func TestBLSVerifyRejectsWrongKey(t *testing.T) {
	priv1, _ := NewBLSPrivateKeyFromBytes(seed(3))
	priv2, _ := NewBLSPrivateKeyFromBytes(seed(4))
	msg := []byte("certificate bytes")
	sig, _ := priv1.Sign(msg)
	if err := Verify(priv2.Public(), msg, sig); err == nil {
		t.Fatalf("expected verification to fail against the wrong public key")
	}
}

func TestBLSPublicKeyEncodeDecodeRoundTrip(t *testing.T) {
	priv, _ := NewBLSPrivateKeyFromBytes(seed(5))
	pub := priv.Public()
	decoded, err := BLSPublicKeyFromBytes(pub.Bytes())
	if err != nil {
		t.Fatalf("BLSPublicKeyFromBytes: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), pub.Bytes()) {
		t.Fatalf("decoded public key does not match original")
	}
}

func TestBLSSignatureEncodeDecodeRoundTrip(t *testing.T) {
	priv, _ := NewBLSPrivateKeyFromBytes(seed(6))
	sig, _ := priv.Sign([]byte("msg"))
	decoded, err := BLSSignatureFromBytes(sig.Bytes())
	if err != nil {
		t.Fatalf("BLSSignatureFromBytes: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), sig.Bytes()) {
		t.Fatalf("decoded signature does not match original")
	}
}

func TestAggregateAndAggregateVerify(t *testing.T) {
	msg := []byte("shared certificate")
	var privs []*BLSPrivateKey
	var pubs []*BLSPublicKey
	var sigs []*BLSSignature
	for i := byte(1); i <= 4; i++ {
		priv, err := NewBLSPrivateKeyFromBytes(seed(i))
		if err != nil {
			t.Fatalf("NewBLSPrivateKeyFromBytes(%d): %v", i, err)
		}
		sig, err := priv.Sign(msg)
		if err != nil {
			t.Fatalf("Sign(%d): %v", i, err)
		}
		privs = append(privs, priv)
		pubs = append(pubs, priv.Public())
		sigs = append(sigs, sig)
	}

	agg, err := Aggregate(sigs)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if err := AggregateVerify(pubs, msg, agg); err != nil {
		t.Fatalf("AggregateVerify: %v", err)
	}
}

func TestAggregateVerifyRejectsMissingSigner(t *testing.T) {
	msg := []byte("shared certificate")
	var pubs []*BLSPublicKey
	var sigs []*BLSSignature
	for i := byte(1); i <= 3; i++ {
		priv, _ := NewBLSPrivateKeyFromBytes(seed(i))
		sig, _ := priv.Sign(msg)
		pubs = append(pubs, priv.Public())
		sigs = append(sigs, sig)
	}
	agg, err := Aggregate(sigs)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	// Verify against only the first two public keys: the aggregate signature
	// includes a third signer's contribution, so this must fail.
	if err := AggregateVerify(pubs[:2], msg, agg); err == nil {
		t.Fatalf("expected AggregateVerify to fail when a signer's key is omitted")
	}
}

func TestAggregateRejectsEmptyInput(t *testing.T) {
	if _, err := Aggregate(nil); err != ErrEmptyAggregate {
		t.Fatalf("expected ErrEmptyAggregate, got %v", err)
	}
}

func TestAggregateVerifyRejectsEmptyKeys(t *testing.T) {
	priv, _ := NewBLSPrivateKeyFromBytes(seed(7))
	sig, _ := priv.Sign([]byte("msg"))
	if err := AggregateVerify(nil, []byte("msg"), sig); err != ErrEmptyAggregate {
		t.Fatalf("expected ErrEmptyAggregate, got %v", err)
	}
}

func TestBuildCertificateMessageDomainSeparation(t *testing.T) {
	cert := []byte("cert-bytes")
	a := BuildCertificateMessage([]byte("network-a"), cert)
	b := BuildCertificateMessage([]byte("network-b"), cert)
	if bytes.Equal(a, b) {
		t.Fatalf("expected different network ids to produce different certificate messages")
	}
	if !bytes.HasPrefix(a, []byte("LSK_CE_network-a")) {
		t.Fatalf("expected LSK_CE_ prefix, got %q", a)
	}
}
