// Package chain holds the consensus core's data model: block headers,
// blocks, and the persisted chain of them.
package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLength-independent field sizes used by the canonical encoding.
const (
	idLength        = 32
	addressLength   = 20
	signatureLength = 64
)

var (
	// ErrMalformedHeader is returned when canonical decoding fails structurally.
	ErrMalformedHeader = errors.New("chain: malformed header bytes")
	// ErrMalformedBlock is returned when the outer envelope (header||len||payload) is malformed.
	ErrMalformedBlock = errors.New("chain: malformed block envelope")
)

// AggregateCommit is embedded, optionally, in a Header. See bft.AggregateCommit
// for the authoritative type; chain keeps its own copy of the wire shape so
// headers round-trip without bft types in the Header struct.
type AggregateCommit struct {
	Height                 uint32
	AggregationBits        []byte
	CertificateSignature   []byte
}

func (a *AggregateCommit) isEmpty() bool {
	return a == nil || (len(a.AggregationBits) == 0 && len(a.CertificateSignature) == 0)
}

// Header is the canonical, hashed, signed part of a Block.
//
// Field order here IS the wire order: encode/decode must not reorder fields,
// since the header id is the hash of this exact byte layout (spec §6).
type Header struct {
	Height             uint32
	PreviousBlockID    [idLength]byte
	GeneratorAddress   [addressLength]byte
	Timestamp          uint32
	Version            uint8
	TransactionRoot    [idLength]byte
	StateRoot          [idLength]byte
	ValidatorsHash     [idLength]byte
	AggregateCommit    *AggregateCommit // optional
	MaxHeightGenerated uint32
	MaxHeightPrevoted  uint32
	Signature          []byte // EdDSA signature, fixed 64 bytes once signed
}

// Block is the full unit of consensus: header, module assets, and payload
// (transactions). Assets/Payload transaction execution is delegated to an
// injected TransactionExecutor (see consensus.StateMachine) — chain only
// carries the opaque, already-decoded transaction list needed to recompute
// TransactionRoot and to persist/replay the block.
type Block struct {
	Header       Header
	Transactions []Transaction
}

// Transaction is the minimal shape the chain package needs: enough to
// compute a transaction root and to persist/retrieve by id. Signature
// checking, nonce checking and per-module dispatch live outside chain,
// in the injected state machine executor.
type Transaction struct {
	ID        [idLength]byte
	ModuleID  uint32
	AssetID   uint32
	Nonce     uint64
	SenderKey []byte
	Signature []byte
	Params    []byte
}

// CanonicalBytes serializes the header in the exact field order of the type,
// big-endian fixed-width integers, length-prefixed variable fields. This is
// what gets hashed for the block id and signed by the generator.
func (h *Header) CanonicalBytes() []byte {
	buf := new(bytes.Buffer)
	writeU32(buf, h.Height)
	buf.Write(h.PreviousBlockID[:])
	buf.Write(h.GeneratorAddress[:])
	writeU32(buf, h.Timestamp)
	buf.WriteByte(h.Version)
	buf.Write(h.TransactionRoot[:])
	buf.Write(h.StateRoot[:])
	buf.Write(h.ValidatorsHash[:])
	if h.AggregateCommit.isEmpty() {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		writeU32(buf, h.AggregateCommit.Height)
		writeBytes(buf, h.AggregateCommit.AggregationBits)
		writeBytes(buf, h.AggregateCommit.CertificateSignature)
	}
	writeU32(buf, h.MaxHeightGenerated)
	writeU32(buf, h.MaxHeightPrevoted)
	return buf.Bytes()
}

// SignedBytes is what the generator's EdDSA signature is computed over: the
// canonical header bytes without the signature field (the signature field
// does not exist yet at signing time, so CanonicalBytes already excludes it).
func (h *Header) SignedBytes() []byte {
	return h.CanonicalBytes()
}

// ID returns the header's id: sha256 of the canonical encoding. Two headers
// with identical canonical bytes always produce identical ids (R2).
func (h *Header) ID() [idLength]byte {
	return sha256.Sum256(h.CanonicalBytes())
}

// Encode produces the full wire envelope: canonical header, payload length,
// then gob-free raw transaction encoding. Kept separate from CanonicalBytes
// so that changing transaction encoding never perturbs the header id.
func (b *Block) Encode() []byte {
	buf := new(bytes.Buffer)
	hb := b.Header.CanonicalBytes()
	writeBytes(buf, hb)
	writeBytes(buf, b.Header.Signature)

	payload := new(bytes.Buffer)
	writeU32(payload, uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		encodeTransaction(payload, tx)
	}
	writeBytes(buf, payload.Bytes())
	return buf.Bytes()
}

// DecodeBlock is the inverse of Block.Encode. It never consults a trust
// boundary other than byte structure: semantic validation (signatures,
// schema, slot alignment) happens in consensus.Processor.Verify.
func DecodeBlock(data []byte) (*Block, error) {
	r := bytes.NewReader(data)
	hb, err := readBytes(r)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedBlock, err)
	}
	sig, err := readBytes(r)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformedBlock, err)
	}
	payload, err := readBytes(r)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedBlock, err)
	}

	h, err := decodeHeader(hb)
	if err != nil {
		return nil, err
	}
	h.Signature = sig

	pr := bytes.NewReader(payload)
	var n uint32
	if err := binary.Read(pr, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: tx count: %v", ErrMalformedBlock, err)
	}
	txs := make([]Transaction, 0, n)
	for i := uint32(0); i < n; i++ {
		tx, err := decodeTransaction(pr)
		if err != nil {
			return nil, fmt.Errorf("%w: tx %d: %v", ErrMalformedBlock, i, err)
		}
		txs = append(txs, tx)
	}
	return &Block{Header: *h, Transactions: txs}, nil
}

func decodeHeader(hb []byte) (*Header, error) {
	r := bytes.NewReader(hb)
	h := &Header{}
	var err error
	if h.Height, err = readU32(r); err != nil {
		return nil, fmt.Errorf("%w: height: %v", ErrMalformedHeader, err)
	}
	if _, err := fillFixed(r, h.PreviousBlockID[:]); err != nil {
		return nil, fmt.Errorf("%w: previousBlockID: %v", ErrMalformedHeader, err)
	}
	if _, err := fillFixed(r, h.GeneratorAddress[:]); err != nil {
		return nil, fmt.Errorf("%w: generatorAddress: %v", ErrMalformedHeader, err)
	}
	if h.Timestamp, err = readU32(r); err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", ErrMalformedHeader, err)
	}
	v, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: version: %v", ErrMalformedHeader, err)
	}
	h.Version = v
	if _, err := fillFixed(r, h.TransactionRoot[:]); err != nil {
		return nil, fmt.Errorf("%w: transactionRoot: %v", ErrMalformedHeader, err)
	}
	if _, err := fillFixed(r, h.StateRoot[:]); err != nil {
		return nil, fmt.Errorf("%w: stateRoot: %v", ErrMalformedHeader, err)
	}
	if _, err := fillFixed(r, h.ValidatorsHash[:]); err != nil {
		return nil, fmt.Errorf("%w: validatorsHash: %v", ErrMalformedHeader, err)
	}
	hasAgg, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: aggregateCommit presence: %v", ErrMalformedHeader, err)
	}
	if hasAgg == 1 {
		agg := &AggregateCommit{}
		if agg.Height, err = readU32(r); err != nil {
			return nil, fmt.Errorf("%w: aggregateCommit height: %v", ErrMalformedHeader, err)
		}
		if agg.AggregationBits, err = readBytes(r); err != nil {
			return nil, fmt.Errorf("%w: aggregateCommit bits: %v", ErrMalformedHeader, err)
		}
		if agg.CertificateSignature, err = readBytes(r); err != nil {
			return nil, fmt.Errorf("%w: aggregateCommit sig: %v", ErrMalformedHeader, err)
		}
		h.AggregateCommit = agg
	}
	if h.MaxHeightGenerated, err = readU32(r); err != nil {
		return nil, fmt.Errorf("%w: maxHeightGenerated: %v", ErrMalformedHeader, err)
	}
	if h.MaxHeightPrevoted, err = readU32(r); err != nil {
		return nil, fmt.Errorf("%w: maxHeightPrevoted: %v", ErrMalformedHeader, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrMalformedHeader)
	}
	return h, nil
}

func encodeTransaction(buf *bytes.Buffer, tx Transaction) {
	buf.Write(tx.ID[:])
	writeU32(buf, tx.ModuleID)
	writeU32(buf, tx.AssetID)
	writeU64(buf, tx.Nonce)
	writeBytes(buf, tx.SenderKey)
	writeBytes(buf, tx.Signature)
	writeBytes(buf, tx.Params)
}

func decodeTransaction(r *bytes.Reader) (Transaction, error) {
	var tx Transaction
	if _, err := fillFixed(r, tx.ID[:]); err != nil {
		return tx, err
	}
	var err error
	if tx.ModuleID, err = readU32(r); err != nil {
		return tx, err
	}
	if tx.AssetID, err = readU32(r); err != nil {
		return tx, err
	}
	if tx.Nonce, err = readU64(r); err != nil {
		return tx, err
	}
	if tx.SenderKey, err = readBytes(r); err != nil {
		return tx, err
	}
	if tx.Signature, err = readBytes(r); err != nil {
		return tx, err
	}
	if tx.Params, err = readBytes(r); err != nil {
		return tx, err
	}
	return tx, nil
}

// TransactionRoot computes a simple Merkle root over the transaction ids,
// pairwise sha256, duplicating the last element on odd levels. Deterministic
// and order-sensitive, so block application stays deterministic.
func TransactionRoot(txs []Transaction) [idLength]byte {
	if len(txs) == 0 {
		return [idLength]byte{}
	}
	level := make([][idLength]byte, len(txs))
	for i, tx := range txs {
		level[i] = tx.ID
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][idLength]byte, len(level)/2)
		for i := 0; i < len(next); i++ {
			h := sha256.New()
			h.Write(level[2*i][:])
			h.Write(level[2*i+1][:])
			copy(next[i][:], h.Sum(nil))
		}
		level = next
	}
	return level[0]
}

// --- small binary helpers ---

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := fillFixed(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := fillFixed(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, fmt.Errorf("length prefix %d exceeds remaining %d bytes", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := fillFixed(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func fillFixed(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err != nil {
		return n, err
	}
	if n != len(b) {
		return n, fmt.Errorf("short read: got %d want %d", n, len(b))
	}
	return n, nil
}
