package network

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Message kinds for the hand-rolled RPC envelope: canonical, length-
// prefixed, big-endian — no protobuf/gob on the wire, see DESIGN.md.
const (
	KindPostBlock uint8 = iota + 1
	KindPostNodeInfo
	KindGetLastBlock
	KindGetLastBlockResp
	KindGetBlocksFromID
	KindGetBlocksFromIDResp
	KindGetHighestCommonBlock
	KindGetHighestCommonBlockResp
)

// ErrMalformedMessage is returned by envelope/payload decoding on any
// structural failure — always peer misbehavior at the protocol layer.
var ErrMalformedMessage = errors.New("network: malformed message")

// maxMessageSize bounds a single envelope payload to guard against a
// malicious or buggy peer claiming an enormous length prefix.
const maxMessageSize = 32 << 20 // 32 MiB

// WriteEnvelope frames kind+payload as a 1-byte kind, 4-byte big-endian
// length, then payload, and writes it to w.
func WriteEnvelope(w io.Writer, kind uint8, payload []byte) error {
	var hdr [5]byte
	hdr[0] = kind
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadEnvelope reads one frame written by WriteEnvelope.
func ReadEnvelope(r io.Reader) (uint8, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > maxMessageSize {
		return 0, nil, fmt.Errorf("%w: payload length %d exceeds max %d", ErrMalformedMessage, n, maxMessageSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return hdr[0], payload, nil
}

// NodeInfo is the payload of postNodeInfo: a peer's self-reported status,
// sent with PeerClient.PostNodeInfo.
type NodeInfo struct {
	Height            uint32
	MaxHeightPrevoted uint32
	NetworkVersion    string
}

// EncodeNodeInfo serializes a NodeInfo payload.
func EncodeNodeInfo(n NodeInfo) []byte {
	buf := new(bytes.Buffer)
	writeU32(buf, n.Height)
	writeU32(buf, n.MaxHeightPrevoted)
	writeStr(buf, n.NetworkVersion)
	return buf.Bytes()
}

// DecodeNodeInfo deserializes a NodeInfo payload.
func DecodeNodeInfo(data []byte) (NodeInfo, error) {
	r := bytes.NewReader(data)
	var n NodeInfo
	var err error
	if n.Height, err = readU32(r); err != nil {
		return n, fmt.Errorf("%w: height: %v", ErrMalformedMessage, err)
	}
	if n.MaxHeightPrevoted, err = readU32(r); err != nil {
		return n, fmt.Errorf("%w: maxHeightPrevoted: %v", ErrMalformedMessage, err)
	}
	if n.NetworkVersion, err = readStr(r); err != nil {
		return n, fmt.Errorf("%w: networkVersion: %v", ErrMalformedMessage, err)
	}
	return n, nil
}

// GetBlocksFromIDRequest asks for up to Limit blocks strictly after FromID.
type GetBlocksFromIDRequest struct {
	FromID [32]byte
	Limit  uint32
}

// EncodeGetBlocksFromIDRequest serializes the request.
func EncodeGetBlocksFromIDRequest(req GetBlocksFromIDRequest) []byte {
	buf := new(bytes.Buffer)
	buf.Write(req.FromID[:])
	writeU32(buf, req.Limit)
	return buf.Bytes()
}

// DecodeGetBlocksFromIDRequest deserializes the request.
func DecodeGetBlocksFromIDRequest(data []byte) (GetBlocksFromIDRequest, error) {
	r := bytes.NewReader(data)
	var req GetBlocksFromIDRequest
	if _, err := io.ReadFull(r, req.FromID[:]); err != nil {
		return req, fmt.Errorf("%w: fromId: %v", ErrMalformedMessage, err)
	}
	var err error
	if req.Limit, err = readU32(r); err != nil {
		return req, fmt.Errorf("%w: limit: %v", ErrMalformedMessage, err)
	}
	return req, nil
}

// EncodeBlockList serializes a length-prefixed list of already-encoded block
// byte strings (reusing chain.Block.Encode per block, opaque to network).
func EncodeBlockList(blocks [][]byte) []byte {
	buf := new(bytes.Buffer)
	writeU32(buf, uint32(len(blocks)))
	for _, b := range blocks {
		writeBytesN(buf, b)
	}
	return buf.Bytes()
}

// DecodeBlockList is the inverse of EncodeBlockList.
func DecodeBlockList(data []byte) ([][]byte, error) {
	r := bytes.NewReader(data)
	n, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("%w: block count: %v", ErrMalformedMessage, err)
	}
	out := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		b, err := readBytesN(r)
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrMalformedMessage, i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// GetHighestCommonBlockRequest carries the geometrically-spaced probe of
// locally-known block ids, used to find a common ancestor with a peer.
type GetHighestCommonBlockRequest struct {
	IDs [][32]byte
}

// EncodeGetHighestCommonBlockRequest serializes the probe id list.
func EncodeGetHighestCommonBlockRequest(req GetHighestCommonBlockRequest) []byte {
	buf := new(bytes.Buffer)
	writeU32(buf, uint32(len(req.IDs)))
	for _, id := range req.IDs {
		buf.Write(id[:])
	}
	return buf.Bytes()
}

// DecodeGetHighestCommonBlockRequest deserializes the probe id list.
func DecodeGetHighestCommonBlockRequest(data []byte) (GetHighestCommonBlockRequest, error) {
	r := bytes.NewReader(data)
	n, err := readU32(r)
	if err != nil {
		return GetHighestCommonBlockRequest{}, fmt.Errorf("%w: id count: %v", ErrMalformedMessage, err)
	}
	req := GetHighestCommonBlockRequest{IDs: make([][32]byte, n)}
	for i := range req.IDs {
		if _, err := io.ReadFull(r, req.IDs[i][:]); err != nil {
			return req, fmt.Errorf("%w: id %d: %v", ErrMalformedMessage, i, err)
		}
	}
	return req, nil
}

// GetHighestCommonBlockResponse reports the found id, or Found=false if the
// peer recognizes none of the probed ids — no error in that case.
type GetHighestCommonBlockResponse struct {
	Found bool
	ID    [32]byte
}

// EncodeGetHighestCommonBlockResponse serializes the response.
func EncodeGetHighestCommonBlockResponse(resp GetHighestCommonBlockResponse) []byte {
	buf := new(bytes.Buffer)
	if resp.Found {
		buf.WriteByte(1)
		buf.Write(resp.ID[:])
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// DecodeGetHighestCommonBlockResponse deserializes the response.
func DecodeGetHighestCommonBlockResponse(data []byte) (GetHighestCommonBlockResponse, error) {
	r := bytes.NewReader(data)
	found, err := r.ReadByte()
	if err != nil {
		return GetHighestCommonBlockResponse{}, fmt.Errorf("%w: found flag: %v", ErrMalformedMessage, err)
	}
	resp := GetHighestCommonBlockResponse{Found: found == 1}
	if resp.Found {
		if _, err := io.ReadFull(r, resp.ID[:]); err != nil {
			return resp, fmt.Errorf("%w: id: %v", ErrMalformedMessage, err)
		}
	}
	return resp, nil
}

// --- small binary helpers, mirroring chain's canonical encoding style ---

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeBytesN(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func readBytesN(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, fmt.Errorf("length prefix %d exceeds remaining %d bytes", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeStr(buf *bytes.Buffer, s string) {
	writeBytesN(buf, []byte(s))
}

func readStr(r *bytes.Reader) (string, error) {
	b, err := readBytesN(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
