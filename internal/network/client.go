package network

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// DefaultCallTimeout bounds every individual RPC call a synchronization
// mechanism makes to a peer.
const DefaultCallTimeout = 5 * time.Second

// ErrCallTimeout is returned when a call's deadline is exceeded. Callers in
// internal/syncer translate this into a RestartError.
var ErrCallTimeout = errors.New("network: rpc call timed out")

// Conn is the minimal connection capability PeerClient needs — satisfied by
// net.Conn, kept narrow so tests can supply an in-memory pipe.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
	SetDeadline(t time.Time) error
}

// PeerClient issues request/response RPCs to a single remote peer over a
// persistent connection, serializing calls.
type PeerClient struct {
	mu      sync.Mutex
	conn    Conn
	timeout time.Duration
}

// NewPeerClient wraps an already-dialed connection. timeout<=0 uses
// DefaultCallTimeout.
func NewPeerClient(conn Conn, timeout time.Duration) *PeerClient {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &PeerClient{conn: conn, timeout: timeout}
}

func (c *PeerClient) call(reqKind uint8, payload []byte, wantRespKind uint8) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	if err := WriteEnvelope(c.conn, reqKind, payload); err != nil {
		return nil, translateTimeout(err)
	}
	kind, resp, err := ReadEnvelope(c.conn)
	if err != nil {
		return nil, translateTimeout(err)
	}
	if kind != wantRespKind {
		return nil, fmt.Errorf("%w: expected response kind %d, got %d", ErrMalformedMessage, wantRespKind, kind)
	}
	return resp, nil
}

func translateTimeout(err error) error {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrCallTimeout, err)
	}
	return err
}

// PostBlock pushes a freshly produced or relayed block; no response is
// expected.
func (c *PeerClient) PostBlock(blockBytes []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	if err := WriteEnvelope(c.conn, KindPostBlock, blockBytes); err != nil {
		return translateTimeout(err)
	}
	return nil
}

// PostNodeInfo pushes this node's status; no response expected.
func (c *PeerClient) PostNodeInfo(info NodeInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	if err := WriteEnvelope(c.conn, KindPostNodeInfo, EncodeNodeInfo(info)); err != nil {
		return translateTimeout(err)
	}
	return nil
}

// GetLastBlock requests the peer's current tip block, encoded opaque bytes
// (a chain.Block.Encode() payload the caller decodes).
func (c *PeerClient) GetLastBlock() ([]byte, error) {
	return c.call(KindGetLastBlock, nil, KindGetLastBlockResp)
}

// GetBlocksFromID requests up to req.Limit blocks after req.FromID.
func (c *PeerClient) GetBlocksFromID(req GetBlocksFromIDRequest) ([][]byte, error) {
	resp, err := c.call(KindGetBlocksFromID, EncodeGetBlocksFromIDRequest(req), KindGetBlocksFromIDResp)
	if err != nil {
		return nil, err
	}
	return DecodeBlockList(resp)
}

// GetHighestCommonBlock asks the peer which of the probed ids, if any, it
// recognizes. A peer recognizing none returns Found=false, not an error.
func (c *PeerClient) GetHighestCommonBlock(req GetHighestCommonBlockRequest) (GetHighestCommonBlockResponse, error) {
	resp, err := c.call(KindGetHighestCommonBlock, EncodeGetHighestCommonBlockRequest(req), KindGetHighestCommonBlockResp)
	if err != nil {
		return GetHighestCommonBlockResponse{}, err
	}
	return DecodeGetHighestCommonBlockResponse(resp)
}

// Close releases the underlying connection.
func (c *PeerClient) Close() error {
	return c.conn.Close()
}
