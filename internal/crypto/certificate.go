package crypto

import (
	"bytes"
	"encoding/binary"
)

// Certificate is the tuple validators BLS-sign to attest finality of a
// block.
type Certificate struct {
	BlockID        [32]byte
	Height         uint32
	Timestamp      uint32
	StateRoot      [32]byte
	ValidatorsHash [32]byte
}

// Bytes canonically encodes the certificate for hashing/signing.
func (c Certificate) Bytes() []byte {
	buf := new(bytes.Buffer)
	buf.Write(c.BlockID[:])
	var h, ts [4]byte
	binary.BigEndian.PutUint32(h[:], c.Height)
	binary.BigEndian.PutUint32(ts[:], c.Timestamp)
	buf.Write(h[:])
	buf.Write(ts[:])
	buf.Write(c.StateRoot[:])
	buf.Write(c.ValidatorsHash[:])
	return buf.Bytes()
}
