// Package wire implements the broker's length-prefixed frame format.
//
// A frame is a 6-byte header (16-bit type, 32-bit payload length, both
// network byte order) followed by the payload. The package only encodes
// frames and performs blocking full-sends; reads are buffered and parsed
// by the session package, which owns the per-connection read buffer.
package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Type identifies a frame's payload kind.
type Type uint16

const (
	Subscribe     Type = 1
	Unsubscribe   Type = 2
	Publish       Type = 3
	SubscribeAck  Type = 4
	UnsubscribeAck Type = 5
)

// HeaderSize is the fixed 2-byte type + 4-byte length header.
const HeaderSize = 6

// Encode returns the wire bytes for a frame of the given type and payload.
func Encode(t Type, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(t))
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodeHeader reads the type and payload length from a 6-byte header.
func DecodeHeader(header []byte) (Type, uint32) {
	t := Type(binary.BigEndian.Uint16(header[0:2]))
	length := binary.BigEndian.Uint32(header[2:6])
	return t, length
}

// Send writes a full frame to conn, retrying on short writes until every
// byte is flushed or the connection reports a fatal error.
func Send(conn net.Conn, t Type, payload []byte) error {
	return SendAll(conn, Encode(t, payload))
}

// SendAll writes buf to conn in full, retrying on short writes.
func SendAll(conn net.Conn, buf []byte) error {
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}
