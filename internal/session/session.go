// Package session implements the per-connection TCP client: its fixed
// read buffer, frame parser, and trie back-reference list.
package session

import (
	"errors"
	"fmt"
	"net"

	"github.com/stefan1627/pubsub-broker/internal/metrics"
	"github.com/stefan1627/pubsub-broker/internal/trie"
	"github.com/stefan1627/pubsub-broker/internal/wire"
)

// ReadBufSize is the fixed capacity of a session's read buffer. A
// payload longer than ReadBufSize-wire.HeaderSize cannot ever fit and is
// a protocol violation.
const ReadBufSize = 2048

// MaxIDLen bounds a client id as sent in the TCP handshake.
const MaxIDLen = 15

// ErrFatal wraps any condition that should tear the session down:
// read error, peer close, oversized frame, or resource exhaustion.
var ErrFatal = errors.New("session: fatal")

// Session is a single TCP client connection. A Session is either active
// (Conn set, reachable from the registry's active table) or inactive
// (Conn nil, retained only for its back-reference list until reconnect).
type Session struct {
	ID   string
	Conn net.Conn

	buf [ReadBufSize]byte
	n   int

	backRefs []*trie.Node
}

// New creates a session for a freshly accepted connection with the given
// client id.
func New(id string, conn net.Conn) *Session {
	return &Session{ID: id, Conn: conn}
}

// Reattach installs a new socket on a reclaimed (formerly inactive)
// session and resets its read buffer. Back-references are left intact.
func (s *Session) Reattach(conn net.Conn) {
	s.Conn = conn
	s.n = 0
}

// HandleReadable reads whatever is immediately available from the
// socket and dispatches every complete frame found in the buffer. It
// returns a non-nil error wrapping ErrFatal when the session must be
// torn down: a read error/EOF, an oversized payload, a SUBSCRIBE or
// UNSUBSCRIBE the trie rejects, or a failed ack send.
func (s *Session) HandleReadable(tr *trie.Trie, reg *metrics.Registry) error {
	n, err := s.Conn.Read(s.buf[s.n:])
	if err != nil || n == 0 {
		return fmt.Errorf("%w: read: %v", ErrFatal, err)
	}
	s.n += n

	off := 0
	for s.n-off >= wire.HeaderSize {
		typ, length := wire.DecodeHeader(s.buf[off : off+wire.HeaderSize])

		if length > ReadBufSize-wire.HeaderSize {
			if reg != nil {
				reg.ProtocolViolations.Inc()
			}
			return fmt.Errorf("%w: oversized frame (%d bytes)", ErrFatal, length)
		}

		if s.n-off < wire.HeaderSize+int(length) {
			break // payload not fully arrived yet
		}

		payload := s.buf[off+wire.HeaderSize : off+wire.HeaderSize+int(length)]
		if err := s.dispatch(tr, reg, typ, payload); err != nil {
			return err
		}

		off += wire.HeaderSize + int(length)
	}

	if off > 0 {
		copy(s.buf[:], s.buf[off:s.n])
		s.n -= off
	}

	return nil
}

func (s *Session) dispatch(tr *trie.Trie, reg *metrics.Registry, typ wire.Type, payload []byte) error {
	switch typ {
	case wire.Subscribe:
		pattern := string(payload)
		node, added, err := tr.Subscribe(s.ID, pattern)
		if err != nil {
			if reg != nil {
				reg.SubscribeErrors.Inc()
			}
			return fmt.Errorf("%w: subscribe %q: %v", ErrFatal, pattern, err)
		}
		if added {
			s.backRefs = append(s.backRefs, node)
		}
		if reg != nil {
			reg.SubscribeTotal.Inc()
		}
		return s.ack(wire.SubscribeAck, payload)

	case wire.Unsubscribe:
		pattern := string(payload)
		node, err := tr.Unsubscribe(s.ID, pattern)
		if err != nil {
			if reg != nil {
				reg.UnsubscribeErrors.Inc()
			}
			return fmt.Errorf("%w: unsubscribe %q: %v", ErrFatal, pattern, err)
		}
		s.dropBackRef(node)
		if reg != nil {
			reg.UnsubscribeTotal.Inc()
		}
		return s.ack(wire.UnsubscribeAck, payload)

	default:
		// Unknown message types are silently skipped.
		return nil
	}
}

func (s *Session) ack(t wire.Type, pattern []byte) error {
	if err := wire.Send(s.Conn, t, pattern); err != nil {
		return fmt.Errorf("%w: ack: %v", ErrFatal, err)
	}
	return nil
}

func (s *Session) dropBackRef(node *trie.Node) {
	for i, n := range s.backRefs {
		if n == node {
			s.backRefs = append(s.backRefs[:i], s.backRefs[i+1:]...)
			return
		}
	}
}

// Disconnect closes the session's socket without touching its
// subscriptions: the registry moves the session to the inactive table,
// and its back-references (and the trie entries they point at) survive
// until either reconnect or Destroy.
func (s *Session) Disconnect() {
	if s.Conn != nil {
		_ = s.Conn.Close()
		s.Conn = nil
	}
}

// Destroy removes every one of the session's subscriptions from the
// trie and releases its socket. It is used only at broker shutdown,
// when both active and inactive sessions are torn down for good.
func (s *Session) Destroy(tr *trie.Trie) {
	for _, node := range s.backRefs {
		_ = tr.RemoveAt(node, s.ID)
	}
	s.backRefs = nil
	s.Disconnect()
}
