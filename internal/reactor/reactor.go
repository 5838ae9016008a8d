// Package reactor implements the broker's single-threaded readiness
// loop: stdin, the UDP socket, the TCP listen socket, and every active
// client connection, all serviced from one goroutine that owns the
// trie and the registry outright.
package reactor

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stefan1627/pubsub-broker/internal/limits"
	"github.com/stefan1627/pubsub-broker/internal/metrics"
	"github.com/stefan1627/pubsub-broker/internal/pubfmt"
	"github.com/stefan1627/pubsub-broker/internal/registry"
	"github.com/stefan1627/pubsub-broker/internal/session"
	"github.com/stefan1627/pubsub-broker/internal/trie"
	"github.com/stefan1627/pubsub-broker/internal/wire"
)

// MaxUDPPayload bounds a single recvfrom of the publication socket.
const MaxUDPPayload = 1500

// Reactor owns every broker resource reachable from its event loop.
// None of its methods are safe to call from outside Run's goroutine.
type Reactor struct {
	log zerolog.Logger

	trie     *trie.Trie
	registry *registry.Registry
	admitter *limits.ConnectionAdmitter
	metrics  *metrics.Registry

	listener *net.TCPListener
	udp      *net.UDPConn

	poll  poller
	stdin *bufio.Reader

	exit bool
}

// New builds a Reactor bound to the given TCP listener and UDP socket,
// reading its exit command from stdinFile (os.Stdin in production; a
// pipe's read end in tests).
func New(log zerolog.Logger, listener *net.TCPListener, udp *net.UDPConn, stdinFile *os.File, admitter *limits.ConnectionAdmitter, reg *metrics.Registry) (*Reactor, error) {
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("reactor: %w", err)
	}

	r := &Reactor{
		log:      log,
		trie:     trie.New(),
		registry: registry.New(),
		admitter: admitter,
		metrics:  reg,
		listener: listener,
		udp:      udp,
		poll:     p,
		stdin:    bufio.NewReader(stdinFile),
	}

	if err := r.poll.addListen(listener); err != nil {
		return nil, fmt.Errorf("reactor: watch listener: %w", err)
	}
	if err := r.poll.addUDP(udp); err != nil {
		return nil, fmt.Errorf("reactor: watch udp: %w", err)
	}
	if err := r.poll.addStdin(stdinFile); err != nil {
		return nil, fmt.Errorf("reactor: watch stdin: %w", err)
	}

	return r, nil
}

// Run blocks servicing readiness events until stdin receives "exit" or
// the poller reports a fatal error. On return every session, active or
// inactive, has been destroyed and both listening sockets are closed.
func (r *Reactor) Run() error {
	defer r.shutdown()

	for !r.exit {
		ready, err := r.poll.wait()
		if err != nil {
			return fmt.Errorf("reactor: poll: %w", err)
		}

		for _, ev := range ready {
			switch ev.kind {
			case kindStdin:
				r.handleStdin()
			case kindUDP:
				r.handleUDP()
			case kindListen:
				r.handleAccept()
			case kindClient:
				r.handleClient(ev.clientID)
			}
		}
	}

	return nil
}

func (r *Reactor) shutdown() {
	r.registry.DestroyAll(r.trie)
	_ = r.listener.Close()
	_ = r.udp.Close()
	r.poll.close()
}

func (r *Reactor) handleStdin() {
	line, err := r.stdin.ReadString('\n')
	if err != nil {
		return
	}
	if strings.TrimSpace(line) == "exit" {
		r.exit = true
	}
}

func (r *Reactor) handleUDP() {
	buf := make([]byte, MaxUDPPayload)
	n, src, err := r.udp.ReadFromUDP(buf)
	if err != nil || n == 0 {
		return
	}
	if r.metrics != nil {
		r.metrics.PublishesReceived.Inc()
	}

	topic, payload, err := pubfmt.FormatDatagram(src, buf[:n])
	if err != nil {
		r.log.Warn().Err(err).Msg("dropping malformed udp publication")
		return
	}

	ids, err := r.trie.Publish(topic)
	if err != nil {
		r.log.Warn().Err(err).Str("topic", topic).Msg("publish lookup failed")
		return
	}

	active := r.registry.Active()
	delivered := 0
	for _, id := range ids {
		s, ok := active[id]
		if !ok {
			continue
		}
		if err := wire.Send(s.Conn, wire.Publish, payload); err != nil {
			r.disconnectSession(s)
			continue
		}
		delivered++
	}

	if r.metrics != nil {
		r.metrics.PublishFanoutSize.Observe(float64(delivered))
		r.metrics.PublishesDelivered.Add(float64(delivered))
	}
}

func (r *Reactor) handleAccept() {
	conn, err := r.listener.AcceptTCP()
	if err != nil {
		r.log.Warn().Err(err).Msg("accept failed")
		return
	}

	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	if r.admitter != nil && !r.admitter.Allow(host, time.Now()) {
		if r.metrics != nil {
			r.metrics.ConnectionsRejected.Inc()
		}
		_ = conn.Close()
		return
	}

	_ = conn.SetNoDelay(true)

	id, err := readHandshakeID(conn)
	if err != nil {
		_ = conn.Close()
		return
	}

	sess, outcome := r.registry.Accept(id, conn)
	if outcome == registry.Rejected {
		if r.metrics != nil {
			r.metrics.ConnectionsRejected.Inc()
		}
		_ = conn.Close()
		return
	}

	if err := r.poll.addClient(id, conn); err != nil {
		r.log.Error().Err(err).Str("client", id).Msg("failed to watch client socket")
		r.registry.Disconnect(sess)
		return
	}

	if r.metrics != nil {
		r.metrics.ConnectionsTotal.Inc()
		r.metrics.ConnectionsActive.Inc()
		if outcome == registry.Reclaimed {
			r.metrics.Reconnects.Inc()
		}
	}
}

// readHandshakeID reads whatever is immediately available from a freshly
// accepted connection, a single one-shot read exactly like
// session.HandleReadable's socket read, and trims it at the first '\r' or
// '\n' if one is present. An id split across reads, or one that never
// sends its terminator, is accepted as-is from whatever this one read
// returned: the reactor does not block the single goroutine waiting for
// more bytes during the handshake, matching the original server's own
// one-shot recv.
func readHandshakeID(conn net.Conn) (string, error) {
	buf := make([]byte, session.MaxIDLen+1)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return "", fmt.Errorf("reactor: handshake read: %v", err)
	}

	id := buf[:n]
	if i := bytes.IndexAny(id, "\r\n"); i >= 0 {
		id = id[:i]
	}
	return string(id), nil
}

func (r *Reactor) handleClient(id string) {
	active := r.registry.Active()
	s, ok := active[id]
	if !ok {
		return
	}

	if err := s.HandleReadable(r.trie, r.metrics); err != nil {
		r.disconnectSession(s)
	}
}

func (r *Reactor) disconnectSession(s *session.Session) {
	r.poll.removeClient(s.ID)
	r.registry.Disconnect(s)
	if r.metrics != nil {
		r.metrics.ConnectionsActive.Dec()
	}
}
