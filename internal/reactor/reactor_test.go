//go:build linux

package reactor

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stefan1627/pubsub-broker/internal/limits"
	"github.com/stefan1627/pubsub-broker/internal/wire"
)

func startTestReactor(t *testing.T) (r *Reactor, tcpAddr *net.TCPAddr, udpAddr *net.UDPAddr, stdinW *os.File, done chan error) {
	t.Helper()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}

	stdinR, stdinWriter, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}

	admitter := limits.New(limits.Config{
		GlobalPerSec: 1000, GlobalBurst: 1000,
		IPPerSec: 1000, IPBurst: 1000,
	})

	reactor, err := New(zerolog.Nop(), listener, udp, stdinR, admitter, nil)
	if err != nil {
		t.Fatalf("new reactor: %v", err)
	}

	done = make(chan error, 1)
	go func() { done <- reactor.Run() }()

	return reactor, listener.Addr().(*net.TCPAddr), udp.LocalAddr().(*net.UDPAddr), stdinWriter, done
}

func TestReactorSubscribeAndPublish(t *testing.T) {
	_, tcpAddr, udpAddr, stdinWriter, done := startTestReactor(t)
	defer stdinWriter.Close()

	conn, err := net.DialTCP("tcp", nil, tcpAddr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("c1\n")); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if err := wire.Send(conn, wire.Subscribe, []byte("news/sport")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	header := make([]byte, wire.HeaderSize)
	if _, err := readFullConn(conn, header); err != nil {
		t.Fatalf("read ack header: %v", err)
	}
	typ, length := wire.DecodeHeader(header)
	if typ != wire.SubscribeAck {
		t.Fatalf("type = %d, want SubscribeAck", typ)
	}
	ackPayload := make([]byte, length)
	readFullConn(conn, ackPayload)
	if string(ackPayload) != "news/sport" {
		t.Fatalf("ack payload = %q", ackPayload)
	}

	udpConn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		t.Fatalf("dial udp: %v", err)
	}
	defer udpConn.Close()

	datagram := append([]byte("news/sport\x00"), 0x03, 'h', 'i', 0)
	if _, err := udpConn.Write(datagram); err != nil {
		t.Fatalf("write udp: %v", err)
	}

	if _, err := readFullConn(conn, header); err != nil {
		t.Fatalf("read publish header: %v", err)
	}
	typ, length = wire.DecodeHeader(header)
	if typ != wire.Publish {
		t.Fatalf("type = %d, want Publish", typ)
	}
	payload := make([]byte, length)
	readFullConn(conn, payload)

	wantPrefix := "127.0.0.1 "
	if string(payload[:len(wantPrefix)]) != wantPrefix {
		t.Errorf("payload prefix = %q", payload[:len(wantPrefix)])
	}

	stdinWriter.Write([]byte("exit\n"))
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("reactor.Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reactor did not exit after stdin exit command")
	}
}

// TestReactorHandshakeSplitAcrossWritesDoesNotBlock exercises a client
// whose handshake id arrives in two separate writes with a delay between
// them. Before the one-shot-read fix, the reactor's accept handler
// blocked inside a byte-by-byte read loop waiting for the rest of the
// id, freezing the single reactor goroutine and starving every other
// client for the length of the delay. A second, fully-formed client must
// be served promptly regardless.
func TestReactorHandshakeSplitAcrossWritesDoesNotBlock(t *testing.T) {
	_, tcpAddr, _, stdinWriter, done := startTestReactor(t)
	defer stdinWriter.Close()

	slow, err := net.DialTCP("tcp", nil, tcpAddr)
	if err != nil {
		t.Fatalf("dial slow: %v", err)
	}
	defer slow.Close()

	if _, err := slow.Write([]byte("c")); err != nil {
		t.Fatalf("slow partial write: %v", err)
	}
	go func() {
		time.Sleep(1500 * time.Millisecond)
		slow.Write([]byte("1\n"))
	}()

	// Give the reactor a moment to (mis)handle the slow client's partial
	// handshake before the second client dials in.
	time.Sleep(100 * time.Millisecond)

	fast, err := net.DialTCP("tcp", nil, tcpAddr)
	if err != nil {
		t.Fatalf("dial fast: %v", err)
	}
	defer fast.Close()

	fast.SetDeadline(time.Now().Add(1 * time.Second))
	if _, err := fast.Write([]byte("c2\n")); err != nil {
		t.Fatalf("fast handshake: %v", err)
	}
	if err := wire.Send(fast, wire.Subscribe, []byte("t")); err != nil {
		t.Fatalf("fast subscribe: %v", err)
	}

	header := make([]byte, wire.HeaderSize)
	if _, err := readFullConn(fast, header); err != nil {
		t.Fatalf("fast client was blocked by slow client's incomplete handshake: %v", err)
	}
	typ, _ := wire.DecodeHeader(header)
	if typ != wire.SubscribeAck {
		t.Fatalf("type = %d, want SubscribeAck", typ)
	}

	stdinWriter.Write([]byte("exit\n"))
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("reactor did not exit")
	}
}

func readFullConn(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
