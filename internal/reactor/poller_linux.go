//go:build linux

package reactor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"

	"golang.org/x/sys/unix"
)

// selectPoller is a poller backed by the select(2) syscall, mirroring
// the original broker's poll()-based event loop. select was chosen
// over epoll because the broker's fd set is small (one listener, one
// UDP socket, stdin, and one fd per connected client) and because
// select's readiness semantics map directly onto the level-triggered
// "whatever is immediately available" contract the reactor relies on.
type selectPoller struct {
	stdinFd  int
	udpFd    int
	listenFd int

	// files holds the dup'd *os.File for every watched fd, keyed by fd
	// number, so the duplicate stays open while it is watched and is
	// closed by removeClient or close (closing it does not affect the
	// original socket).
	files map[int]*os.File

	clientFd map[string]int // client id -> fd
	fdClient map[int]string // fd -> client id
}

func newPoller() (poller, error) {
	return &selectPoller{
		files:    make(map[int]*os.File),
		clientFd: make(map[string]int),
		fdClient: make(map[int]string),
	}, nil
}

func fdOf(f *os.File) int { return int(f.Fd()) }

func (p *selectPoller) addStdin(f *os.File) error {
	p.stdinFd = fdOf(f)
	return nil
}

func (p *selectPoller) addUDP(conn *net.UDPConn) error {
	file, err := conn.File()
	if err != nil {
		return fmt.Errorf("udp file: %w", err)
	}
	p.udpFd = fdOf(file)
	p.files[p.udpFd] = file
	return nil
}

func (p *selectPoller) addListen(l *net.TCPListener) error {
	file, err := l.File()
	if err != nil {
		return fmt.Errorf("listener file: %w", err)
	}
	p.listenFd = fdOf(file)
	p.files[p.listenFd] = file
	return nil
}

func (p *selectPoller) addClient(id string, conn *net.TCPConn) error {
	file, err := conn.File()
	if err != nil {
		return fmt.Errorf("client file: %w", err)
	}
	fd := fdOf(file)
	p.files[fd] = file
	p.clientFd[id] = fd
	p.fdClient[fd] = id
	return nil
}

func (p *selectPoller) removeClient(id string) {
	fd, ok := p.clientFd[id]
	if !ok {
		return
	}
	delete(p.clientFd, id)
	delete(p.fdClient, fd)
	if f, ok := p.files[fd]; ok {
		_ = f.Close()
		delete(p.files, fd)
	}
}

func (p *selectPoller) wait() ([]event, error) {
	var set unix.FdSet
	fdZero(&set)

	fdSetAdd(&set, p.stdinFd)
	fdSetAdd(&set, p.udpFd)
	fdSetAdd(&set, p.listenFd)

	nfd := max3(p.stdinFd, p.udpFd, p.listenFd)
	for fd := range p.fdClient {
		fdSetAdd(&set, fd)
		if fd > nfd {
			nfd = fd
		}
	}

	n, err := unix.Select(nfd+1, &set, nil, nil, nil)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("select: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	var ready []event
	if fdSetIsSet(&set, p.stdinFd) {
		ready = append(ready, event{kind: kindStdin})
	}
	if fdSetIsSet(&set, p.udpFd) {
		ready = append(ready, event{kind: kindUDP})
	}
	if fdSetIsSet(&set, p.listenFd) {
		ready = append(ready, event{kind: kindListen})
	}

	var clientFds []int
	for fd := range p.fdClient {
		if fdSetIsSet(&set, fd) {
			clientFds = append(clientFds, fd)
		}
	}
	sort.Ints(clientFds)
	for _, fd := range clientFds {
		ready = append(ready, event{kind: kindClient, clientID: p.fdClient[fd]})
	}

	return ready, nil
}

func (p *selectPoller) close() {
	for _, f := range p.files {
		_ = f.Close()
	}
}

func fdZero(set *unix.FdSet) {
	for i := range set.Bits {
		set.Bits[i] = 0
	}
}

func fdSetAdd(set *unix.FdSet, fd int) {
	if fd < 0 {
		return
	}
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdSetIsSet(set *unix.FdSet, fd int) bool {
	if fd < 0 {
		return false
	}
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}

func max3(a, b, c int) int {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
