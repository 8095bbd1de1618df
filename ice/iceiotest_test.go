// In-memory Socket/Driver doubles so the ice package's own tests, and
// the end-to-end scenarios in SPEC_FULL.md §8, never open a real
// socket. Mirrors the teacher's internal/server/integration_test.go,
// which drives the whole server stack without a listening socket.
//
// Lives alongside the tests that use it (rather than as a separate
// importable package) because those tests need unexported Agent/Stream
// access, and a separate package importing ice while ice's own tests
// import it back is an import cycle Go test doesn't allow.
package ice

import (
	"sort"
	"time"
)

// ioNetwork routes datagrams between ioSockets registered on it by
// address, standing in for an IP network in tests.
type ioNetwork struct {
	sockets map[string]*ioSocket
}

// newIoNetwork returns an empty ioNetwork.
func newIoNetwork() *ioNetwork {
	return &ioNetwork{sockets: make(map[string]*ioSocket)}
}

// Bind creates a Socket bound to local on this network.
func (n *ioNetwork) Bind(local Addr) *ioSocket {
	s := &ioSocket{net: n, local: local}
	n.sockets[local.String()] = s
	return s
}

func (n *ioNetwork) route(dst Addr, src Addr, b []byte) {
	s, ok := n.sockets[dst.String()]
	if !ok || s.closed {
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	s.inbox = append(s.inbox, ioPacket{src: src, b: cp})
}

type ioPacket struct {
	src Addr
	b   []byte
}

// ioSocket is an in-memory Socket. Delivered datagrams queue until a
// ioLoop drains them via DeliverAll.
type ioSocket struct {
	net    *ioNetwork
	local  Addr
	inbox  []ioPacket
	closed bool
}

// LocalAddr implements Socket.
func (s *ioSocket) LocalAddr() Addr { return s.local }

// Send implements Socket, routing the datagram through the shared
// ioNetwork to any Socket bound at dst.
func (s *ioSocket) Send(dst Addr, b []byte) (int, error) {
	if s.closed {
		return 0, errIoClosed
	}
	s.net.route(dst, s.local, b)
	return len(b), nil
}

// Close implements Socket.
func (s *ioSocket) Close() error {
	s.closed = true
	return nil
}

var errIoClosed = ioClosedError{}

type ioClosedError struct{}

func (ioClosedError) Error() string { return "iceiotest: socket closed" }

// ioLoop is a synchronous Driver double: Timer callbacks only fire
// when a test calls Advance, and Watch callbacks only fire from
// DeliverAll, which Advance runs after each timer callback. Nothing here spawns a goroutine, so tests
// are deterministic.
type ioLoop struct {
	now     time.Time
	timers  []*ioTimer
	watches map[*ioSocket]func(src Addr, b []byte)
}

// newIoLoop returns a ioLoop with its virtual clock at epoch.
func newIoLoop() *ioLoop {
	return &ioLoop{
		now:     time.Unix(0, 0),
		watches: make(map[*ioSocket]func(src Addr, b []byte)),
	}
}

type ioTimer struct {
	at        time.Time
	cb        func()
	cancelled bool
}

// Watch implements Driver.
func (l *ioLoop) Watch(sock Socket, cb func(src Addr, b []byte)) {
	s, ok := sock.(*ioSocket)
	if !ok {
		return
	}
	l.watches[s] = cb
}

// Timer implements Driver.
func (l *ioLoop) Timer(d time.Duration, cb func()) TimerHandle {
	t := &ioTimer{at: l.now.Add(d), cb: cb}
	l.timers = append(l.timers, t)
	return t
}

// Cancel implements Driver.
func (l *ioLoop) Cancel(h TimerHandle) {
	if t, ok := h.(*ioTimer); ok {
		t.cancelled = true
	}
}

// Go implements Driver by simply invoking fn, since ioLoop has no
// separate owning goroutine.
func (l *ioLoop) Go(fn func()) { fn() }

// Now returns the ioLoop's virtual clock.
func (l *ioLoop) Now() time.Time { return l.now }

// DeliverAll drains every watched socket's inbox, invoking callbacks
// for any queued datagrams.
func (l *ioLoop) DeliverAll() {
	for sock, cb := range l.watches {
		for len(sock.inbox) > 0 {
			p := sock.inbox[0]
			sock.inbox = sock.inbox[1:]
			cb(p.src, p.b)
		}
	}
}

// Advance moves the virtual clock forward by d, firing any timer
// callbacks now due, in the order they were scheduled, then delivers
// any datagrams queued as a result.
func (l *ioLoop) Advance(d time.Duration) {
	l.now = l.now.Add(d)
	sort.SliceStable(l.timers, func(i, j int) bool { return l.timers[i].at.Before(l.timers[j].at) })
	for _, t := range l.timers {
		if t.cancelled || t.at.After(l.now) {
			continue
		}
		t.cancelled = true // a Timer fires once
		t.cb()
		l.DeliverAll()
	}
	l.pruneFiredTimers()
}

func (l *ioLoop) pruneFiredTimers() {
	live := l.timers[:0]
	for _, t := range l.timers {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	l.timers = live
}
