package ice

import "time"

// Socket is the capability a candidate's base is bound to: send and
// non-blocking receive on one local transport address. Concrete
// implementations live in internal/iceio (UDP) and, for this package's
// tests, ice/iceiotest_test.go (in-memory). Corresponds to
// SPEC_FULL.md §6's DatagramSocket capability.
type Socket interface {
	// LocalAddr is the address this socket is bound to.
	LocalAddr() Addr
	// Send writes bytes to dst. It never blocks past the underlying
	// OS socket buffer.
	Send(dst Addr, b []byte) (int, error)
	// Close releases the underlying OS resource.
	Close() error
}

// SocketFactory binds new sockets for host candidates.
type SocketFactory interface {
	Bind(local Addr) (Socket, error)
}

// TimerHandle is an opaque handle to a scheduled callback, returned by
// Driver.Timer and accepted by Driver.Cancel.
type TimerHandle interface{}

// Driver is the host event loop capability: readiness notification for
// sockets and delay-based timers, run on whatever single goroutine owns
// agent state. Concrete implementation: internal/iceio.Loop.
type Driver interface {
	// Watch registers cb to be invoked, on the driver's own goroutine,
	// whenever a datagram arrives on sock. cb receives the source
	// address and payload.
	Watch(sock Socket, cb func(src Addr, b []byte))
	// Timer schedules cb to run after d, on the driver's own goroutine.
	Timer(d time.Duration, cb func()) TimerHandle
	// Cancel prevents a previously scheduled timer from firing. Safe
	// to call after the timer has already fired.
	Cancel(h TimerHandle)
	// Go marshals fn onto the driver's owning goroutine and blocks
	// until it has run. Agent methods do not call it themselves; code on
	// other goroutines (internal/server.Server wraps its Agent calls this
	// way) uses it to keep the single-writer discipline of SPEC_FULL.md §5.
	Go(fn func())
	// Now returns the driver's notion of the current time. Production
	// drivers return time.Now(); test doubles return a virtual clock so
	// Ta-paced behavior is deterministic under Advance.
	Now() time.Time
}

// RandomSource is the capability used to generate ICE credentials and
// tie-breakers. Concrete implementation: internal/iceio.Rng, backed by
// github.com/pion/randutil.
type RandomSource interface {
	Bytes(n int) ([]byte, error)
}
