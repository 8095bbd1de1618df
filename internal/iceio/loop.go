package iceio

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gortc/iceagentd/ice"
)

// Loop is the single-goroutine command-channel driver satisfying
// ice.Driver: every mutation of agent state happens on the goroutine
// that runs Loop.Run, giving ice.Agent's public methods a
// synchronous-looking API without locks, per SPEC_FULL.md §5. Grounded
// in the teacher's Server.startCollect ticker-goroutine and
// Server.Serve read loop, generalized from "one ticker plus one
// blocking read loop" to "arbitrary callbacks marshalled through one
// channel".
type Loop struct {
	log *zap.Logger

	commands chan func()
	done     chan struct{}
	wg       sync.WaitGroup

	closeOnce sync.Once

	// dispatch bounds how many inbound-datagram callbacks can be queued
	// toward commands concurrently, so a burst of traffic on one Watch
	// socket cannot starve a blocking ReadFrom loop on another.
	dispatch *workerPool
}

const defaultDispatchWorkers = 64

// NewLoop constructs a Loop with the default dispatch pool size. Call
// Run on a dedicated goroutine, then pass the Loop as the ice.Driver to
// ice.New.
func NewLoop(log *zap.Logger) *Loop {
	return NewLoopWithWorkers(log, defaultDispatchWorkers)
}

// NewLoopWithWorkers constructs a Loop whose dispatch pool is bounded
// to workers concurrent datagram callbacks, per Options.Workers in
// internal/server. workers <= 0 falls back to the default.
func NewLoopWithWorkers(log *zap.Logger, workers int) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	if workers <= 0 {
		workers = defaultDispatchWorkers
	}
	l := &Loop{
		log:      log.Named("iceio.loop"),
		commands: make(chan func(), 64),
		done:     make(chan struct{}),
	}
	l.dispatch = &workerPool{
		WorkerFunc:      l.runDispatchJob,
		MaxWorkersCount: workers,
		Logger:          l.log,
	}
	l.dispatch.Start()
	return l
}

func (l *Loop) runDispatchJob(j Job) {
	cb := j.cb
	if cb == nil {
		return
	}
	select {
	case l.commands <- func() { cb(j.Src, j.Data) }:
	case <-l.done:
	}
}

// Run processes commands until Close is called. Intended to be the
// body of the one goroutine that owns every ice.Agent this Loop
// drives.
func (l *Loop) Run() {
	for {
		select {
		case cmd := <-l.commands:
			cmd()
		case <-l.done:
			return
		}
	}
}

// Close stops Run and every per-socket reader goroutine started by
// Watch.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	l.dispatch.Stop()
}

// Go marshals fn onto the loop goroutine and blocks until it has run,
// implementing ice.Driver.Go.
func (l *Loop) Go(fn func()) {
	wait := make(chan struct{})
	l.commands <- func() {
		fn()
		close(wait)
	}
	<-wait
}

// Watch starts a reader goroutine for sock's underlying net.PacketConn
// and delivers every datagram to cb on the loop goroutine, implementing
// ice.Driver.Watch.
func (l *Loop) Watch(sock ice.Socket, cb func(src ice.Addr, b []byte)) {
	us, ok := sock.(*UDPSocket)
	if !ok {
		l.log.Error("watch called with non-UDP socket")
		return
	}
	conn := us.Conn()
	l.wg.Add(1)
	go l.readLoop(conn, cb)
	// Closing the socket on Close unblocks ReadFrom so readLoop returns.
	go func() {
		<-l.done
		_ = conn.Close()
	}()
}

func (l *Loop) readLoop(conn net.PacketConn, cb func(src ice.Addr, b []byte)) {
	defer l.wg.Done()
	buf := make([]byte, 1500)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		b := make([]byte, n)
		copy(b, buf[:n])
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		src := ice.Addr{IP: udpAddr.IP, Port: udpAddr.Port, Proto: ice.ProtoUDP}
		if !l.dispatch.Serve(Job{Src: src, Data: b, cb: cb}) {
			l.log.Warn("dropping datagram, dispatch pool saturated")
		}
	}
}

// loopTimer is the ice.TimerHandle Loop.Timer returns.
type loopTimer struct {
	t         *time.Timer
	cancelled bool
}

// Timer schedules cb to run on the loop goroutine after d, implementing
// ice.Driver.Timer.
func (l *Loop) Timer(d time.Duration, cb func()) ice.TimerHandle {
	h := &loopTimer{}
	h.t = time.AfterFunc(d, func() {
		select {
		case l.commands <- func() {
			if !h.cancelled {
				cb()
			}
		}:
		case <-l.done:
		}
	})
	return h
}

// Now implements ice.Driver with the wall clock.
func (l *Loop) Now() time.Time { return time.Now() }

// Cancel prevents a previously scheduled timer from firing, implementing
// ice.Driver.Cancel. Safe to call after the timer already fired: the
// cancelled flag additionally guards against a timer that fired and is
// already queued on commands when Cancel runs.
func (l *Loop) Cancel(handle ice.TimerHandle) {
	h, ok := handle.(*loopTimer)
	if !ok {
		return
	}
	h.cancelled = true
	h.t.Stop()
}
