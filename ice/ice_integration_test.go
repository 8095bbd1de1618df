package ice

import (
	"math/rand"
	"net"
	"testing"
	"time"
)

// fakeRng is a deterministic, non-cryptographic RandomSource for tests,
// so test failures are reproducible without pulling in a real entropy
// source.
type fakeRng struct{ r *rand.Rand }

func newFakeRng(seed int64) *fakeRng { return &fakeRng{r: rand.New(rand.NewSource(seed))} }

func (f *fakeRng) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	f.r.Read(b)
	return b, nil
}

// netSocketFactory adapts an ioNetwork to ice.SocketFactory.
type netSocketFactory struct{ net *ioNetwork }

func (f netSocketFactory) Bind(local Addr) (Socket, error) {
	return f.net.Bind(local), nil
}

func exchangeCandidatesAndCredentials(t *testing.T, a, b *Agent, streamA, streamB StreamID) {
	t.Helper()
	ufragA, pwdA, err := a.GetLocalCredentials(streamA)
	if err != nil {
		t.Fatal(err)
	}
	ufragB, pwdB, err := b.GetLocalCredentials(streamB)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetRemoteCredentials(streamA, ufragB, pwdB); err != nil {
		t.Fatal(err)
	}
	if err := b.SetRemoteCredentials(streamB, ufragA, pwdA); err != nil {
		t.Fatal(err)
	}

	aCands, err := a.LocalCandidates(streamA, 1)
	if err != nil {
		t.Fatal(err)
	}
	bCands, err := b.LocalCandidates(streamB, 1)
	if err != nil {
		t.Fatal(err)
	}

	for _, c := range aCands {
		if err := b.AddRemoteCandidate(streamB, RemoteCandidate{
			Foundation: c.Foundation, ComponentID: 1, Priority: c.Priority,
			Addr: c.Addr.IP, Port: c.Addr.Port, Type: c.Type,
		}); err != nil {
			t.Fatal(err)
		}
	}
	for _, c := range bCands {
		if err := a.AddRemoteCandidate(streamA, RemoteCandidate{
			Foundation: c.Foundation, ComponentID: 1, Priority: c.Priority,
			Addr: c.Addr.IP, Port: c.Addr.Port, Type: c.Type,
		}); err != nil {
			t.Fatal(err)
		}
	}
}

func runUntilReady(t *testing.T, loop *ioLoop, agents []*Agent, streams []StreamID, componentID int, maxTicks int) {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		loop.Advance(20 * time.Millisecond)
		ready := true
		for j, a := range agents {
			s, ok := a.stream(streams[j])
			if !ok {
				t.Fatal("stream disappeared")
			}
			comp, ok := s.Component(componentID)
			if !ok || comp.State != Ready {
				ready = false
			}
		}
		if ready {
			return
		}
	}
	t.Fatalf("agents did not reach READY within %d ticks", maxTicks)
}

// TestLocalLoopbackReachesReady is scenario (1) of SPEC_FULL.md §8: two
// agents on an in-memory network, no STUN server, reach READY purely
// through host-candidate connectivity checks.
func TestLocalLoopbackReachesReady(t *testing.T) {
	net := newIoNetwork()
	loop := newIoLoop()
	factory := netSocketFactory{net: net}

	controlling, err := New(factory, loop, newFakeRng(1), Config{ControllingMode: true, FullMode: true})
	if err != nil {
		t.Fatal(err)
	}
	controlled, err := New(factory, loop, newFakeRng(2), Config{ControllingMode: false, FullMode: true})
	if err != nil {
		t.Fatal(err)
	}

	controlling.AddLocalAddress(stdIP("10.0.0.1"))
	controlled.AddLocalAddress(stdIP("10.0.0.2"))

	streamA, err := controlling.AddStream(1)
	if err != nil {
		t.Fatal(err)
	}
	streamB, err := controlled.AddStream(1)
	if err != nil {
		t.Fatal(err)
	}

	exchangeCandidatesAndCredentials(t, controlling, controlled, streamA, streamB)

	runUntilReady(t, loop, []*Agent{controlling, controlled}, []StreamID{streamA, streamB}, 1, 200)

	compA, _ := controlling.stream(streamA)
	ca, _ := compA.Component(1)
	if ca.Selected == nil {
		t.Fatal("controlling side has no selected pair")
	}
	compB, _ := controlled.stream(streamB)
	cb, _ := compB.Component(1)
	if cb.Selected == nil {
		t.Fatal("controlled side has no selected pair")
	}
}

func stdIP(s string) net.IP { return net.ParseIP(s) }
