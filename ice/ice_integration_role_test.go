package ice

import (
	"testing"
	"time"
)

// TestRoleConflictResolvedByTieBreaker is scenario (2) of SPEC_FULL.md
// §8: both agents are misconfigured as controlling, so their first
// connectivity checks collide on ICE-CONTROLLING. RFC 8445 Section
// 7.3.1.1's tie-breaker comparison must leave exactly one agent
// controlling, and both sides still reach READY.
func TestRoleConflictResolvedByTieBreaker(t *testing.T) {
	net := newIoNetwork()
	loop := newIoLoop()
	factory := netSocketFactory{net: net}

	first, err := New(factory, loop, newFakeRng(10), Config{ControllingMode: true, FullMode: true})
	if err != nil {
		t.Fatal(err)
	}
	second, err := New(factory, loop, newFakeRng(20), Config{ControllingMode: true, FullMode: true})
	if err != nil {
		t.Fatal(err)
	}

	first.AddLocalAddress(stdIP("10.0.1.1"))
	second.AddLocalAddress(stdIP("10.0.1.2"))

	streamA, err := first.AddStream(1)
	if err != nil {
		t.Fatal(err)
	}
	streamB, err := second.AddStream(1)
	if err != nil {
		t.Fatal(err)
	}

	exchangeCandidatesAndCredentials(t, first, second, streamA, streamB)

	runUntilReady(t, loop, []*Agent{first, second}, []StreamID{streamA, streamB}, 1, 400)

	if first.Controlling() == second.Controlling() {
		t.Fatalf("expected role conflict to leave exactly one agent controlling, got first=%v second=%v",
			first.Controlling(), second.Controlling())
	}
}

// TestRetransmitThenFail is scenario (4) of SPEC_FULL.md §8: a pair
// whose remote address never answers exhausts checkMaxRetransmits and
// the component is reported FAILED.
func TestRetransmitThenFail(t *testing.T) {
	net := newIoNetwork()
	loop := newIoLoop()
	factory := netSocketFactory{net: net}

	agent, err := New(factory, loop, newFakeRng(3), Config{ControllingMode: true, FullMode: true})
	if err != nil {
		t.Fatal(err)
	}
	agent.AddLocalAddress(stdIP("10.0.2.1"))

	streamID, err := agent.AddStream(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := agent.SetRemoteCredentials(streamID, "rrrr", "rrrrrrrrrrrrrrrrrrrrrr"); err != nil {
		t.Fatal(err)
	}
	// No socket is ever bound at this address, so every check sent to it
	// is silently dropped by the Network, modelling an unreachable peer.
	if err := agent.AddRemoteCandidate(streamID, RemoteCandidate{
		Foundation: "dead", ComponentID: 1, Priority: 1000,
		Addr: stdIP("10.0.2.99"), Port: 4000, Type: Host,
	}); err != nil {
		t.Fatal(err)
	}

	// checkMaxRetransmits retransmits at a doubling RTO starting at
	// checkRTO mean the last retransmit is due only after several tens
	// of seconds of virtual time; advance in Ta-sized steps so the
	// engine's own backoff schedule governs when each retransmit fires.
	var failed bool
	for i := 0; i < 4000; i++ {
		loop.Advance(20 * time.Millisecond)
		s, ok := agent.stream(streamID)
		if !ok {
			t.Fatal("stream disappeared")
		}
		comp, ok := s.Component(1)
		if !ok {
			t.Fatal("component disappeared")
		}
		if comp.State == Failed {
			failed = true
			break
		}
	}
	if !failed {
		t.Fatal("expected component to reach FAILED after exhausting retransmits")
	}
}
