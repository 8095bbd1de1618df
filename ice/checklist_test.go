package ice

import (
	"net"
	"testing"
)

func newTestStream(nComponents int) *Stream {
	s := &Stream{
		ID:         StreamID("test"),
		Components: make(map[int]*Component),
	}
	for i := 1; i <= nComponents; i++ {
		s.Components[i] = newComponent(s.ID, i)
	}
	return s
}

func TestReformChecklistFreezesByFoundation(t *testing.T) {
	s := newTestStream(1)
	comp := s.Components[1]

	hostAddr := Addr{IP: net.ParseIP("192.0.2.10"), Port: 1}
	comp.LocalCandidates = Candidates{
		{ComponentID: 1, Type: Host, Addr: hostAddr, Base: hostAddr, Priority: 100, Foundation: "fH"},
	}
	comp.RemoteCandidates = Candidates{
		{ComponentID: 1, Addr: Addr{IP: net.ParseIP("192.0.2.20"), Port: 2}, Priority: 50, Foundation: "r1"},
		{ComponentID: 1, Addr: Addr{IP: net.ParseIP("192.0.2.21"), Port: 3}, Priority: 60, Foundation: "r2"},
	}

	s.reformChecklist(1, true)

	if len(s.checkList) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(s.checkList))
	}

	waiting := 0
	for _, p := range s.checkList {
		if p.State == PairWaiting {
			waiting++
		}
		if p.State != PairWaiting && p.State != PairFrozen {
			t.Fatalf("unexpected initial state %s", p.State)
		}
	}
	if waiting != 2 {
		// Each remote candidate has a distinct foundation paired with the
		// single local candidate, so the combined pair foundations
		// (local+remote) differ too: every foundation gets its own
		// WAITING pair.
		t.Fatalf("expected every distinct foundation to have one WAITING pair, got %d waiting of %d", waiting, len(s.checkList))
	}
}

func TestReformChecklistIsIdempotent(t *testing.T) {
	s := newTestStream(1)
	comp := s.Components[1]
	hostAddr := Addr{IP: net.ParseIP("192.0.2.10"), Port: 1}
	comp.LocalCandidates = Candidates{
		{ComponentID: 1, Type: Host, Addr: hostAddr, Base: hostAddr, Priority: 100, Foundation: "fH"},
	}
	comp.RemoteCandidates = Candidates{
		{ComponentID: 1, Addr: Addr{IP: net.ParseIP("192.0.2.20"), Port: 2}, Priority: 50, Foundation: "r1"},
	}

	s.reformChecklist(1, true)
	first := append(Pairs{}, s.checkList...)

	s.reformChecklist(1, true)
	if len(s.checkList) != len(first) {
		t.Fatalf("reforming twice changed pair count: %d vs %d", len(s.checkList), len(first))
	}
	if s.checkList[0].ID != first[0].ID {
		t.Fatal("reforming twice must not recreate existing pairs")
	}
}

func TestUnfreezeFoundation(t *testing.T) {
	s := newTestStream(1)
	s.checkList = Pairs{
		{ID: 1, Local: Candidate{Foundation: "a"}, Remote: Candidate{Foundation: "x"}, State: PairFrozen},
		{ID: 2, Local: Candidate{Foundation: "a"}, Remote: Candidate{Foundation: "x"}, State: PairFrozen},
		{ID: 3, Local: Candidate{Foundation: "b"}, Remote: Candidate{Foundation: "y"}, State: PairFrozen},
	}
	s.unfreezeFoundation("a/x")
	if s.checkList[0].State != PairWaiting || s.checkList[1].State != PairWaiting {
		t.Fatal("expected both pairs sharing the foundation to unfreeze")
	}
	if s.checkList[2].State != PairFrozen {
		t.Fatal("expected unrelated foundation to remain frozen")
	}
}
