package ice

import (
	"time"

	"github.com/gortc/stun"
)

// checkRTO mirrors discoveryRTO: RFC 5389 Section 7.2.1's initial
// retransmission timeout, reused for connectivity checks.
const checkRTO = 500 * time.Millisecond

// checkMaxRetransmits bounds retransmits per pair before it fails.
const checkMaxRetransmits = 7

// defaultKeepaliveInterval is Tr from SPEC_FULL.md §4.3: the cadence
// of STUN Binding indications sent on a selected pair to keep NAT
// bindings alive.
const defaultKeepaliveInterval = 15 * time.Second

// nominationDelay is the "regular nomination" stabilization window of
// SPEC_FULL.md §4.3: how long a valid pair must remain so before the
// controlling agent nominates it.
const nominationDelay = 100 * time.Millisecond

// ConnCheckEngine maintains per-stream check lists, runs triggered and
// ordinary connectivity checks, applies pair state transitions, and
// handles nomination. Grounded in SPEC_FULL.md §4.3, ported from
// gortc/ice's checklist.go scheduling loop and pair.go state machine.
type ConnCheckEngine struct {
	agent             *Agent
	keepaliveInterval time.Duration

	nominationSince map[pairHandle]time.Time
	keepaliveSentAt map[pairHandle]time.Time
}

type pairHandle struct {
	stream StreamID
	pairID uint64
}

func newConnCheckEngine(a *Agent) *ConnCheckEngine {
	return &ConnCheckEngine{
		agent:             a,
		keepaliveInterval: defaultKeepaliveInterval,
		nominationSince:   make(map[pairHandle]time.Time),
		keepaliveSentAt:   make(map[pairHandle]time.Time),
	}
}

// tick advances retransmits, starts at most one new ordinary check,
// attempts nomination, and fires due keepalives. One call per Ta
// interval, per SPEC_FULL.md §4.5.
func (e *ConnCheckEngine) tick(now time.Time) {
	for _, stream := range e.agent.streams {
		e.processRetransmits(stream, now)
	}
	e.startOneOrdinaryCheck(now)
	for _, stream := range e.agent.streams {
		e.tryNominate(stream, now)
		e.sendDueKeepalives(stream, now)
	}
}

func (e *ConnCheckEngine) processRetransmits(stream *Stream, now time.Time) {
	for i := range stream.checkList {
		p := &stream.checkList[i]
		if p.State != PairInProgress || !p.inFlight {
			continue
		}
		if now.Before(p.nextTickAtField()) {
			continue
		}
		p.retransmitCount++
		if p.retransmitCount > checkMaxRetransmits {
			e.failPair(stream, p)
			continue
		}
		e.sendCheck(stream, p, now)
	}
}

// nextTickAtField is a method wrapper kept separate from the Pair
// struct's exported fields so the retransmit schedule can be tuned
// without widening Pair's public surface. The RTO doubles from checkRTO
// and is capped at 16*checkRTO, so with checkMaxRetransmits = 7 a pair
// that never gets an answer fails 39.5s after its first check.
func (p *Pair) nextTickAtField() time.Time {
	rto := checkRTO << uint(p.retransmitCount)
	if rto > 16*checkRTO {
		rto = 16 * checkRTO
	}
	return p.scheduledAt.Add(rto)
}

// startOneOrdinaryCheck is the full-agent ordinary-check scheduler: a
// lite agent (SPEC_FULL.md §4.1, Config.FullMode false) never
// self-initiates checks, only answers inbound ones via handleRequest.
func (e *ConnCheckEngine) startOneOrdinaryCheck(now time.Time) {
	if !e.agent.config.FullMode {
		return
	}
	for _, stream := range e.agent.streams {
		p := stream.nextWaiting()
		if p == nil {
			continue
		}
		p.State = PairInProgress
		e.sendCheck(stream, p, now)
		return
	}
}

func (e *ConnCheckEngine) sendCheck(stream *Stream, p *Pair, now time.Time) {
	comp, ok := stream.Component(p.Local.ComponentID)
	if !ok {
		return
	}
	sock := comp.socketFor(p.Local.Base)
	if sock == nil {
		e.failPair(stream, p)
		return
	}
	if comp.State == Disconnected || comp.State == Gathering {
		e.setComponentState(stream, comp, Connecting)
	}

	raw, err := e.agent.rng.Bytes(12)
	if err != nil {
		e.failPair(stream, p)
		return
	}
	var txID [12]byte
	copy(txID[:], raw)
	p.lastTxID = txID
	p.inFlight = true
	p.scheduledAt = now

	setters := []stun.Setter{
		stun.NewTransactionIDSetter(txID),
		stun.BindingRequest,
		PriorityAttr(p.Local.Priority),
	}
	if e.agent.controlling {
		setters = append(setters, AttrControlling(e.agent.tieBreaker))
	} else {
		setters = append(setters, AttrControlled(e.agent.tieBreaker))
	}
	if e.agent.controlling && p.Valid && (e.agent.nominationAggressive || p.Nominated) {
		setters = append(setters, UseCandidate{})
	}
	username := stun.NewUsername(stream.RemoteUfrag + ":" + stream.LocalUfrag)
	integrity := stun.NewShortTermIntegrity(stream.RemotePassword)
	setters = append(setters, username, integrity, stun.Fingerprint)

	m := stun.New()
	if err := m.Build(setters...); err != nil {
		e.failPair(stream, p)
		return
	}
	if _, err := sock.Send(p.Remote.Addr, m.Raw); err != nil {
		e.failPair(stream, p)
		return
	}
}

func (e *ConnCheckEngine) failPair(stream *Stream, p *Pair) {
	p.State = PairFailed
	p.inFlight = false
	if !stream.hasNonFailedPair(p.Local.ComponentID) {
		e.markComponentFailed(stream, p.Local.ComponentID)
	}
}

func (s *Stream) hasNonFailedPair(componentID int) bool {
	for _, p := range s.checkList {
		if p.Local.ComponentID == componentID && p.State != PairFailed {
			return true
		}
	}
	return false
}

func (e *ConnCheckEngine) markComponentFailed(stream *Stream, componentID int) {
	comp, ok := stream.Component(componentID)
	if !ok || comp.failureReported || comp.State == Failed {
		return
	}
	comp.State = Failed
	comp.failureReported = true
	e.agent.emit(Event{
		Kind:        EventComponentStateChanged,
		StreamID:    stream.ID,
		ComponentID: componentID,
		State:       Failed,
	})
}

func (e *ConnCheckEngine) setComponentState(stream *Stream, comp *Component, state ComponentState) {
	if comp.State == state {
		return
	}
	// Ready and Failed are absorbing (SPEC_FULL.md §8): once reached,
	// no later pair success or failure may move the component again,
	// e.g. a second pair succeeding after READY must not regress it
	// back to Connected.
	if comp.State == Ready || comp.State == Failed {
		return
	}
	comp.State = state
	e.agent.emit(Event{
		Kind:        EventComponentStateChanged,
		StreamID:    stream.ID,
		ComponentID: comp.ID,
		State:       state,
	})
}

// handleInbound classifies an inbound STUN message for ConnCheckEngine
// once DiscoveryEngine has declined it: either a response to our own
// check, or an inbound request to be answered (possibly a triggered
// check), per SPEC_FULL.md §4.3/§4.4.
func (e *ConnCheckEngine) handleInbound(stream *Stream, comp *Component, src Addr, sock Socket, m *stun.Message) {
	switch m.Type.Class {
	case stun.ClassSuccessResponse, stun.ClassErrorResponse:
		e.handleResponse(stream, m)
	case stun.ClassRequest:
		e.handleRequest(stream, comp, src, sock, m)
	}
}

func (e *ConnCheckEngine) handleResponse(stream *Stream, m *stun.Message) {
	for i := range stream.checkList {
		p := &stream.checkList[i]
		if !p.inFlight || p.lastTxID != m.TransactionID {
			continue
		}
		p.inFlight = false

		if m.Type.Class == stun.ClassErrorResponse {
			var ec stun.ErrorCodeAttribute
			if err := ec.GetFrom(m); err == nil && ec.Code == stun.CodeRoleConflict {
				e.agent.resolveRoleConflict()
				p.State = PairWaiting
				return
			}
			e.failPair(stream, p)
			return
		}

		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(m); err != nil {
			e.failPair(stream, p)
			return
		}
		mapped := Addr{IP: xorAddr.IP, Port: xorAddr.Port, Proto: ProtoUDP}

		comp, ok := stream.Component(p.Local.ComponentID)
		if !ok {
			return
		}
		if !mapped.Equal(p.Local.Base) {
			p.Local = e.synthesizePeerReflexive(stream, comp, mapped, p.Local)
		}

		p.State = PairSucceeded
		p.Valid = true

		e.setComponentState(stream, comp, Connected)
		stream.unfreezeFoundation(p.Foundation())

		if p.Nominated {
			e.installSelected(stream, comp, *p)
		}
		return
	}
}

// synthesizePeerReflexive creates a PEER_REFLEXIVE local candidate
// when the mapped address in a success response does not match any
// known local candidate, per SPEC_FULL.md §4.3.
func (e *ConnCheckEngine) synthesizePeerReflexive(stream *Stream, comp *Component, mapped Addr, base Candidate) Candidate {
	for _, c := range comp.LocalCandidates {
		if c.Addr.Equal(mapped) {
			return c
		}
	}
	cand := Candidate{
		StreamID:    stream.ID,
		ComponentID: comp.ID,
		Type:        PeerReflexive,
		Transport:   ProtoUDP,
		Addr:        mapped,
		Base:        base.Base,
		Priority:    Priority(TypePreference(PeerReflexive), hostLocalPreference(base), comp.ID),
		Foundation:  Foundation(PeerReflexive, base.Base, Addr{}),
	}
	comp.addLocalCandidate(cand)
	e.agent.emit(Event{
		Kind:        EventNewCandidate,
		StreamID:    stream.ID,
		ComponentID: comp.ID,
		Foundation:  cand.Foundation,
	})
	return cand
}

// handleRequest answers an inbound Binding request, performing a
// triggered check when the matching pair was not already in flight,
// per SPEC_FULL.md §4.3/§4.4.
func (e *ConnCheckEngine) handleRequest(stream *Stream, comp *Component, src Addr, sock Socket, m *stun.Message) {
	var username stun.Username
	if err := username.GetFrom(m); err != nil {
		return
	}
	expect := stream.LocalUfrag + ":" + stream.RemoteUfrag
	if username.String() != expect {
		return
	}
	integrity := stun.NewShortTermIntegrity(stream.LocalPassword)
	if err := integrity.Check(m); err != nil {
		return
	}

	if !stream.InitialBindingRequestReceived {
		stream.InitialBindingRequestReceived = true
		e.agent.emit(Event{Kind: EventInitialBindingRequestReceived, StreamID: stream.ID})
	}

	var useCandidate UseCandidate
	nominated := useCandidate.GetFrom(m) == nil

	var ctrlling AttrControlling
	var ctrlled AttrControlled
	peerControlling := ctrlling.GetFrom(m) == nil
	peerControlled := ctrlled.GetFrom(m) == nil
	if peerControlling && e.agent.controlling {
		if uint64(ctrlling) < e.agent.tieBreaker {
			e.replyRoleConflict(sock, src, stream, m)
			return
		}
		e.agent.switchRole(false)
	} else if peerControlled && !e.agent.controlling {
		if uint64(ctrlled) > e.agent.tieBreaker {
			e.replyRoleConflict(sock, src, stream, m)
			return
		}
		e.agent.switchRole(true)
	}

	remote, pair := e.findOrCreatePairForRequest(stream, comp, src)

	e.replyBindingSuccess(sock, src, stream, m)

	if pair.State == PairSucceeded || pair.State == PairFailed || pair.State == PairInProgress {
		if nominated && pair.State == PairSucceeded {
			pair.Nominated = true
			e.installSelected(stream, comp, *pair)
		}
		return
	}
	pair.State = PairWaiting
	promoteToFront(stream.checkList, pair.ID)
	_ = remote
}

func promoteToFront(pairs Pairs, id uint64) {
	for i := range pairs {
		if pairs[i].ID != id {
			continue
		}
		if i == 0 {
			return
		}
		p := pairs[i]
		copy(pairs[1:i+1], pairs[0:i])
		pairs[0] = p
		return
	}
}

func (e *ConnCheckEngine) findOrCreatePairForRequest(stream *Stream, comp *Component, src Addr) (Candidate, *Pair) {
	for _, c := range comp.RemoteCandidates {
		if c.Addr.Equal(src) {
			if p := e.findPair(stream, comp.ID, src); p != nil {
				return c, p
			}
		}
	}
	remote := Candidate{
		StreamID:    stream.ID,
		ComponentID: comp.ID,
		Type:        PeerReflexive,
		Transport:   ProtoUDP,
		Addr:        src,
		Base:        src,
		Priority:    Priority(TypePreference(PeerReflexive), 0, comp.ID),
		Foundation:  Foundation(PeerReflexive, src, Addr{}),
	}
	comp.addRemoteCandidate(remote)
	e.agent.emit(Event{
		Kind:        EventNewRemoteCandidate,
		StreamID:    stream.ID,
		ComponentID: comp.ID,
		Foundation:  remote.Foundation,
	})
	stream.reformChecklist(comp.ID, e.agent.controlling)
	if p := e.findPair(stream, comp.ID, src); p != nil {
		return remote, p
	}
	p := Pair{
		ID:     stream.allocPairID(),
		Local:  Candidate{StreamID: stream.ID, ComponentID: comp.ID},
		Remote: remote,
		State:  PairWaiting,
	}
	stream.checkList = append(stream.checkList, p)
	return remote, &stream.checkList[len(stream.checkList)-1]
}

func (e *ConnCheckEngine) findPair(stream *Stream, componentID int, remoteAddr Addr) *Pair {
	for i := range stream.checkList {
		p := &stream.checkList[i]
		if p.Local.ComponentID == componentID && p.Remote.Addr.Equal(remoteAddr) {
			return p
		}
	}
	return nil
}

func (e *ConnCheckEngine) replyBindingSuccess(sock Socket, src Addr, stream *Stream, req *stun.Message) {
	m := stun.New()
	xor := stun.XORMappedAddress{IP: src.IP, Port: src.Port}
	integrity := stun.NewShortTermIntegrity(stream.LocalPassword)
	if err := m.Build(
		stun.NewTransactionIDSetter(req.TransactionID),
		stun.BindingSuccess,
		&xor,
		integrity,
		stun.Fingerprint,
	); err != nil {
		return
	}
	_, _ = sock.Send(src, m.Raw)
}

func (e *ConnCheckEngine) replyRoleConflict(sock Socket, src Addr, stream *Stream, req *stun.Message) {
	m := stun.New()
	if err := m.Build(
		stun.NewTransactionIDSetter(req.TransactionID),
		stun.NewType(stun.MethodBinding, stun.ClassErrorResponse),
		stun.CodeRoleConflict,
		stun.Fingerprint,
	); err != nil {
		return
	}
	_, _ = sock.Send(src, m.Raw)
}

// tryNominate drives the controlling-agent nomination path described
// in SPEC_FULL.md §4.3: once a pair is valid, wait nominationDelay
// then resend the check with USE-CANDIDATE set.
func (e *ConnCheckEngine) tryNominate(stream *Stream, now time.Time) {
	if !e.agent.controlling || !e.agent.config.FullMode {
		return
	}
	for i := range stream.checkList {
		p := &stream.checkList[i]
		if !p.Valid || p.Nominated || p.State != PairSucceeded {
			continue
		}
		h := pairHandle{stream: stream.ID, pairID: p.ID}
		since, ok := e.nominationTimestamp(h)
		if !ok {
			e.setNominationTimestamp(h, now)
			continue
		}
		if now.Sub(since) < nominationDelay {
			continue
		}
		p.State = PairInProgress
		p.Nominated = true
		e.sendCheck(stream, p, now)
		return
	}
}

func (e *ConnCheckEngine) nominationTimestamp(h pairHandle) (time.Time, bool) {
	t, ok := e.nominationSince[h]
	return t, ok
}

func (e *ConnCheckEngine) setNominationTimestamp(h pairHandle, t time.Time) {
	e.nominationSince[h] = t
}

func (e *ConnCheckEngine) installSelected(stream *Stream, comp *Component, p Pair) {
	comp.Selected = &SelectedPair{Local: p.Local, Remote: p.Remote}
	e.setComponentState(stream, comp, Ready)
	e.agent.emit(Event{
		Kind:             EventNewSelectedPair,
		StreamID:         stream.ID,
		ComponentID:      comp.ID,
		Foundation:       p.Local.Foundation,
		RemoteFoundation: p.Remote.Foundation,
	})
}

func (e *ConnCheckEngine) sendDueKeepalives(stream *Stream, now time.Time) {
	for _, comp := range stream.Components {
		if comp.State != Ready || comp.Selected == nil {
			continue
		}
		h := pairHandle{stream: stream.ID, pairID: uint64(comp.ID)}
		last, ok := e.keepaliveSentAt[h]
		if ok && now.Sub(last) < e.keepaliveInterval {
			continue
		}
		sock := comp.socketFor(comp.Selected.Local.Base)
		if sock == nil {
			continue
		}
		e.sendKeepalive(sock, comp.Selected.Remote.Addr)
		e.keepaliveSentAt[h] = now
	}
}

func (e *ConnCheckEngine) sendKeepalive(sock Socket, dst Addr) {
	m := stun.New()
	if err := m.Build(
		stun.TransactionID,
		stun.NewType(stun.MethodBinding, stun.ClassIndication),
		stun.Fingerprint,
	); err != nil {
		return
	}
	_, _ = sock.Send(dst, m.Raw)
}
