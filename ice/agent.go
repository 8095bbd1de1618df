package ice

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// defaultTaMs is the pacing interval SPEC_FULL.md §4.1 recommends when
// Config.TimerTaMs is left at zero.
const defaultTaMs = 20

// defaultStunPort is RFC 5389's default STUN port, used when
// Config.StunServerPort is left unset. Resolves the tautological
// assertion bug noted in SPEC_FULL.md §9/§4.2.
const defaultStunPort = 3478

// Config carries the options an Agent is constructed with, per
// SPEC_FULL.md §4.1's configuration table.
type Config struct {
	StunServer     string
	StunServerPort int

	// TurnServer/TurnServerPort are accepted but not driven; TURN relay
	// allocation is a non-goal (SPEC_FULL.md §1, §10.1).
	TurnServer     string
	TurnServerPort int

	ControllingMode bool
	FullMode        bool
	TimerTaMs       uint32

	// NominationAggressive adds USE-CANDIDATE to checks the controlling
	// agent sends on a pair that is already valid. A pair's first check
	// never carries it, and nomination still goes through tryNominate's
	// nominationDelay window, so this option does not make nomination
	// happen any sooner than regular nomination.
	NominationAggressive bool
}

func (c Config) taInterval() time.Duration {
	if c.TimerTaMs == 0 {
		return defaultTaMs * time.Millisecond
	}
	return time.Duration(c.TimerTaMs) * time.Millisecond
}

// stunServerAddr resolves Config's STUN server fields, tolerating
// either a bare IP or a host:port string, per SPEC_FULL.md §10.3.
func (c Config) stunServerAddr() (Addr, bool) {
	if c.StunServer == "" {
		return Addr{}, false
	}
	host, portStr, err := net.SplitHostPort(c.StunServer)
	if err != nil {
		host = c.StunServer
		portStr = ""
	}
	port := c.StunServerPort
	if portStr != "" {
		if p, err := net.LookupPort("udp", portStr); err == nil {
			port = p
		}
	}
	if port == 0 {
		port = defaultStunPort
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return Addr{}, false
		}
		ip = ips[0]
	}
	return Addr{IP: ip, Port: port, Proto: ProtoUDP}, true
}

// Agent is the top-level ICE coordinator: it owns streams, timers, the
// tie-breaker and controlling role, and emits observable events.
// Grounded in SPEC_FULL.md §4.1, ported from gortc/ice's agent.go
// restructured around the Driver/Socket capability seams of §6.
type Agent struct {
	config Config

	socketFactory SocketFactory
	driver        Driver
	rng           RandomSource
	addresses     *AddressSet
	manualAddrs   []net.IP

	streams map[StreamID]*Stream

	controlling bool
	tieBreaker  uint64

	nominationAggressive bool

	stunServer   Addr
	haveStun     bool

	discovery *DiscoveryEngine
	conncheck *ConnCheckEngine
	recv      *ReceivePath

	sink EventSink

	inbox map[componentKey][][]byte

	tickHandle TimerHandle
}

type componentKey struct {
	stream    StreamID
	component int
}

// New constructs an Agent. socketFactory and driver are the consumed
// capabilities of SPEC_FULL.md §6; rng backs credential and
// tie-breaker generation.
func New(socketFactory SocketFactory, driver Driver, rng RandomSource, config Config) (*Agent, error) {
	a := &Agent{
		config:               config,
		socketFactory:        socketFactory,
		driver:                driver,
		rng:                  rng,
		addresses:             NewAddressSet(),
		streams:               make(map[StreamID]*Stream),
		controlling:           config.ControllingMode,
		nominationAggressive:  config.NominationAggressive,
		inbox:                 make(map[componentKey][][]byte),
	}
	tb, err := generateTieBreaker(rng)
	if err != nil {
		return nil, errors.Wrap(err, "ice: generate tie-breaker")
	}
	a.tieBreaker = tb
	if addr, ok := config.stunServerAddr(); ok {
		a.stunServer = addr
		a.haveStun = true
	}
	a.discovery = newDiscoveryEngine(a)
	a.conncheck = newConnCheckEngine(a)
	a.recv = newReceivePath(a)
	a.armTick()
	return a, nil
}

// AttachEventLoop installs the sink events are delivered to. Must be
// called before any stream is added if the caller wants to observe
// gathering events.
func (a *Agent) AttachEventLoop(sink EventSink) {
	a.sink = sink
}

func (a *Agent) emit(e Event) {
	if a.sink != nil {
		a.sink(e)
	}
}

// AddLocalAddress registers a local interface address to bind host
// candidates to, bypassing AddressSet's automatic interface
// enumeration. Useful for tests and for hosts with addresses the OS
// does not enumerate through net.Interfaces (e.g. a container's
// published address).
func (a *Agent) AddLocalAddress(ip net.IP) {
	a.manualAddrs = append(a.manualAddrs, ip)
}

func (a *Agent) localAddrs() ([]net.IP, error) {
	if len(a.manualAddrs) > 0 {
		return a.manualAddrs, nil
	}
	return a.addresses.Discover()
}

// AddStream creates a new stream with nComponents components, binding
// one host socket per component per local address. Rolls back any
// sockets it opened if a later bind fails, so a returned StreamID
// always references a complete stream (SPEC_FULL.md §7 ResourceError).
func (a *Agent) AddStream(nComponents int) (StreamID, error) {
	id := NewStreamID()
	stream, err := newStream(id, nComponents, a.rng)
	if err != nil {
		return "", err
	}

	ips, err := a.localAddrs()
	if err != nil {
		return "", errors.Wrap(err, "ice: discover local addresses")
	}
	hostAddrs := HostAddresses(ips)

	opened := make([]Socket, 0, nComponents*len(hostAddrs))
	rollback := func() {
		for _, s := range opened {
			_ = s.Close()
		}
	}

	for compID := 1; compID <= nComponents; compID++ {
		comp := stream.Components[compID]
		for _, ha := range hostAddrs {
			sock, err := a.socketFactory.Bind(Addr{IP: ha.IP, Port: 0, Proto: ProtoUDP})
			if err != nil {
				rollback()
				return "", bindError(Addr{IP: ha.IP}, err)
			}
			opened = append(opened, sock)
			comp.sockets = append(comp.sockets, sock)

			base := sock.LocalAddr()
			cand := Candidate{
				StreamID:    id,
				ComponentID: compID,
				Type:        Host,
				Transport:   ProtoUDP,
				Addr:        base,
				Base:        base,
				Priority:    Priority(TypePreference(Host), ha.LocalPreference, compID),
				Foundation:  Foundation(Host, base, Addr{}),
			}
			comp.addLocalCandidate(cand)
			a.emit(Event{Kind: EventNewCandidate, StreamID: id, ComponentID: compID, Foundation: cand.Foundation})

			streamID, componentID, socket := id, compID, sock
			a.driver.Watch(sock, func(src Addr, b []byte) {
				a.recv.Dispatch(streamID, componentID, socket, src, b)
			})

			if a.haveStun {
				a.discovery.addHostCandidate(id, compID, cand, a.stunServer, sock)
			}
		}
	}

	a.streams[id] = stream
	return id, nil
}

// RemoveStream deletes all pairs, sockets and timers for a stream. The
// sole cancellation primitive of SPEC_FULL.md §5: synchronous, and any
// response arriving later for this stream's transactions is ignored
// because the stream no longer exists.
func (a *Agent) RemoveStream(id StreamID) error {
	stream, ok := a.streams[id]
	if !ok {
		return ErrUnknownStream
	}
	for _, comp := range stream.Components {
		for _, s := range comp.sockets {
			_ = s.Close()
		}
	}
	delete(a.streams, id)
	return nil
}

func (a *Agent) stream(id StreamID) (*Stream, bool) {
	s, ok := a.streams[id]
	return s, ok
}

// Controlling reports the agent's current ICE role. A role-conflict
// resolution (RFC 8445 Section 7.3.1.1) can flip this after creation,
// so callers should not assume the value from Config stays fixed.
func (a *Agent) Controlling() bool {
	return a.controlling
}

// LocalCandidates returns the current local candidate list for a
// component, for a signalling layer to serialize and hand to the peer.
// Not part of SPEC_FULL.md §4.1's API table verbatim, but required by
// any concrete transport: the event list alone only names a
// candidate's foundation, not its wire-transmissible attributes.
func (a *Agent) LocalCandidates(id StreamID, componentID int) (Candidates, error) {
	s, ok := a.streams[id]
	if !ok {
		return nil, ErrUnknownStream
	}
	comp, ok := s.Component(componentID)
	if !ok {
		return nil, ErrUnknownComponent
	}
	return append(Candidates{}, comp.LocalCandidates...), nil
}

// GetLocalCredentials returns the stream's local ufrag/password.
func (a *Agent) GetLocalCredentials(id StreamID) (ufrag, pwd string, err error) {
	s, ok := a.streams[id]
	if !ok {
		return "", "", ErrUnknownStream
	}
	return s.LocalUfrag, s.LocalPassword, nil
}

// SetRemoteCredentials installs the peer's ufrag/password for a stream.
func (a *Agent) SetRemoteCredentials(id StreamID, ufrag, pwd string) error {
	s, ok := a.streams[id]
	if !ok {
		return ErrUnknownStream
	}
	if len(ufrag) < 4 || len(pwd) < 22 {
		return ErrInvalidCandidate
	}
	s.RemoteUfrag = ufrag
	s.RemotePassword = pwd
	return nil
}

// RemoteCandidate is the wire shape a caller supplies to
// AddRemoteCandidate/SetRemoteCandidates, per SPEC_FULL.md §6's
// candidate exchange format.
type RemoteCandidate struct {
	Foundation  string
	ComponentID int
	Priority    int
	Addr        net.IP
	Port        int
	Type        Type
	RelatedAddr net.IP
	RelatedPort int
}

func (r RemoteCandidate) toCandidate(streamID StreamID) Candidate {
	c := Candidate{
		StreamID:    streamID,
		ComponentID: r.ComponentID,
		Type:        r.Type,
		Transport:   ProtoUDP,
		Addr:        Addr{IP: r.Addr, Port: r.Port, Proto: ProtoUDP},
		Foundation:  r.Foundation,
		Priority:    r.Priority,
	}
	if r.RelatedAddr != nil {
		c.Related = Addr{IP: r.RelatedAddr, Port: r.RelatedPort, Proto: ProtoUDP}
	}
	return c
}

// AddRemoteCandidate adds a single remote candidate to a stream's
// component and reforms its check list.
func (a *Agent) AddRemoteCandidate(id StreamID, rc RemoteCandidate) error {
	s, ok := a.streams[id]
	if !ok {
		return ErrUnknownStream
	}
	comp, ok := s.Component(rc.ComponentID)
	if !ok {
		return ErrUnknownComponent
	}
	if rc.Addr == nil {
		return ErrInvalidCandidate
	}
	cand := rc.toCandidate(id)
	if comp.addRemoteCandidate(cand) {
		a.emit(Event{Kind: EventNewRemoteCandidate, StreamID: id, ComponentID: rc.ComponentID, Foundation: cand.Foundation})
		s.reformChecklist(rc.ComponentID, a.controlling)
	}
	return nil
}

// SetRemoteCandidates replaces a component's remote candidate set
// wholesale and reforms its check list. The component's existing pairs
// are dropped and formed again from the new remote set, so calling it
// twice with the same list yields the same pairs, priorities and
// initial states, but with new pair ids and with any check progress on
// the old pairs discarded.
func (a *Agent) SetRemoteCandidates(id StreamID, componentID int, list []RemoteCandidate) (int, error) {
	s, ok := a.streams[id]
	if !ok {
		return 0, ErrUnknownStream
	}
	comp, ok := s.Component(componentID)
	if !ok {
		return 0, ErrUnknownComponent
	}
	cands := make(Candidates, 0, len(list))
	for _, rc := range list {
		cands = append(cands, rc.toCandidate(id))
	}
	comp.setRemoteCandidates(cands)
	s.removeComponentPairs(componentID)
	s.reformChecklist(componentID, a.controlling)
	for _, c := range cands {
		a.emit(Event{Kind: EventNewRemoteCandidate, StreamID: id, ComponentID: componentID, Foundation: c.Foundation})
	}
	return len(cands), nil
}

// Send writes bytes to the component's selected pair.
func (a *Agent) Send(id StreamID, componentID int, b []byte) (int, error) {
	s, ok := a.streams[id]
	if !ok {
		return 0, ErrUnknownStream
	}
	comp, ok := s.Component(componentID)
	if !ok {
		return 0, ErrUnknownComponent
	}
	if comp.Selected == nil {
		return 0, errors.New("ice: component has no selected pair")
	}
	sock := comp.socketFor(comp.Selected.Local.Base)
	if sock == nil {
		return 0, errors.New("ice: no socket for selected pair")
	}
	return sock.Send(comp.Selected.Remote.Addr, b)
}

// Recv pops the oldest buffered application datagram for a component,
// copying it into buf and returning its length. Returns 0 if nothing
// is queued.
func (a *Agent) Recv(id StreamID, componentID int, buf []byte) int {
	k := componentKey{stream: id, component: componentID}
	q := a.inbox[k]
	if len(q) == 0 {
		return 0
	}
	n := copy(buf, q[0])
	a.inbox[k] = q[1:]
	return n
}

func (a *Agent) deliverApplication(streamID StreamID, componentID int, src Addr, b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)
	k := componentKey{stream: streamID, component: componentID}
	a.inbox[k] = append(a.inbox[k], cp)
}

// resolveRoleConflict applies RFC 8445 Section 7.3.1.1's tie-breaker
// rule: the agent with the larger tie-breaker retains its role and the
// loser switches, per SPEC_FULL.md §4.1.
func (a *Agent) resolveRoleConflict() {
	// The caller already decided, by comparing tie-breakers against the
	// peer's claimed role/tie-breaker, that this agent lost; switchRole
	// is invoked directly by handleRequest in that case. A 487 response
	// received here means the peer believes we lost, which under a
	// correct tie-breaker comparison only happens when we in fact did.
	a.switchRole(!a.controlling)
}

// switchRole flips the agent's controlling role and resets affected
// pairs from SUCCEEDED/FAILED back to WAITING, per SPEC_FULL.md §4.1.
func (a *Agent) switchRole(controlling bool) {
	if a.controlling == controlling {
		return
	}
	a.controlling = controlling
	for _, s := range a.streams {
		for i := range s.checkList {
			p := &s.checkList[i]
			if p.State == PairSucceeded || p.State == PairFailed {
				p.State = PairWaiting
				p.Nominated = false
				p.Valid = false
			}
		}
		s.recomputePriorities(controlling)
	}
}

func (a *Agent) armTick() {
	interval := a.config.taInterval()
	a.tickHandle = a.driver.Timer(interval, a.onTick)
}

func (a *Agent) onTick() {
	now := a.driver.Now()
	a.discovery.tick(now)
	a.conncheck.tick(now)
	a.armTick()
}

// Close releases every stream's sockets and stops the pacing timer.
func (a *Agent) Close() error {
	if a.tickHandle != nil {
		a.driver.Cancel(a.tickHandle)
	}
	for id := range a.streams {
		_ = a.RemoveStream(id)
	}
	return nil
}
