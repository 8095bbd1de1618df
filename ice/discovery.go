package ice

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gortc/stun"
)

// discoveryRTO is the initial RFC 5389 Section 7.2.1 retransmission
// timeout for a STUN Binding request.
const discoveryRTO = 500 * time.Millisecond

// discoveryMaxRetransmits bounds the number of retransmits RFC 5389
// recommends (7) before a transaction is abandoned.
const discoveryMaxRetransmits = 7

// newDiscoveryBackoff builds the github.com/cenkalti/backoff/v4 policy
// that bounds discovery retransmits: each timeout consumes one
// NextBackOff, and the item is abandoned once discoveryMaxRetransmits
// retransmits have been spent. The retransmit timer itself is always
// discoveryRTO (see armRetransmit); the doubling intervals the policy
// computes are not used as timer delays.
func newDiscoveryBackoff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     discoveryRTO,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         discoveryRTO * (1 << discoveryMaxRetransmits),
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithMaxRetries(b, discoveryMaxRetransmits)
}

// discoveryItem is one outstanding server-reflexive discovery attempt
// for a single host candidate, RFC 8445 Section 5.1.1's "CandidateDiscovery".
type discoveryItem struct {
	streamID    StreamID
	componentID int
	host        Candidate
	server      Addr
	socket      Socket

	boff       backoff.BackOff
	pending    bool
	txID       [12]byte
	timer      TimerHandle
	abandoned  bool
}

// DiscoveryEngine drives outstanding STUN Binding requests that
// produce server-reflexive candidates, paced by Ta. Grounded in
// SPEC_FULL.md §4.2, ported from the discovery loop described in
// gortc/ice's gather.go (the candidate-discovery half of
// candidateDiscovery / componentGatherer).
type DiscoveryEngine struct {
	items []*discoveryItem

	agent *Agent

	doneEmitted bool
}

func newDiscoveryEngine(a *Agent) *DiscoveryEngine {
	return &DiscoveryEngine{agent: a}
}

// addHostCandidate enqueues exactly one discovery item for host, if a
// STUN server is configured. SPEC_FULL.md §4.2's implementation note:
// this must happen exactly once per host candidate; the teacher
// source's double append is not reproduced.
func (d *DiscoveryEngine) addHostCandidate(streamID StreamID, componentID int, host Candidate, server Addr, sock Socket) {
	if server.IP == nil {
		return
	}
	d.items = append(d.items, &discoveryItem{
		streamID:    streamID,
		componentID: componentID,
		host:        host,
		server:      server,
		socket:      sock,
		boff:        newDiscoveryBackoff(),
	})
	d.doneEmitted = false
}

// pendingCount reports the number of discovery items not yet abandoned.
func (d *DiscoveryEngine) pendingCount() int {
	n := 0
	for _, it := range d.items {
		if !it.abandoned {
			n++
		}
	}
	return n
}

// tick advances at most one discovery item, per SPEC_FULL.md §4.5's
// single-start-per-tick pacing rule.
func (d *DiscoveryEngine) tick(now time.Time) {
	for _, it := range d.items {
		if it.abandoned || it.pending {
			continue
		}
		d.start(it)
		break
	}
	if d.pendingCount() == 0 && !d.doneEmitted {
		d.doneEmitted = true
		d.agent.emit(Event{Kind: EventCandidateGatheringDone})
	}
}

func (d *DiscoveryEngine) start(it *discoveryItem) {
	var txID [12]byte
	raw, err := d.agent.rng.Bytes(12)
	if err != nil {
		it.abandoned = true
		return
	}
	copy(txID[:], raw)

	m := stun.New()
	if err := m.Build(
		stun.NewTransactionIDSetter(txID),
		stun.BindingRequest,
		stun.Fingerprint,
	); err != nil {
		it.abandoned = true
		return
	}

	if _, err := it.socket.Send(it.server, m.Raw); err != nil {
		d.abandonWithBackoff(it)
		return
	}

	it.txID = txID
	it.pending = true
	d.armRetransmit(it)
}

func (d *DiscoveryEngine) armRetransmit(it *discoveryItem) {
	it.timer = d.agent.driver.Timer(discoveryRTO, func() {
		d.onTimeout(it)
	})
}

func (d *DiscoveryEngine) onTimeout(it *discoveryItem) {
	if !it.pending {
		return
	}
	d.abandonWithBackoff(it)
}

func (d *DiscoveryEngine) abandonWithBackoff(it *discoveryItem) {
	next := it.boff.NextBackOff()
	it.pending = false
	if next == backoff.Stop {
		it.abandoned = true
	}
}

// handleResponse matches an inbound STUN message against outstanding
// discovery transactions. Returns true if it was consumed.
func (d *DiscoveryEngine) handleResponse(src Addr, m *stun.Message) bool {
	for _, it := range d.items {
		if !it.pending || m.TransactionID != it.txID {
			continue
		}
		it.pending = false
		if it.timer != nil {
			d.agent.driver.Cancel(it.timer)
		}
		if m.Type.Class == stun.ClassErrorResponse {
			it.abandoned = true
			return true
		}
		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(m); err != nil {
			it.abandoned = true
			return true
		}
		it.abandoned = true
		d.onSuccess(it, Addr{IP: xorAddr.IP, Port: xorAddr.Port, Proto: ProtoUDP})
		return true
	}
	return false
}

func (d *DiscoveryEngine) onSuccess(it *discoveryItem, mapped Addr) {
	if mapped.Equal(it.host.Addr) {
		return
	}
	stream, ok := d.agent.stream(it.streamID)
	if !ok {
		return
	}
	comp, ok := stream.Component(it.componentID)
	if !ok {
		return
	}
	foundation := Foundation(ServerReflexive, it.host.Base, it.server)
	cand := Candidate{
		StreamID:    it.streamID,
		ComponentID: it.componentID,
		Type:        ServerReflexive,
		Transport:   ProtoUDP,
		Addr:        mapped,
		Base:        it.host.Base,
		Related:     it.host.Addr,
		Priority:    Priority(TypePreference(ServerReflexive), hostLocalPreference(it.host), it.componentID),
		Foundation:  foundation,
	}
	if !comp.addLocalCandidate(cand) {
		return
	}
	d.agent.emit(Event{
		Kind:        EventNewCandidate,
		StreamID:    it.streamID,
		ComponentID: it.componentID,
		Foundation:  foundation,
	})
	stream.reformChecklist(it.componentID, d.agent.controlling)
}

// hostLocalPreference recovers the local-preference component baked
// into a host candidate's priority, so reflexive candidates derived
// from it keep the same relative ordering among local interfaces.
func hostLocalPreference(host Candidate) int {
	return (host.Priority >> 8) & 0xFFFF
}
