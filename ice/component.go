package ice

// ComponentState is the lifecycle state of a Component, RFC 8445
// Section 6.1.2.3 generalized with the FAILED terminal state named in
// SPEC_FULL.md §3.
type ComponentState byte

// Component states, forming the machine described in SPEC_FULL.md §3:
//
//	DISCONNECTED -> GATHERING -> CONNECTING -> CONNECTED -> READY
//	                                                 \-> FAILED
const (
	Disconnected ComponentState = iota
	Gathering
	Connecting
	Connected
	Ready
	Failed
)

var componentStateNames = map[ComponentState]string{
	Disconnected: "disconnected",
	Gathering:    "gathering",
	Connecting:   "connecting",
	Connected:    "connected",
	Ready:        "ready",
	Failed:       "failed",
}

func (s ComponentState) String() string { return componentStateNames[s] }

// SelectedPair is the nominated (local, remote) candidate pair a
// Component sends application traffic on.
type SelectedPair struct {
	Local  Candidate
	Remote Candidate
}

// Component is one addressable sub-stream of a Stream (e.g. RTP=1,
// RTCP=2): it owns its sockets, candidate lists, selected pair and
// state. Grounded in the Component data model of SPEC_FULL.md §3.
type Component struct {
	StreamID StreamID
	ID       int

	State ComponentState

	LocalCandidates  Candidates
	RemoteCandidates Candidates

	Selected *SelectedPair

	sockets []Socket

	// failureReported latches once FAILED has been surfaced via an
	// event, so ConnCheckEngine never re-emits component_state_changed
	// for every subsequent tick. Supplemented from original_source per
	// SPEC_FULL.md §10.3.
	failureReported bool
}

func newComponent(streamID StreamID, id int) *Component {
	return &Component{StreamID: streamID, ID: id, State: Disconnected}
}

// addLocalCandidate appends c to the component's local candidate list,
// enforcing the "(type, base_addr, addr) unique per stream" invariant
// from SPEC_FULL.md §3: a duplicate is silently ignored rather than
// returned as an error, matching how discovery call sites treat
// re-discovery of an address already known.
func (c *Component) addLocalCandidate(cand Candidate) bool {
	for _, existing := range c.LocalCandidates {
		if existing.Equal(cand) {
			return false
		}
	}
	c.LocalCandidates = append(c.LocalCandidates, cand)
	if c.State == Disconnected {
		c.State = Gathering
	}
	return true
}

func (c *Component) addRemoteCandidate(cand Candidate) bool {
	for _, existing := range c.RemoteCandidates {
		if existing.Equal(cand) {
			return false
		}
	}
	c.RemoteCandidates = append(c.RemoteCandidates, cand)
	return true
}

// setRemoteCandidates replaces the remote candidate set wholesale, for
// SetRemoteCandidates.
func (c *Component) setRemoteCandidates(cands Candidates) {
	c.RemoteCandidates = append(Candidates{}, cands...)
}

// socketFor returns the socket bound to base, if any of the
// component's sockets match.
func (c *Component) socketFor(base Addr) Socket {
	for _, s := range c.sockets {
		if s.LocalAddr().Equal(base) {
			return s
		}
	}
	return nil
}
