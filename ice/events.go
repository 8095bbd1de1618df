package ice

// EventKind discriminates the Event union emitted by an Agent, per the
// observable-events list in SPEC_FULL.md §4.1.
type EventKind byte

// Event kinds.
const (
	EventCandidateGatheringDone EventKind = iota
	EventNewCandidate
	EventNewRemoteCandidate
	EventComponentStateChanged
	EventNewSelectedPair
	EventInitialBindingRequestReceived
)

// Event is one observable side effect of the agent. Only the fields
// relevant to Kind are populated; see SPEC_FULL.md §4.1 for the event
// list this mirrors.
type Event struct {
	Kind        EventKind
	StreamID    StreamID
	ComponentID int

	// Foundation is populated for EventNewCandidate/EventNewRemoteCandidate
	// (the candidate's foundation) and EventNewSelectedPair (local
	// candidate's foundation; RemoteFoundation holds the remote side).
	Foundation       string
	RemoteFoundation string

	State ComponentState
}

// EventSink receives Events emitted by an Agent, in order, per stream
// and component, as SPEC_FULL.md §5 requires. Implementations must not
// block significantly: the agent's single goroutine calls this
// synchronously from within its own tick.
type EventSink func(Event)
