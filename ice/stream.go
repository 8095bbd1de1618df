package ice

import "github.com/google/uuid"

// StreamID opaquely identifies a Stream. Backed by github.com/google/uuid
// per SPEC_FULL.md §10.1, so callers get a collision-resistant handle
// instead of a bare counter.
type StreamID string

// NewStreamID generates a fresh StreamID.
func NewStreamID() StreamID {
	return StreamID(uuid.New().String())
}

// Stream is a named collection of components sharing one set of ICE
// credentials, RFC 8445's "media stream". Grounded in the Stream data
// model of SPEC_FULL.md §3.
type Stream struct {
	ID         StreamID
	Components map[int]*Component

	LocalUfrag    string
	LocalPassword string
	RemoteUfrag   string
	RemotePassword string

	// InitialBindingRequestReceived latches true on the first valid
	// inbound STUN Binding request carrying the expected credentials.
	InitialBindingRequestReceived bool

	// checkList holds every pair formed across all components of this
	// stream. Pairs reference their owning component by ComponentID.
	checkList Pairs

	nextPairID uint64
}

// newStream allocates a Stream with nComponents components (ids 1..n)
// and freshly generated local credentials.
func newStream(id StreamID, nComponents int, rng RandomSource) (*Stream, error) {
	ufrag, err := generateICEString(rng, ufragLength)
	if err != nil {
		return nil, err
	}
	pwd, err := generateICEString(rng, passwordLength)
	if err != nil {
		return nil, err
	}
	s := &Stream{
		ID:            id,
		Components:    make(map[int]*Component, nComponents),
		LocalUfrag:    ufrag,
		LocalPassword: pwd,
	}
	for i := 1; i <= nComponents; i++ {
		s.Components[i] = newComponent(id, i)
	}
	return s, nil
}

// Component looks up a component by id, reporting ok=false if absent.
func (s *Stream) Component(id int) (*Component, bool) {
	c, ok := s.Components[id]
	return c, ok
}

func (s *Stream) allocPairID() uint64 {
	s.nextPairID++
	return s.nextPairID
}
