package ice

import (
	"encoding/binary"

	"github.com/gortc/stun"
)

// ICE-specific STUN attributes from RFC 8445 Section 7.1.2, ported from
// gortc/ice's icecontrol.go. gortc/stun ships the base RFC 5389
// attribute set only, so the ICE control attributes live in this
// package instead, using the same Setter/Getter codec convention
// (AddTo/GetFrom against *stun.Message) as every other attribute in
// the teacher's stack.
const (
	attrICEControlled  stun.AttrType = 0x8029
	attrICEControlling stun.AttrType = 0x802A
	attrUseCandidate   stun.AttrType = 0x0025
	attrPriority       stun.AttrType = 0x0024
)

const tieBreakerSize = 8

func addTieBreaker(m *stun.Message, t stun.AttrType, v uint64) {
	b := make([]byte, tieBreakerSize)
	binary.BigEndian.PutUint64(b, v)
	m.Add(t, b)
}

func getTieBreaker(m *stun.Message, t stun.AttrType) (uint64, error) {
	v, err := m.Get(t)
	if err != nil {
		return 0, err
	}
	if err := stun.CheckSize(t, len(v), tieBreakerSize); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

// AttrControlled represents the ICE-CONTROLLED attribute: the sending
// agent believes itself to be in the controlled role, with tieBreaker
// as its tie-breaker value.
type AttrControlled uint64

// AddTo adds ICE-CONTROLLED to m.
func (c AttrControlled) AddTo(m *stun.Message) error {
	addTieBreaker(m, attrICEControlled, uint64(c))
	return nil
}

// GetFrom decodes ICE-CONTROLLED from m.
func (c *AttrControlled) GetFrom(m *stun.Message) error {
	v, err := getTieBreaker(m, attrICEControlled)
	if err != nil {
		return err
	}
	*c = AttrControlled(v)
	return nil
}

// AttrControlling represents the ICE-CONTROLLING attribute.
type AttrControlling uint64

// AddTo adds ICE-CONTROLLING to m.
func (c AttrControlling) AddTo(m *stun.Message) error {
	addTieBreaker(m, attrICEControlling, uint64(c))
	return nil
}

// GetFrom decodes ICE-CONTROLLING from m.
func (c *AttrControlling) GetFrom(m *stun.Message) error {
	v, err := getTieBreaker(m, attrICEControlling)
	if err != nil {
		return err
	}
	*c = AttrControlling(v)
	return nil
}

// UseCandidate represents the USE-CANDIDATE flag attribute: zero-length,
// its mere presence is the signal.
type UseCandidate struct{}

// AddTo adds USE-CANDIDATE to m.
func (UseCandidate) AddTo(m *stun.Message) error {
	m.Add(attrUseCandidate, nil)
	return nil
}

// GetFrom reports whether m carries USE-CANDIDATE.
func (UseCandidate) GetFrom(m *stun.Message) error {
	if !m.Contains(attrUseCandidate) {
		return stun.ErrAttributeNotFound
	}
	return nil
}

// PriorityAttr represents the PRIORITY attribute: the sending
// candidate's priority, echoed back so the peer can synthesize a
// peer-reflexive candidate if needed.
type PriorityAttr uint32

// AddTo adds PRIORITY to m.
func (p PriorityAttr) AddTo(m *stun.Message) error {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, uint32(p))
	m.Add(attrPriority, v)
	return nil
}

// GetFrom decodes PRIORITY from m.
func (p *PriorityAttr) GetFrom(m *stun.Message) error {
	v, err := m.Get(attrPriority)
	if err != nil {
		return err
	}
	if err := stun.CheckSize(attrPriority, len(v), 4); err != nil {
		return err
	}
	*p = PriorityAttr(binary.BigEndian.Uint32(v))
	return nil
}
