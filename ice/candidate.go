package ice

import (
	"crypto/sha256"
	"fmt"
)

// Type encodes the kind of candidate, per RFC 5245 Section 7.1.1.
type Type byte

// Candidate types, ordered by the RECOMMENDED type preference
// (host highest, relayed lowest).
const (
	TypeUnknown Type = iota
	Host
	PeerReflexive
	ServerReflexive
	Relayed
)

func (t Type) String() string {
	switch t {
	case Host:
		return "host"
	case ServerReflexive:
		return "server-reflexive"
	case PeerReflexive:
		return "peer-reflexive"
	case Relayed:
		return "relayed"
	default:
		return "unknown"
	}
}

// typePreferences holds the RECOMMENDED type preference values from
// RFC 8445 Section 5.1.2.2, ported from gortc/ice's candidate.go.
var typePreferences = map[Type]int{
	Host:            126,
	PeerReflexive:   110,
	ServerReflexive: 100,
	Relayed:         0,
}

// TypePreference returns the recommended type preference for t.
func TypePreference(t Type) int { return typePreferences[t] }

// Priority computes the candidate priority per RFC 8445 Section 5.1.2.1:
//
//	priority = (2^24)*(type preference) + (2^8)*(local preference) + (2^0)*(256 - component ID)
//
// Ported from gortc/ice's candidate.go.
func Priority(typePref, localPref, componentID int) int {
	return (1<<24)*typePref + (1<<8)*localPref + (1<<0)*(256-componentID)
}

const foundationLength = 8

// Foundation computes a foundation value for a candidate. Two candidates
// share a foundation iff they have the same type, base IP, protocol, and
// (for reflexive/relayed candidates) STUN/TURN server — exactly the
// grouping the freezing algorithm in ConnCheckEngine needs. Ported from
// gortc/ice's candidate.go Foundation, generalized to return a string
// instead of raw bytes so it can be used directly as a map key and in
// logs without further conversion.
func Foundation(candType Type, base Addr, server Addr) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%s:%d", candType, base.IP, base.Proto)
	if len(server.IP) > 0 {
		fmt.Fprintf(h, ":%s:%d", server.IP, server.Proto)
	}
	sum := h.Sum(nil)
	return fmt.Sprintf("%x", sum[:foundationLength])
}

// Candidate is a transport address that is a potential point of contact
// for receipt of media, RFC 5245 Section 2.3's "candidate". Immutable
// after creation: every field is set once, at construction, by whichever
// engine discovered it (host enumeration, DiscoveryEngine, or
// ConnCheckEngine for peer-reflexive candidates).
type Candidate struct {
	StreamID    StreamID
	ComponentID int
	Type        Type
	Transport   Proto
	Addr        Addr
	Base        Addr
	Related     Addr
	Priority    int
	Foundation  string
	Username    string
	Password    string

	// socket is the local socket this candidate's base is bound to; nil
	// for remote candidates.
	socket Socket
}

// Equal reports whether c and b denote the same candidate for the
// purposes of the "(type, base_addr, addr) unique per stream" invariant.
func (c Candidate) Equal(b Candidate) bool {
	return c.Type == b.Type && c.Base.Equal(b.Base) && c.Addr.Equal(b.Addr)
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s/%s(%d) prio=%d found=%s", c.Addr, c.Type, c.ComponentID, c.Priority, c.Foundation)
}

// Candidates is a list of candidates ordered by priority descending.
type Candidates []Candidate

func (c Candidates) Len() int           { return len(c) }
func (c Candidates) Less(i, j int) bool { return c[i].Priority > c[j].Priority }
func (c Candidates) Swap(i, j int)      { c[i], c[j] = c[j], c[i] }
