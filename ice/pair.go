package ice

import (
	"fmt"
	"time"
)

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// PairPriority computes the candidate pair priority per RFC 8445
// Section 6.1.2.3:
//
//	pair priority = 2^32*MIN(G,D) + 2*MAX(G,D) + (G>D?1:0)
//
// where G is the controlling agent's candidate priority and D is the
// controlled agent's. Ported from gortc/ice's pair.go.
func PairPriority(controlling, controlled int) int64 {
	g, d := int64(controlling), int64(controlled)
	v := (1<<32)*minInt64(g, d) + 2*maxInt64(g, d)
	if g > d {
		v++
	}
	return v
}

// PairState is the per-pair connectivity check state, RFC 8445
// Section 6.1.2.6.
type PairState byte

// Pair states, in the order §3 of the spec describes the machine.
const (
	PairFrozen PairState = iota
	PairWaiting
	PairInProgress
	PairSucceeded
	PairFailed
)

var pairStateNames = map[PairState]string{
	PairFrozen:     "frozen",
	PairWaiting:    "waiting",
	PairInProgress: "in-progress",
	PairSucceeded:  "succeeded",
	PairFailed:     "failed",
}

func (s PairState) String() string { return pairStateNames[s] }

// Pair wraps a local and a remote candidate into a unit subject to
// connectivity checking, RFC 8445 Section 6.1.2.
type Pair struct {
	ID       uint64 // stable id, used as the stable handle §9 of the distilled spec asks for instead of exposing list nodes
	Local    Candidate
	Remote   Candidate
	Priority int64
	State    PairState
	Nominated bool
	Valid     bool

	lastTxID        [12]byte
	retransmitCount int
	inFlight        bool
	scheduledAt     time.Time
}

// Foundation is the combination of the local and remote candidate
// foundations, used to group pairs for the freeze/unfreeze algorithm.
// Ported from gortc/ice's pair.go.
func (p Pair) Foundation() string {
	return p.Local.Foundation + "/" + p.Remote.Foundation
}

func (p Pair) String() string {
	return fmt.Sprintf("#%d %s<->%s prio=%d state=%s nominated=%t",
		p.ID, p.Local.Addr, p.Remote.Addr, p.Priority, p.State, p.Nominated)
}

// Pairs is a slice of Pair ordered by priority descending.
type Pairs []Pair

func (p Pairs) Len() int           { return len(p) }
func (p Pairs) Less(i, j int) bool { return p[i].Priority > p[j].Priority }
func (p Pairs) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }

// NewPairs pairs every local candidate with every remote candidate for
// the same component and address family. Populates only Local and
// Remote; priority and state are assigned by Stream.reformChecklist. Ported
// from gortc/ice's pair.go NewPairs.
func NewPairs(local, remote Candidates) Pairs {
	pairs := make(Pairs, 0, len(local)*len(remote))
	for i := range local {
		for j := range remote {
			if local[i].ComponentID != remote[j].ComponentID {
				continue
			}
			ipL, ipR := local[i].Addr.IP, remote[j].Addr.IP
			if !sameFamily(ipL, ipR) {
				continue
			}
			if ipL.To4() == nil && ipL.IsLinkLocalUnicast() && !ipR.IsLinkLocalUnicast() {
				// IPv6 link-local addresses MUST NOT be paired with
				// non-link-local addresses.
				continue
			}
			pairs = append(pairs, Pair{Local: local[i], Remote: remote[j]})
		}
	}
	return pairs
}
