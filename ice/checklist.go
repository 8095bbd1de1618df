package ice

import "sort"

// maxPairsPerStream bounds the number of pairs retained on a stream's
// check list once sorted, per SPEC_FULL.md §4.3 rule 6 ("truncate to
// an implementation-defined ceiling (>=100 pairs per stream)").
const maxPairsPerStream = 100

// reformChecklist recomputes the cross product of local and remote
// candidates for a single component, merges it into the stream's
// existing check list (preserving the state of pairs that already
// exist), prunes redundant pairs, assigns priorities for the current
// controlling role, freezes by foundation, and truncates to the
// ceiling. Grounded in gortc/ice's checklist.go ComputePriorities /
// Prune / Order, restructured around an incremental merge because
// SPEC_FULL.md §4.3 requires reformation to happen "on any event that
// changes the cross-product" rather than once up front.
func (s *Stream) reformChecklist(componentID int, controlling bool) {
	comp, ok := s.Component(componentID)
	if !ok {
		return
	}

	fresh := NewPairs(comp.LocalCandidates, comp.RemoteCandidates)

	existing := make(map[pairKey]int, len(s.checkList))
	for i, p := range s.checkList {
		existing[keyOf(p)] = i
	}

	for _, p := range fresh {
		k := keyOf(p)
		if _, found := existing[k]; found {
			continue
		}
		p.ID = s.allocPairID()
		p.Priority = pairPriorityFor(p, controlling)
		p.State = PairFrozen
		s.checkList = append(s.checkList, p)
		existing[k] = len(s.checkList) - 1
	}

	s.checkList = pruneRedundant(s.checkList)
	s.recomputePriorities(controlling)
	sort.Sort(s.checkList)
	s.freezeByFoundation()
	if len(s.checkList) > maxPairsPerStream {
		s.checkList = s.checkList[:maxPairsPerStream]
	}
}

type pairKey struct {
	local  string
	base   string
	remote string
}

func keyOf(p Pair) pairKey {
	return pairKey{local: p.Local.Addr.String(), base: p.Local.Base.String(), remote: p.Remote.Addr.String()}
}

// pruneRedundant removes pairs that share the same remote candidate
// and the same local base, keeping only the higher-priority survivor,
// per SPEC_FULL.md §4.3 rule 3. Ported from gortc/ice's checklist.go.
func pruneRedundant(pairs Pairs) Pairs {
	type baseKey struct {
		base   string
		remote string
	}
	best := make(map[baseKey]int, len(pairs))
	order := make([]baseKey, 0, len(pairs))
	for _, p := range pairs {
		k := baseKey{base: p.Local.Base.String(), remote: p.Remote.Addr.String()}
		if idx, ok := best[k]; ok {
			if p.Priority > pairs[idx].Priority {
				best[k] = indexOfPair(pairs, p)
			}
			continue
		}
		order = append(order, k)
		best[k] = indexOfPair(pairs, p)
	}
	out := make(Pairs, 0, len(order))
	seen := map[int]bool{}
	for _, k := range order {
		idx := best[k]
		if seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, pairs[idx])
	}
	return out
}

func indexOfPair(pairs Pairs, p Pair) int {
	for i := range pairs {
		if keyOf(pairs[i]) == keyOf(p) {
			return i
		}
	}
	return -1
}

func pairPriorityFor(p Pair, controlling bool) int64 {
	if controlling {
		return PairPriority(p.Local.Priority, p.Remote.Priority)
	}
	return PairPriority(p.Remote.Priority, p.Local.Priority)
}

// recomputePriorities re-derives every pair's priority for the current
// controlling role. Needed after a role conflict flips the agent's
// role (SPEC_FULL.md §4.1), since RFC 8445's G/D assignment depends on
// it.
func (s *Stream) recomputePriorities(controlling bool) {
	for i := range s.checkList {
		s.checkList[i].Priority = pairPriorityFor(s.checkList[i], controlling)
	}
}

// freezeByFoundation assigns initial pair states per SPEC_FULL.md §4.3
// rule 5: for each distinct foundation, exactly one pair (the
// highest-priority, since the list is already sorted descending) enters
// WAITING; the rest of that foundation's pairs, and any pair whose
// foundation already has a non-frozen entry elsewhere, stay FROZEN.
// Only touches pairs still in PairFrozen so it never disturbs pairs
// already WAITING/IN_PROGRESS/SUCCEEDED/FAILED.
func (s *Stream) freezeByFoundation() {
	seen := make(map[string]bool)
	for _, p := range s.checkList {
		if p.State != PairFrozen {
			seen[p.Foundation()] = true
		}
	}
	for i := range s.checkList {
		p := &s.checkList[i]
		if p.State != PairFrozen {
			continue
		}
		if seen[p.Foundation()] {
			continue
		}
		p.State = PairWaiting
		seen[p.Foundation()] = true
	}
}

// unfreezeFoundation moves every FROZEN pair sharing foundation to
// WAITING. Called when a pair on that foundation succeeds, per
// SPEC_FULL.md §4.3's response-handling rule.
func (s *Stream) unfreezeFoundation(foundation string) {
	for i := range s.checkList {
		p := &s.checkList[i]
		if p.Foundation() == foundation && p.State == PairFrozen {
			p.State = PairWaiting
		}
	}
}

// pairByID finds a pair by its stable id.
func (s *Stream) pairByID(id uint64) (*Pair, bool) {
	for i := range s.checkList {
		if s.checkList[i].ID == id {
			return &s.checkList[i], true
		}
	}
	return nil, false
}

// nextWaiting returns a pointer to the highest-priority WAITING pair
// in the check list, or nil if none.
func (s *Stream) nextWaiting() *Pair {
	for i := range s.checkList {
		if s.checkList[i].State == PairWaiting {
			return &s.checkList[i]
		}
	}
	return nil
}

// removeComponentPairs drops every pair referencing componentID, used
// when a component's candidate set is replaced wholesale.
func (s *Stream) removeComponentPairs(componentID int) {
	out := s.checkList[:0]
	for _, p := range s.checkList {
		if p.Local.ComponentID == componentID {
			continue
		}
		out = append(out, p)
	}
	s.checkList = out
}
