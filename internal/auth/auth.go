// Package auth gates which remote peers may establish an ICE stream
// against this agent, for deployments where one iceagentd instance is
// multiplexed behind a signalling server serving multiple tenants.
//
// ICE itself authenticates connectivity checks with the per-stream
// short-term ufrag/password pair the agent generates in AddStream and
// the peer supplies through SetRemoteCredentials (see ice.Stream and
// ice/conncheck.go); that exchange is unconditional. Static adds an
// optional layer in front of it: a realm-scoped allow-list the
// signalling layer consults before accepting a peer's offer at all.
package auth

import "sync"

// PeerCredential is one entry in a static allow-list: a realm (an
// operator-defined tenant or application label) and the peer
// identifier permitted within it.
type PeerCredential struct {
	Realm    string
	PeerName string
}

// Static is a read-mostly, concurrency-safe allow-list keyed by realm.
type Static struct {
	mux     sync.RWMutex
	allowed map[string]map[string]struct{}
}

// NewStatic builds a Static allow-list from credentials.
func NewStatic(credentials []PeerCredential) *Static {
	s := &Static{allowed: make(map[string]map[string]struct{})}
	for _, c := range credentials {
		peers, ok := s.allowed[c.Realm]
		if !ok {
			peers = make(map[string]struct{})
			s.allowed[c.Realm] = peers
		}
		peers[c.PeerName] = struct{}{}
	}
	return s
}

// Authorize reports whether peerName may open a stream within realm.
// An empty allow-list for a realm (no PeerCredential ever registered
// under it) authorizes everyone, so a deployment with no configured
// credentials behaves exactly like the teacher's unauthenticated
// default.
func (s *Static) Authorize(realm, peerName string) bool {
	s.mux.RLock()
	defer s.mux.RUnlock()
	peers, ok := s.allowed[realm]
	if !ok {
		return true
	}
	_, ok = peers[peerName]
	return ok
}

// Add registers an additional credential at runtime, e.g. from a
// config reload (internal/reload).
func (s *Static) Add(c PeerCredential) {
	s.mux.Lock()
	defer s.mux.Unlock()
	peers, ok := s.allowed[c.Realm]
	if !ok {
		peers = make(map[string]struct{})
		s.allowed[c.Realm] = peers
	}
	peers[c.PeerName] = struct{}{}
}

// Reset replaces the entire allow-list, used when reloading
// configuration wholesale rather than incrementally.
func (s *Static) Reset(credentials []PeerCredential) {
	replacement := NewStatic(credentials)
	s.mux.Lock()
	defer s.mux.Unlock()
	s.allowed = replacement.allowed
}
