package server

import (
	"sync"
	"time"

	"github.com/gortc/iceagentd/internal/filter"
)

// config is the mutable subset of Options a running Server keeps,
// protected by a lock so Updater.Set (reload.go) can swap it from
// another goroutine while connectivity checks are live. Only the peer
// rule is consulted by Server; workers, keepaliveInterval and the
// client rule are stored and returned by their getters, and nothing
// else reads them.
// Grounded on the teacher's internal/server/config.go lock-protected
// getter pattern; fields replaced with ICE-relevant ones.
type config struct {
	lock sync.RWMutex

	workers int

	keepaliveInterval time.Duration

	peerRule   filter.Rule
	clientRule filter.Rule
}

func newConfig(o Options) *config {
	c := &config{
		workers:           o.Workers,
		keepaliveInterval: o.KeepaliveInterval,
		peerRule:          filter.AllowAll,
		clientRule:        filter.AllowAll,
	}
	if o.PeerRule != nil {
		c.peerRule = o.PeerRule
	}
	if o.ClientRule != nil {
		c.clientRule = o.ClientRule
	}
	return c
}

func (c *config) Workers() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.workers
}

func (c *config) KeepaliveInterval() time.Duration {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.keepaliveInterval
}

// PeerRule returns the filtering rule Server.AddRemoteCandidate and
// Server.SetRemoteCandidates apply to signalled remote candidates before
// they are accepted. Peer-reflexive candidates are not filtered.
func (c *config) PeerRule() filter.Rule {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.peerRule
}

// ClientRule returns the configured client filtering rule. No code
// path consults it: inbound STUN Binding requests are not filtered.
func (c *config) ClientRule() filter.Rule {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.clientRule
}

func (c *config) setOptions(o Options) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.workers = o.Workers
	c.keepaliveInterval = o.KeepaliveInterval
	if o.PeerRule != nil {
		c.peerRule = o.PeerRule
	}
	if o.ClientRule != nil {
		c.clientRule = o.ClientRule
	}
}
