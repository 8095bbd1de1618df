// Updater propagates reloaded Options to every subscribed Server,
// grounded on the teacher's internal/server/reload.go Updater.
package server

import (
	"sync"

	"go.uber.org/atomic"
)

// Updater holds the current Options and fans out Set calls to every
// subscribed Server, for SIGUSR2-triggered config reload
// (internal/reload). Uses go.uber.org/atomic rather than sync/atomic,
// matching the teacher's dependency stack, so Get never takes mux.
type Updater struct {
	v         atomic.Value
	mux       sync.RWMutex
	listeners []*Server
}

func (u *Updater) Get() Options {
	return u.v.Load().(Options)
}

func (u *Updater) Set(o Options) {
	u.v.Store(o)
	u.mux.RLock()
	for _, s := range u.listeners {
		s.SetOptions(o)
	}
	u.mux.RUnlock()
}

func (u *Updater) Subscribe(s *Server) {
	u.mux.Lock()
	u.listeners = append(u.listeners, s)
	u.mux.Unlock()
}

func NewUpdater(o Options) *Updater {
	u := &Updater{}
	u.v.Store(o)
	return u
}
