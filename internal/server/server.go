// Package server wires an ice.Agent to the concrete UDP collaborators
// in internal/iceio and the ambient concerns (auth, filtering,
// metrics, structured logging) a deployed agent needs, mirroring the
// teacher's own internal/server.Server lifecycle: New, Start, Close.
package server

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/gortc/iceagentd/ice"
	"github.com/gortc/iceagentd/internal/auth"
	"github.com/gortc/iceagentd/internal/filter"
	"github.com/gortc/iceagentd/internal/iceio"
	"github.com/gortc/iceagentd/internal/metrics"
)

// Options configures a Server. Mirrors the teacher's server.Options
// shape (Log, Conn, CollectRate, ManualStart), generalized to the
// fields an ice.Agent deployment needs.
type Options struct {
	Log *zap.Logger

	// ListenAddr is the local UDP address host candidates bind
	// relative to; empty selects an ephemeral port on every local
	// interface address.
	ListenAddr string
	ReusePort  bool

	StunServer     string
	StunServerPort int

	ControllingMode      bool
	FullMode             bool
	TimerTaMs            uint32
	NominationAggressive bool

	KeepaliveInterval time.Duration

	Workers int

	Auth    *auth.Static
	Metrics metrics.Metrics

	PeerRule   filter.Rule
	ClientRule filter.Rule

	// ManualStart skips starting the driver's command loop in New,
	// letting a caller (tests, mainly) call Start explicitly.
	ManualStart bool
}

// Server owns one ice.Agent and the iceio.Loop driving it, applying
// auth and filter checks in front of stream and candidate creation.
type Server struct {
	log *zap.Logger

	cfg *config

	loop    *iceio.Loop
	factory *iceio.UDPSocketFactory
	agent   *ice.Agent

	auth    *auth.Static
	metrics metrics.Metrics
}

// New builds a Server from o. The returned Server's driver is already
// running unless o.ManualStart is set.
func New(o Options) (*Server, error) {
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}
	a := o.Auth
	if a == nil {
		a = auth.NewStatic(nil)
	}
	m := o.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}

	loop := iceio.NewLoopWithWorkers(log, o.Workers)
	factory := &iceio.UDPSocketFactory{ReusePort: o.ReusePort}

	agent, err := ice.New(factory, loop, iceio.Rng{}, ice.Config{
		StunServer:           o.StunServer,
		StunServerPort:       o.StunServerPort,
		ControllingMode:      o.ControllingMode,
		FullMode:             o.FullMode,
		TimerTaMs:            o.TimerTaMs,
		NominationAggressive: o.NominationAggressive,
	})
	if err != nil {
		loop.Close()
		return nil, errors.Wrap(err, "server: construct agent")
	}

	s := &Server{
		log:     log,
		cfg:     newConfig(o),
		loop:    loop,
		factory: factory,
		agent:   agent,
		auth:    a,
		metrics: m,
	}
	agent.AttachEventLoop(s.observe)

	if o.ListenAddr != "" {
		if ip := parseListenIP(o.ListenAddr); ip != nil {
			agent.AddLocalAddress(ip)
		}
	}

	if !o.ManualStart {
		s.Start()
	}
	return s, nil
}

func parseListenIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(host)
}

func (s *Server) observe(e ice.Event) {
	s.metrics.Observe(e)
	s.log.Debug("ice event",
		zap.Int("kind", int(e.Kind)),
		zap.String("stream", string(e.StreamID)),
		zap.Int("component", e.ComponentID),
	)
}

// Start runs the driver's command loop (iceio.Loop.Run) in a background
// goroutine. A Server constructed without Options.ManualStart has
// already called this; callers that set ManualStart must call it once
// before calling AddStream or any other method that goes through
// s.loop.Go, since those block until the loop runs them.
func (s *Server) Start() {
	go s.loop.Run()
}

// Agent returns the underlying ice.Agent for read-only introspection
// (Controlling, LocalCandidates, GetLocalCredentials). Its
// state-mutating methods (RemoveStream, SetRemoteCredentials,
// SetRemoteCandidates, Send, Recv, and so on) must not be called
// directly off this goroutine: per SPEC_FULL.md §5's single-writer
// model, only the loop goroutine may touch Agent state, and calling
// them here would race with onTick. Use the marshalled wrappers below
// (or AddStream/AddRemoteCandidate) instead, which mirror those
// methods and route through s.loop.Go.
func (s *Server) Agent() *ice.Agent {
	return s.agent
}

// AddStream authorizes peerName within realm via the configured
// auth.Static allow-list before delegating to Agent().AddStream. This
// is the supplemented multi-tenant gate SPEC_FULL.md's auth section
// describes: ICE's own ufrag/password exchange remains unconditional
// once a stream exists.
func (s *Server) AddStream(realm, peerName string, nComponents int) (ice.StreamID, error) {
	if !s.auth.Authorize(realm, peerName) {
		return "", errors.Errorf("server: peer %q not authorized in realm %q", peerName, realm)
	}
	var (
		id  ice.StreamID
		err error
	)
	// AddStream mutates Agent state, which only the loop goroutine may
	// touch (see ice.Driver.Go's doc); Go marshals the call there and
	// blocks until it has run, so this still looks synchronous to the
	// caller.
	s.loop.Go(func() {
		id, err = s.agent.AddStream(nComponents)
	})
	return id, err
}

// AddRemoteCandidate applies the configured peer filtering rule to
// rc's address before delegating to Agent().AddRemoteCandidate.
func (s *Server) AddRemoteCandidate(id ice.StreamID, rc ice.RemoteCandidate) error {
	addr := ice.Addr{IP: rc.Addr, Port: rc.Port, Proto: ice.ProtoUDP}
	if s.cfg.PeerRule().Action(addr) == filter.Deny {
		return errors.Errorf("server: remote candidate %s denied by filter", addr)
	}
	var err error
	s.loop.Go(func() {
		err = s.agent.AddRemoteCandidate(id, rc)
	})
	return err
}

// RemoveStream tears down a stream and its components, marshalled
// onto the loop goroutine like AddStream.
func (s *Server) RemoveStream(id ice.StreamID) error {
	var err error
	s.loop.Go(func() {
		err = s.agent.RemoveStream(id)
	})
	return err
}

// SetRemoteCredentials installs the remote ufrag/password for id,
// marshalled onto the loop goroutine like AddStream.
func (s *Server) SetRemoteCredentials(id ice.StreamID, ufrag, pwd string) error {
	var err error
	s.loop.Go(func() {
		err = s.agent.SetRemoteCredentials(id, ufrag, pwd)
	})
	return err
}

// SetRemoteCandidates applies filtering to every candidate in list
// before delegating to Agent().SetRemoteCandidates, marshalled onto
// the loop goroutine like AddRemoteCandidate.
func (s *Server) SetRemoteCandidates(id ice.StreamID, componentID int, list []ice.RemoteCandidate) (int, error) {
	for _, rc := range list {
		addr := ice.Addr{IP: rc.Addr, Port: rc.Port, Proto: ice.ProtoUDP}
		if s.cfg.PeerRule().Action(addr) == filter.Deny {
			return 0, errors.Errorf("server: remote candidate %s denied by filter", addr)
		}
	}
	var (
		n   int
		err error
	)
	s.loop.Go(func() {
		n, err = s.agent.SetRemoteCandidates(id, componentID, list)
	})
	return n, err
}

// Send writes b on componentID's selected pair, marshalled onto the
// loop goroutine like AddStream.
func (s *Server) Send(id ice.StreamID, componentID int, b []byte) (int, error) {
	var (
		n   int
		err error
	)
	s.loop.Go(func() {
		n, err = s.agent.Send(id, componentID, b)
	})
	return n, err
}

// Recv copies the next buffered application datagram for componentID
// into buf, marshalled onto the loop goroutine like AddStream.
func (s *Server) Recv(id ice.StreamID, componentID int, buf []byte) int {
	var n int
	s.loop.Go(func() {
		n = s.agent.Recv(id, componentID, buf)
	})
	return n
}

// config exposes the Server's mutable config for tests.
func (s *Server) config() *config {
	return s.cfg
}

// SetOptions stores o's mutable fields (worker count, keepalive
// interval, filter rules) in the running Server's config. Of these only
// the peer rule changes behaviour: the dispatch pool keeps the size New
// gave it, and the agent keeps its built-in keepalive interval, since
// KeepaliveInterval is never passed to ice.Config. Immutable fields
// baked into ice.Config at New (StunServer, ControllingMode, and so
// on) are left untouched; changing those requires a new Server.
func (s *Server) SetOptions(o Options) {
	s.cfg.setOptions(o)
}

// Close tears down the driver and every stream it drove.
func (s *Server) Close() error {
	s.loop.Close()
	return nil
}
