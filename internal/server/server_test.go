package server

import (
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gortc/iceagentd/ice"
	"github.com/gortc/iceagentd/internal/auth"
	"github.com/gortc/iceagentd/internal/filter"
	"github.com/gortc/iceagentd/internal/testutil"
)

func newServer(t testing.TB, opts ...Options) (*Server, func()) {
	t.Helper()
	o := Options{}
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Log == nil {
		o.Log = zaptest.NewLogger(t)
	}
	if o.ListenAddr == "" {
		o.ListenAddr = "127.0.0.1:0"
	}
	s, err := New(o)
	if err != nil {
		t.Fatal(err)
	}
	return s, func() {
		if err := s.Close(); err != nil {
			t.Error(err)
		}
	}
}

func TestNew_DefaultsAndClose(t *testing.T) {
	s, stop := newServer(t)
	defer stop()
	if s.Agent() == nil {
		t.Fatal("expected a non-nil agent")
	}
}

func TestNew_NoErrorLogsOnCleanLifecycle(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s, err := New(Options{Log: zap.New(core), ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddStream("realm", "peer", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	testutil.EnsureNoErrors(t, logs)
}

func TestServer_AddStream_AuthDefaultOpen(t *testing.T) {
	s, stop := newServer(t)
	defer stop()
	if _, err := s.AddStream("realm", "anyone", 1); err != nil {
		t.Fatalf("expected an unconfigured realm to authorize anyone: %v", err)
	}
}

func TestServer_AddStream_AuthDenied(t *testing.T) {
	s, stop := newServer(t, Options{
		Auth: auth.NewStatic([]auth.PeerCredential{
			{Realm: "tenant-a", PeerName: "alice"},
		}),
	})
	defer stop()
	if _, err := s.AddStream("tenant-a", "mallory", 1); err == nil {
		t.Fatal("expected mallory to be rejected in tenant-a")
	}
	if _, err := s.AddStream("tenant-a", "alice", 1); err != nil {
		t.Fatalf("expected alice to be authorized: %v", err)
	}
}

func TestServer_AddRemoteCandidate_FilterDenied(t *testing.T) {
	deny, err := filter.ForbidNet("192.168.0.0/24")
	if err != nil {
		t.Fatal(err)
	}
	s, stop := newServer(t, Options{
		PeerRule: filter.NewFilter(filter.Allow, deny),
	})
	defer stop()

	id, err := s.AddStream("realm", "peer", 1)
	if err != nil {
		t.Fatal(err)
	}
	err = s.AddRemoteCandidate(id, ice.RemoteCandidate{
		ComponentID: 1,
		Addr:        net.IPv4(192, 168, 0, 5),
		Port:        4000,
		Type:        ice.Host,
		Priority:    1,
	})
	if err == nil {
		t.Fatal("expected remote candidate from forbidden subnet to be denied")
	}
}

func TestServer_SetOptions(t *testing.T) {
	s, stop := newServer(t, Options{Workers: 1})
	defer stop()
	s.SetOptions(Options{Workers: 8, KeepaliveInterval: 15 * time.Second})
	if got := s.config().Workers(); got != 8 {
		t.Errorf("Workers = %d, want 8", got)
	}
	if got := s.config().KeepaliveInterval(); got != 15*time.Second {
		t.Errorf("KeepaliveInterval = %s, want 15s", got)
	}
}
