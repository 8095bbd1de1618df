package auth

import "testing"

func TestStaticAuthorizeConfiguredRealm(t *testing.T) {
	s := NewStatic([]PeerCredential{
		{Realm: "tenant-a", PeerName: "alice"},
		{Realm: "tenant-a", PeerName: "bob"},
	})
	if !s.Authorize("tenant-a", "alice") {
		t.Fatal("expected alice to be authorized in tenant-a")
	}
	if s.Authorize("tenant-a", "mallory") {
		t.Fatal("expected mallory to be rejected in tenant-a")
	}
}

func TestStaticAuthorizeUnconfiguredRealmDefaultsOpen(t *testing.T) {
	s := NewStatic([]PeerCredential{
		{Realm: "tenant-a", PeerName: "alice"},
	})
	if !s.Authorize("tenant-b", "anyone") {
		t.Fatal("expected an unconfigured realm to authorize everyone")
	}
}

func TestStaticAuthorizeEmptyAllowListDefaultsOpen(t *testing.T) {
	s := NewStatic(nil)
	if !s.Authorize("any-realm", "anyone") {
		t.Fatal("expected an empty allow-list to authorize everyone")
	}
}

func TestStaticAddRuntime(t *testing.T) {
	s := NewStatic(nil)
	s.Add(PeerCredential{Realm: "tenant-a", PeerName: "alice"})
	if !s.Authorize("tenant-a", "alice") {
		t.Fatal("expected alice to be authorized after Add")
	}
	if s.Authorize("tenant-a", "mallory") {
		t.Fatal("expected mallory to remain rejected after Add")
	}
}

func TestStaticReset(t *testing.T) {
	s := NewStatic([]PeerCredential{{Realm: "tenant-a", PeerName: "alice"}})
	s.Reset([]PeerCredential{{Realm: "tenant-a", PeerName: "bob"}})
	if s.Authorize("tenant-a", "alice") {
		t.Fatal("expected alice to be removed after Reset")
	}
	if !s.Authorize("tenant-a", "bob") {
		t.Fatal("expected bob to be authorized after Reset")
	}
}
