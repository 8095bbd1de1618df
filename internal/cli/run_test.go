package cli

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func TestParseFilteringRules(t *testing.T) {
	v := viper.New()
	v.Set("filter.key.rules", []map[string]string{
		{"net": "10.0.0.0/24", "action": "allow"},
		{"net": "20.0.0.0/24", "action": "deny"},
		{"net": "30.0.0.0/24", "action": "pass"},
	})
	v.Set("filter.key.action", "drop")
	rules, err := parseFilteringRules(v, zap.NewNop(), "key")
	if err != nil {
		t.Fatal(err)
	}
	if rules == nil {
		t.Fatal("expected non-nil rules")
	}
}

func TestParseStaticCredentials(t *testing.T) {
	v := viper.New()
	v.Set("auth.static", []map[string]string{
		{"peer": "alice"},
		{"peer": "bob", "realm": "tenant-b"},
	})
	creds := parseStaticCredentials(v, zap.NewNop(), "default")
	if len(creds) != 2 {
		t.Fatalf("got %d credentials, want 2", len(creds))
	}
	if creds[0].Realm != "default" || creds[0].PeerName != "alice" {
		t.Errorf("unexpected first credential: %+v", creds[0])
	}
	if creds[1].Realm != "tenant-b" || creds[1].PeerName != "bob" {
		t.Errorf("unexpected second credential: %+v", creds[1])
	}
}

func TestParseOptions_Defaults(t *testing.T) {
	v := viper.New()
	v.SetDefault("auth.public", true)
	reg := prometheus.NewPedanticRegistry()
	o, err := parseOptions(v, zap.NewNop(), reg)
	if err != nil {
		t.Fatal(err)
	}
	if o.PeerRule == nil || o.ClientRule == nil {
		t.Fatal("expected default-allow filtering rules")
	}
	if o.Auth != nil {
		t.Error("expected no auth gate when auth.public is set")
	}
}

func TestRunServer(t *testing.T) {
	v := viper.New()
	v.Set("auth.public", true)
	v.Set("api.addr", "127.0.0.1:0")
	v.Set(keyPrometheusActive, false)

	l := zap.NewNop()
	s, _, err := runServer(v, l)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			t.Error(closeErr)
		}
	}()
	if s.Agent() == nil {
		t.Fatal("expected a running agent")
	}
}
