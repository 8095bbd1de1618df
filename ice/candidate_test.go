package ice

import (
	"net"
	"testing"
)

func TestPriority(t *testing.T) {
	for _, tc := range []struct {
		name                string
		typePref, localPref int
		componentID         int
		want                int
	}{
		{"host component 1", 126, 65535, 1, (126<<24 + 65535<<8 + 255)},
		{"relayed component 2", 0, 0, 2, 254},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := Priority(tc.typePref, tc.localPref, tc.componentID)
			if got != tc.want {
				t.Fatalf("Priority(%d, %d, %d) = %d, want %d", tc.typePref, tc.localPref, tc.componentID, got, tc.want)
			}
		})
	}
}

func TestTypePreferenceOrdering(t *testing.T) {
	if TypePreference(Host) <= TypePreference(PeerReflexive) {
		t.Fatal("host must outrank peer-reflexive")
	}
	if TypePreference(PeerReflexive) <= TypePreference(ServerReflexive) {
		t.Fatal("peer-reflexive must outrank server-reflexive")
	}
	if TypePreference(ServerReflexive) <= TypePreference(Relayed) {
		t.Fatal("server-reflexive must outrank relayed")
	}
}

func TestFoundationStableAndDistinct(t *testing.T) {
	base := Addr{IP: net.ParseIP("192.0.2.1"), Port: 1, Proto: ProtoUDP}
	other := Addr{IP: net.ParseIP("192.0.2.2"), Port: 1, Proto: ProtoUDP}

	a := Foundation(Host, base, Addr{})
	b := Foundation(Host, base, Addr{})
	if a != b {
		t.Fatal("Foundation must be deterministic for identical inputs")
	}
	if Foundation(Host, other, Addr{}) == a {
		t.Fatal("different base addresses must yield different foundations")
	}
	if Foundation(ServerReflexive, base, Addr{}) == a {
		t.Fatal("different candidate types must yield different foundations")
	}
}

func TestCandidateEqual(t *testing.T) {
	addr := Addr{IP: net.ParseIP("192.0.2.1"), Port: 10, Proto: ProtoUDP}
	c1 := Candidate{Type: Host, Addr: addr, Base: addr}
	c2 := Candidate{Type: Host, Addr: addr, Base: addr}
	if !c1.Equal(c2) {
		t.Fatal("identical candidates must compare equal")
	}
	c3 := c2
	c3.Addr.Port = 11
	if c1.Equal(c3) {
		t.Fatal("candidates with different addr must not compare equal")
	}
}
