package rearview

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	prefix, err := parseNet(s)
	require.NoError(t, err)
	return prefix
}

func TestNetsScopeStacking(t *testing.T) {
	nets := NewNets()
	nets.add(mustPrefix(t, "10.0.0.0/8"), &Scope{Prefix: 8, Mode: ModeLast, fqdn: "office"})
	nets.add(mustPrefix(t, "10.0.0.0/24"), &Scope{Prefix: 24, Mode: ModeAlways, fqdn: "lab"})
	nets.add(mustPrefix(t, "10.0.0.0/32"), &Scope{Prefix: 32, Mode: ModeFirst, fqdn: "gateway"})

	// The exact address picks the /32
	scope := nets.Find(netip.MustParseAddr("10.0.0.0"))
	require.NotNil(t, scope)
	require.Equal(t, 32, scope.Prefix)
	require.Equal(t, "gateway.", scope.FQDN())

	// A different address in the /24 picks the /24
	scope = nets.Find(netip.MustParseAddr("10.0.0.5"))
	require.NotNil(t, scope)
	require.Equal(t, 24, scope.Prefix)

	// An address outside the /24 but inside the /8 picks the /8
	scope = nets.Find(netip.MustParseAddr("10.0.5.5"))
	require.NotNil(t, scope)
	require.Equal(t, 8, scope.Prefix)

	// No match outside the /8
	require.Nil(t, nets.Find(netip.MustParseAddr("11.0.0.1")))
}

func TestNetsLastWriterWins(t *testing.T) {
	nets := NewNets()
	nets.add(mustPrefix(t, "10.0.0.0/24"), &Scope{Prefix: 24, Mode: ModeFirst, fqdn: "old"})
	nets.add(mustPrefix(t, "10.0.0.0/24"), &Scope{Prefix: 24, Mode: ModeLast, fqdn: "new"})

	scope := nets.Find(netip.MustParseAddr("10.0.0.7"))
	require.NotNil(t, scope)
	require.Equal(t, ModeLast, scope.Mode)
	require.Equal(t, "new.", scope.FQDN())
}

func TestNetsBareAddress(t *testing.T) {
	nets := NewNets()
	nets.add(mustPrefix(t, "192.168.1.1"), &Scope{Prefix: 32, Mode: ModeAlways, fqdn: "router"})

	require.NotNil(t, nets.Find(netip.MustParseAddr("192.168.1.1")))
	require.Nil(t, nets.Find(netip.MustParseAddr("192.168.1.2")))
}

func TestNetsUnmaskedNetwork(t *testing.T) {
	// The host bits of the declared network are ignored
	nets := NewNets()
	nets.add(mustPrefix(t, "10.1.2.3/8"), &Scope{Prefix: 8, Mode: ModeNever})

	require.NotNil(t, nets.Find(netip.MustParseAddr("10.200.0.1")))
}

func TestScopeFQDN(t *testing.T) {
	require.Equal(t, "", (&Scope{}).FQDN())
	require.Equal(t, ".", (&Scope{fqdn: "."}).FQDN())
	require.Equal(t, "host.example.com.", (&Scope{fqdn: "host.example.com"}).FQDN())
	require.Equal(t, "host.example.com.", (&Scope{fqdn: "host.example.com."}).FQDN())
}
