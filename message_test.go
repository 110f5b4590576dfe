package rearview

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestPtrAddr(t *testing.T) {
	addr, err := ptrAddr("4.3.2.1.in-addr.arpa.")
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("1.2.3.4"), addr)

	// Case and the final dot don't matter
	addr, err = ptrAddr("4.3.2.1.IN-ADDR.ARPA")
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("1.2.3.4"), addr)

	for _, invalid := range []string{
		"example.com.",
		"4.3.2.1.ip6.arpa.",
		"3.2.1.in-addr.arpa.",
		"5.4.3.2.1.in-addr.arpa.",
		"4.3.2.256.in-addr.arpa.",
		"4.3.2.x.in-addr.arpa.",
		"in-addr.arpa.",
	} {
		_, err := ptrAddr(invalid)
		require.Error(t, err, invalid)
	}
}

func TestArpaNameRoundTrip(t *testing.T) {
	for _, name := range []string{
		"4.3.2.1.in-addr.arpa.",
		"0.0.0.10.in-addr.arpa.",
		"255.255.255.255.in-addr.arpa.",
	} {
		addr, err := ptrAddr(name)
		require.NoError(t, err)
		require.Equal(t, name, arpaName(addr))
	}
}

func TestPtrResponse(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("4.3.2.1.in-addr.arpa.", dns.TypePTR)

	a := ptrResponse(q, "host.example.com")
	require.Equal(t, q.Id, a.Id)
	require.True(t, a.Response)
	require.True(t, a.RecursionAvailable)
	require.Equal(t, q.Question, a.Question)
	require.Len(t, a.Answer, 1)

	ptr := a.Answer[0].(*dns.PTR)
	require.Equal(t, "host.example.com.", ptr.Ptr)
	require.Equal(t, uint32(60), ptr.Hdr.Ttl)
	require.Equal(t, uint16(dns.ClassINET), ptr.Hdr.Class)

	// An already dot-terminated name isn't touched
	a = ptrResponse(q, "host.example.com.")
	require.Equal(t, "host.example.com.", a.Answer[0].(*dns.PTR).Ptr)
	require.False(t, strings.HasSuffix(a.Answer[0].(*dns.PTR).Ptr, ".."))
}

func TestRcode(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("4.3.2.1.in-addr.arpa.", dns.TypePTR)

	b, err := nxdomain(q).Pack()
	require.NoError(t, err)
	rc, err := rcode(b)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeNameError, rc)

	b, err = servfail(q).Pack()
	require.NoError(t, err)
	rc, err = rcode(b)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeServerFailure, rc)

	_, err = rcode([]byte{0, 1, 2})
	require.Error(t, err)
}
