package rearview

import (
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Power backed only by its local association cache, no Redis behind it.
func testShoDoHFloPower() *ShoDoHFloPower {
	return &ShoDoHFloPower{
		assocs: newAssociations(shodohfloMaxAssocs),
		ttl:    time.Minute,
		ready:  closedReady,
	}
}

func (p *ShoDoHFloPower) define(target string, fqdns ...string) {
	p.assocs.add(target, fqdns, p.ttl)
}

func TestShoDoHFloNotFound(t *testing.T) {
	p := testShoDoHFloPower()
	require.Equal(t, "", p.Query(netip.MustParseAddr("1.2.3.4")))
}

func TestShoDoHFloOnlyOne(t *testing.T) {
	p := testShoDoHFloPower()
	p.define("1.2.3.4", "example.com")
	require.Equal(t, "example.com", p.Query(netip.MustParseAddr("1.2.3.4")))
}

func TestShoDoHFloOnlyOneChain(t *testing.T) {
	p := testShoDoHFloPower()
	p.define("1.2.3.4", "x.example.com")
	p.define("x.example.com", "example.com")
	require.Equal(t, "example.com", p.Query(netip.MustParseAddr("1.2.3.4")))
}

func TestShoDoHFloLongestChain(t *testing.T) {
	p := testShoDoHFloPower()
	p.define("1.2.3.4", "x.example.com", "y.example.com")
	p.define("x.example.com", "example.com")
	require.Equal(t, "example.com", p.Query(netip.MustParseAddr("1.2.3.4")))
}

func TestShoDoHFloDifferentDomain(t *testing.T) {
	// A CNAME crossing into a different domain wins over one staying
	// inside it
	p := testShoDoHFloPower()
	p.define("1.2.3.4", "x.example.com")
	p.define("x.example.com", "example.com", "another-example.com")
	require.Equal(t, "another-example.com", p.Query(netip.MustParseAddr("1.2.3.4")))
}

func TestShoDoHFloLeastLabels(t *testing.T) {
	p := testShoDoHFloPower()
	p.define("1.2.3.4", "x.example.com", "example.com", "y.example.com")
	require.Equal(t, "example.com", p.Query(netip.MustParseAddr("1.2.3.4")))
}

func TestShoDoHFloLoopDetection(t *testing.T) {
	p := testShoDoHFloPower()
	p.define("1.2.3.4", "example.com")
	p.define("example.com", "foo.example.com")
	p.define("foo.example.com", "example.com")
	require.Equal(t, "foo.example.com", p.Query(netip.MustParseAddr("1.2.3.4")))
}

func TestShoDoHFloChainDepthBound(t *testing.T) {
	// A chain longer than the cutoff still resolves instead of
	// recursing without bound
	p := testShoDoHFloPower()
	p.define("1.2.3.4", hostN(0))
	for i := 0; i < 100; i++ {
		p.define(hostN(i), hostN(i+1))
	}
	result := p.Query(netip.MustParseAddr("1.2.3.4"))
	require.NotEqual(t, "", result)
}

func hostN(i int) string {
	return fmt.Sprintf("h%03d.example.com", i)
}

func TestShoDoHFloIngest(t *testing.T) {
	p := testShoDoHFloPower()
	p.ingest(dnsArtifact{target: "1.2.3.4", onames: []string{"WWW.Example.COM."}})
	require.Equal(t, "www.example.com", p.Query(netip.MustParseAddr("1.2.3.4")))
}

func TestMatchLen(t *testing.T) {
	require.Equal(t, 2, matchLen([]string{"x.example.com", "example.com"}))
	require.Equal(t, 1, matchLen([]string{"x.example.com", "another-example.com"}))
	require.Equal(t, 0, matchLen([]string{"1.2.3.4", "example.com"}))
	require.Equal(t, 3, matchLen([]string{"a.x.example.com", "b.x.example.com"}))
}

func TestBestChainEmpty(t *testing.T) {
	require.Equal(t, "", bestChain(nil))
}
