package rearview

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"sort"
	"strings"
)

// Mode determines how the powers of a scope combine with the regular
// upstream PTR lookup.
type Mode string

const (
	// Powers are applied before the upstream lookup is attempted.
	ModeFirst Mode = "first"
	// Powers are applied after the upstream lookup failed.
	ModeLast Mode = "last"
	// Powers are always applied, the upstream is never contacted.
	ModeAlways Mode = "always"
	// Powers are never applied, only the upstream lookup is performed.
	ModeNever Mode = "never"
)

// Scope is a single rewriting rule: the prefix length it was declared
// with, the mode, an optional fallback FQDN and the ordered list of
// powers to apply.
type Scope struct {
	Prefix int
	Mode   Mode
	Powers []Power

	fqdn string
}

// FQDN returns the fallback name of the scope, normalized to end with a
// dot. Returns "" when no fallback is configured; a configured "." is
// preserved as-is.
func (s *Scope) FQDN() string {
	if s.fqdn == "" || strings.HasSuffix(s.fqdn, ".") {
		return s.fqdn
	}
	return s.fqdn + "."
}

func (s *Scope) String() string {
	fqdn := s.fqdn
	if fqdn == "" {
		fqdn = "--"
	}
	return fmt.Sprintf("%d / %s / %s", s.Prefix, s.Mode, fqdn)
}

// node holds every scope rooted at one network address, most specific
// first.
type node struct {
	address uint32
	scopes  []*Scope
}

// addScope attaches a scope to the node. A scope with the same prefix
// length replaces the previous one.
func (n *node) addScope(s *Scope) {
	for i, existing := range n.scopes {
		if existing.Prefix == s.Prefix {
			n.scopes[i] = s
			return
		}
	}
	n.scopes = append(n.scopes, s)
	sort.SliceStable(n.scopes, func(i, j int) bool { return n.scopes[i].Prefix > n.scopes[j].Prefix })
}

// getScope returns the most specific scope that still covers a network
// with the given prefix length, or nil.
func (n *node) getScope(bits int) *Scope {
	for _, s := range n.scopes {
		if s.Prefix <= bits {
			return s
		}
	}
	return nil
}

func (n *node) String() string {
	scopes := make([]string, 0, len(n.scopes))
	for _, s := range n.scopes {
		scopes = append(scopes, s.String())
	}
	return strings.Join(scopes, "\n")
}

// Nets is the database of rewriting rules for an entire address space.
// It holds subnets as well as individual addresses (/32) and supports
// multiple nested scopes rooted at the same network address.
type Nets struct {
	nodes map[uint32]*node
}

// NewNets returns an empty scope database.
func NewNets() *Nets {
	return &Nets{nodes: make(map[uint32]*node)}
}

// add attaches a scope for the given network. Later additions replace
// earlier scopes at the same (address, prefix) slot.
func (n *Nets) add(prefix netip.Prefix, s *Scope) {
	address := addrInt(prefix.Masked().Addr())
	nd, ok := n.nodes[address]
	if !ok {
		nd = &node{address: address}
		n.nodes[address] = nd
	}
	nd.addScope(s)
}

// Find returns the effective scope for an address: the scope with the
// longest prefix whose network contains the address. A /32 rooted at
// the same address as a wider scope wins only for that exact address.
// Returns nil if no scope applies.
func (n *Nets) Find(addr netip.Addr) *Scope {
	if !addr.Is4() {
		return nil
	}
	a := addrInt(addr)
	for i := 0; i < 32; i++ {
		candidate := a &^ (1<<i - 1)
		nd, ok := n.nodes[candidate]
		if !ok {
			continue
		}
		if s := nd.getScope(32 - i); s != nil {
			return s
		}
	}
	return nil
}

// String dumps the compiled database, useful when troubleshooting a
// configuration interactively.
func (n *Nets) String() string {
	addresses := make([]uint32, 0, len(n.nodes))
	for address := range n.nodes {
		addresses = append(addresses, address)
	}
	sort.Slice(addresses, func(i, j int) bool { return addresses[i] < addresses[j] })
	var b strings.Builder
	for _, address := range addresses {
		fmt.Fprintf(&b, "Subnet %s:\n%s\n", intAddr(address), n.nodes[address])
	}
	return b.String()
}

func addrInt(addr netip.Addr) uint32 {
	o := addr.As4()
	return binary.BigEndian.Uint32(o[:])
}

func intAddr(address uint32) netip.Addr {
	var o [4]byte
	binary.BigEndian.PutUint32(o[:], address)
	return netip.AddrFrom4(o)
}
