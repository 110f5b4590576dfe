package rearview

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// TTL of synthesized PTR answers. Short on purpose, the data behind
// them changes as the association caches refresh.
const answerTTL = 60

const arpaSuffix = ".in-addr.arpa"

// Return the query name from a DNS query.
func qName(q *dns.Msg) string {
	if len(q.Question) == 0 {
		return ""
	}
	return q.Question[0].Name
}

// Return the query type of a DNS query as string, "" if there is no question.
func qType(q *dns.Msg) string {
	if len(q.Question) == 0 {
		return ""
	}
	return dns.Type(q.Question[0].Qtype).String()
}

// Return the response code of a message as string.
func rCode(m *dns.Msg) string {
	rc, ok := dns.RcodeToString[m.Rcode]
	if !ok {
		return strconv.Itoa(m.Rcode)
	}
	return rc
}

// rcode extracts the response code from a raw DNS message.
func rcode(b []byte) (int, error) {
	m := new(dns.Msg)
	if err := m.Unpack(b); err != nil {
		return 0, err
	}
	return m.Rcode, nil
}

// ptrAddr decodes the IPv4 address encoded in a reverse-lookup name,
// "4.3.2.1.in-addr.arpa." -> 1.2.3.4.
func ptrAddr(qname string) (netip.Addr, error) {
	name := strings.TrimSuffix(strings.ToLower(qname), ".")
	if !strings.HasSuffix(name, arpaSuffix) {
		return netip.Addr{}, fmt.Errorf("not a reverse name: %s", qname)
	}
	labels := strings.Split(strings.TrimSuffix(name, arpaSuffix), ".")
	if len(labels) != 4 {
		return netip.Addr{}, fmt.Errorf("not an IPv4 reverse name: %s", qname)
	}
	var octets [4]byte
	for i, label := range labels {
		n, err := strconv.Atoi(label)
		if err != nil || n < 0 || n > 255 {
			return netip.Addr{}, fmt.Errorf("invalid octet %q in reverse name %s", label, qname)
		}
		octets[3-i] = byte(n)
	}
	return netip.AddrFrom4(octets), nil
}

// arpaName encodes an IPv4 address as a reverse-lookup name,
// 1.2.3.4 -> "4.3.2.1.in-addr.arpa.".
func arpaName(addr netip.Addr) string {
	o := addr.As4()
	return fmt.Sprintf("%d.%d.%d.%d%s.", o[3], o[2], o[1], o[0], arpaSuffix)
}

// ptrResponse builds a response to q carrying a single synthesized PTR
// record. The fqdn is normalized to end with a dot.
func ptrResponse(q *dns.Msg, fqdn string) *dns.Msg {
	if !strings.HasSuffix(fqdn, ".") {
		fqdn += "."
	}
	a := new(dns.Msg)
	a.SetReply(q)
	a.RecursionAvailable = true
	a.Answer = []dns.RR{
		&dns.PTR{
			Hdr: dns.RR_Header{
				Name:   q.Question[0].Name,
				Rrtype: dns.TypePTR,
				Class:  dns.ClassINET,
				Ttl:    answerTTL,
			},
			Ptr: fqdn,
		},
	}
	return a
}

// Returns a NXDOMAIN answer for a query.
func nxdomain(q *dns.Msg) *dns.Msg {
	a := new(dns.Msg)
	a.SetRcode(q, dns.RcodeNameError)
	a.RecursionAvailable = true
	return a
}

// Returns a SERVFAIL answer for a query.
func servfail(q *dns.Msg) *dns.Msg {
	a := new(dns.Msg)
	a.SetRcode(q, dns.RcodeServerFailure)
	a.RecursionAvailable = true
	return a
}
