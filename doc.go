/*
Package rearview implements a DNS forwarder that rewrites reverse-lookup
(PTR) answers from local data sources. Incoming queries are matched
against a database of address scopes; each scope carries a list of
"powers" - backends that map an address to a name - and a mode that
determines how the powers combine with the regular upstream lookup.
Everything the forwarder does not rewrite, including all non-PTR
traffic, is relayed to a recursive resolver over TCP, optionally
wrapped in TLS.

The intended use is as the only nameserver a workstation sees, so tools
that perform reverse lookups by default (netstat, route, iptables, ...)
get fast, meaningful names for local and recently-contacted addresses.

	config, err := rearview.LoadConfig("superpowers.yaml")
	if err != nil {
		panic(err)
	}
	nets, err := config.Build()
	if err != nil {
		panic(err)
	}
	upstream := rearview.NewTCPClient("192.168.1.1", rearview.TCPClientOptions{})
	l := rearview.NewUDPListener("127.0.0.1:53", rearview.NewPipeline(nets, upstream))
	panic(l.Start())
*/
package rearview
