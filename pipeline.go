package rearview

import (
	"context"
	"net"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// Pipeline applies the PTR rewriting rules to one request at a time.
// Whatever it does not rewrite is relayed to the upstream resolver,
// and the caller always gets a response datagram back unless the
// request itself was unparseable.
type Pipeline struct {
	nets     *Nets
	upstream Upstream
	metrics  *pipelineMetrics
}

// NewPipeline combines a scope database with an upstream resolver.
func NewPipeline(nets *Nets, upstream Upstream) *Pipeline {
	return &Pipeline{
		nets:     nets,
		upstream: upstream,
		metrics:  newPipelineMetrics(),
	}
}

// Handle processes one request datagram and returns the response
// datagram. A nil return means the request could not be parsed and is
// dropped.
func (p *Pipeline) Handle(ctx context.Context, request []byte, client net.IP) []byte {
	p.metrics.query.Add(1)

	q := new(dns.Msg)
	if err := q.Unpack(request); err != nil {
		p.metrics.malformed.Add(1)
		Log.WithError(err).WithField("client", client).Warn("dropping malformed request")
		return nil
	}
	log := Log.WithFields(logrus.Fields{
		"client": client,
		"qname":  qName(q),
		"qtype":  qType(q),
	})

	// Only PTR queries for IPv4 reverse names are tractable to
	// rewriting, everything else is relayed unchanged.
	if len(q.Question) == 0 || q.Question[0].Qtype != dns.TypePTR {
		return p.relay(ctx, q, request, log)
	}
	addr, err := ptrAddr(qName(q))
	if err != nil {
		return p.relay(ctx, q, request, log)
	}

	scope := p.nets.Find(addr)
	var mode Mode
	if scope != nil {
		mode = scope.Mode
		log = log.WithField("scope", scope.String())
	}
	hasPowers := scope != nil && len(scope.Powers) > 0

	// first/always run the powers before any upstream contact. The
	// first hit stops further processing.
	if hasPowers && (mode == ModeFirst || mode == ModeAlways) {
		if fqdn := p.execPowers(ctx, scope, addr, log); fqdn != "" {
			return p.pack(ptrResponse(q, fqdn), log)
		}
	}

	// always means "never upstream", not "always rewrites".
	if scope == nil || mode != ModeAlways {
		response, rc, err := p.forward(ctx, request)
		if err != nil {
			log.WithError(err).Error("upstream query failed")
		} else if rc == dns.RcodeSuccess || scope == nil || mode == ModeNever {
			return response
		}
		// last runs the powers only now that the upstream came back
		// empty-handed.
		if hasPowers && mode == ModeLast {
			if fqdn := p.execPowers(ctx, scope, addr, log); fqdn != "" {
				return p.pack(ptrResponse(q, fqdn), log)
			}
		}
	}

	// The scope can pin a fallback name, even without any powers.
	if scope != nil && strings.Trim(scope.FQDN(), ".") != "" {
		return p.pack(ptrResponse(q, scope.FQDN()), log)
	}

	return p.pack(nxdomain(q), log)
}

// relay forwards the raw request and hands the upstream response back
// unchanged, whatever its response code. A transport failure turns
// into SERVFAIL.
func (p *Pipeline) relay(ctx context.Context, q *dns.Msg, request []byte, log *logrus.Entry) []byte {
	response, _, err := p.forward(ctx, request)
	if err != nil {
		log.WithError(err).Error("upstream query failed")
		return p.pack(servfail(q), log)
	}
	return response
}

// forward relays the raw request upstream and decodes the response
// code. An unparseable response counts as an upstream failure.
func (p *Pipeline) forward(ctx context.Context, request []byte) ([]byte, int, error) {
	response, err := p.upstream.Forward(ctx, request)
	if err != nil {
		p.metrics.upstreamErr.Add(1)
		return nil, 0, err
	}
	rc, err := rcode(response)
	if err != nil {
		p.metrics.upstreamErr.Add(1)
		return nil, 0, err
	}
	return response, rc, nil
}

// execPowers waits for any powers still initializing, then runs them in
// order and returns the first hit, dot-terminated. Misses and failures
// move on to the next power.
func (p *Pipeline) execPowers(ctx context.Context, scope *Scope, addr netip.Addr, log *logrus.Entry) string {
	if err := awaitReady(ctx, scope.Powers); err != nil {
		log.WithError(err).Error("powers did not initialize in time")
		return ""
	}
	for _, power := range scope.Powers {
		fqdn := p.queryPower(power, addr, log)
		if fqdn == "" {
			continue
		}
		p.metrics.hit.Add(power.String(), 1)
		if !strings.HasSuffix(fqdn, ".") {
			fqdn += "."
		}
		log.WithFields(logrus.Fields{"power": power.String(), "fqdn": fqdn}).Debug("rewriting ptr answer")
		return fqdn
	}
	return ""
}

// queryPower runs a single power, folding a panic into a miss so one
// broken backend can't take down the listener.
func (p *Pipeline) queryPower(power Power, addr netip.Addr, log *logrus.Entry) (fqdn string) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("power", power.String()).Errorf("power failed: %v", r)
			fqdn = ""
		}
	}()
	return power.Query(addr)
}

// pack serializes a synthesized response.
func (p *Pipeline) pack(a *dns.Msg, log *logrus.Entry) []byte {
	buf, err := a.Pack()
	if err != nil {
		log.WithError(err).Error("failed to pack response")
		return nil
	}
	p.metrics.response.Add(rCode(a), 1)
	return buf
}
