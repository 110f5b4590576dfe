package rearview

import (
	"context"
	"net/netip"
	"strings"
	"time"
)

const (
	shodohfloTTL       = 7200 * time.Second
	shodohfloMaxAssocs = 5000

	// Minimum spacing between refresh cycles, and the delay between
	// clients within a cycle during steady state.
	cycleDelay  = 10 * time.Second
	clientDelay = time.Second
)

// ShoDoHFloPower rewrites PTR queries from the name/address
// associations collected by ShoDoHFlo, a DNS and netflow correlator
// (https://github.com/m3047/shodohflo). The associations are cached
// locally and refreshed from Redis by a background task that never
// terminates.
type ShoDoHFloPower struct {
	store  *shodohfloStore
	assocs *associations
	ttl    time.Duration
	ready  chan struct{}
}

var _ Power = &ShoDoHFloPower{}

type ShoDoHFloPowerOptions struct {
	// Address of the Redis server. The standard port is assumed when
	// none is given.
	RedisServer string
	// How long to keep associations cached. Defaults to 2 hours.
	TTL time.Duration
	// Upper bound on the number of cached associations. Entries whose
	// TTL has not expired may be evicted once the cache grows past
	// this. Defaults to 5000.
	MaxAssocs int
}

// NewShoDoHFloPower connects to the ShoDoHFlo database and starts
// filling the association cache in the background. The power is ready
// once the initial fill completed.
func NewShoDoHFloPower(opt ShoDoHFloPowerOptions) *ShoDoHFloPower {
	if opt.TTL == 0 {
		opt.TTL = shodohfloTTL
	}
	if opt.MaxAssocs == 0 {
		opt.MaxAssocs = shodohfloMaxAssocs
	}
	p := &ShoDoHFloPower{
		store:  newShodohfloStore(opt.RedisServer),
		assocs: newAssociations(opt.MaxAssocs),
		ttl:    opt.TTL,
		ready:  make(chan struct{}),
	}
	go p.initCache()
	return p
}

// initCache performs the first fill without inter-client delay, then
// hands off to the perpetual refresh task.
func (p *ShoDoHFloPower) initCache() {
	if err := p.refreshCache(true); err != nil {
		Log.WithError(err).Error("shodohflo: initial cache fill failed")
	}
	close(p.ready)
	p.periodicRefresh()
}

// refreshCache runs one cycle over all clients. Per-client failures are
// logged and skipped, only the client enumeration itself can fail the
// cycle.
func (p *ShoDoHFloPower) refreshCache(noWait bool) error {
	ctx := context.Background()
	clients, err := p.store.clients(ctx)
	if err != nil {
		return err
	}
	for _, client := range clients {
		if !noWait {
			time.Sleep(clientDelay)
		}
		// Only A / AAAA / CNAME derived data is returned.
		artifacts, err := p.store.dnsData(ctx, client)
		if err != nil {
			Log.WithError(err).WithField("client", client).Error("shodohflo: failed to fetch dns data")
			continue
		}
		for _, artifact := range artifacts {
			p.ingest(artifact)
		}
	}
	return nil
}

// ingest folds one artifact into the association store. Targets and
// names are keyed lowercase without the trailing dot.
func (p *ShoDoHFloPower) ingest(artifact dnsArtifact) {
	target := strings.TrimSuffix(strings.ToLower(artifact.target), ".")
	fqdns := make([]string, 0, len(artifact.onames))
	for _, name := range artifact.onames {
		fqdns = append(fqdns, strings.TrimSuffix(strings.ToLower(name), "."))
	}
	p.assocs.add(target, fqdns, p.ttl)
}

// periodicRefresh keeps the cache in sync with the store. Cycles are
// spaced at least cycleDelay apart. This task never exits.
func (p *ShoDoHFloPower) periodicRefresh() {
	for {
		started := time.Now()
		if err := p.refreshCache(false); err != nil {
			Log.WithError(err).Error("shodohflo: cache refresh failed")
		}
		sleep := cycleDelay - time.Since(started)
		if sleep < 0 {
			sleep = 0
		}
		time.Sleep(sleep + time.Second)
	}
}

// Query picks the best FQDN reachable from addr by following the
// cached target->fqdns edges.
func (p *ShoDoHFloPower) Query(addr netip.Addr) string {
	return bestChain(p.assocs.chains(addr.String()))
}

// Ready is closed once the initial cache fill has completed.
func (p *ShoDoHFloPower) Ready() <-chan struct{} { return p.ready }

func (p *ShoDoHFloPower) String() string { return PowerShoDoHFlo }

// bestChain picks the winning chain: the longest one, then the one
// whose final hop crosses furthest out of the previous name's domain
// (a CNAME to a different domain usually carries the interesting
// name), then the one whose final name has the fewest labels. Ties
// beyond that don't matter.
func bestChain(chains [][]string) string {
	if len(chains) == 0 {
		return ""
	}
	if len(chains) == 1 {
		return chains[0][len(chains[0])-1]
	}

	maxLength := 0
	for _, chain := range chains {
		if len(chain) > maxLength {
			maxLength = len(chain)
		}
	}
	candidates := make([][]string, 0, len(chains))
	for _, chain := range chains {
		if len(chain) == maxLength {
			candidates = append(candidates, chain)
		}
	}
	if len(candidates) == 1 {
		return candidates[0][maxLength-1]
	}

	// The domain comparison needs at least one hop in the chain.
	if maxLength >= 2 {
		minMatch := -1
		for _, chain := range candidates {
			if m := matchLen(chain); minMatch < 0 || m < minMatch {
				minMatch = m
			}
		}
		filtered := candidates[:0]
		for _, chain := range candidates {
			if matchLen(chain) == minMatch {
				filtered = append(filtered, chain)
			}
		}
		candidates = filtered
		if len(candidates) == 1 {
			return candidates[0][maxLength-1]
		}
	}

	best := ""
	bestLabels := -1
	for _, chain := range candidates {
		name := chain[len(chain)-1]
		labels := strings.Count(name, ".") + 1
		if bestLabels < 0 || labels < bestLabels {
			best, bestLabels = name, labels
		}
	}
	return best
}

// matchLen counts how many labels the last two names of a chain share,
// from the TLD inward.
func matchLen(chain []string) int {
	previous := strings.Split(chain[len(chain)-2], ".")
	current := strings.Split(chain[len(chain)-1], ".")
	n := 0
	for i, j := len(previous)-1, len(current)-1; i >= 0 && j >= 0; i, j = i-1, j-1 {
		if previous[i] != current[j] {
			break
		}
		n++
	}
	return n
}
