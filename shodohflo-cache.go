package rearview

import (
	"math/rand"
	"slices"
	"sort"
	"sync"
	"time"
)

// Chains longer than this are cut off. Protects the walker from
// adversarial association data.
const maxChainDepth = 32

// association is a timestamped edge from a target (an address or a
// CNAME) to the FQDNs observed referring to it.
type association struct {
	target      string
	fqdns       []string
	ttl         time.Duration
	expires     time.Time
	origExpires time.Time
}

// updated reports whether the association was refreshed after it was
// last enqueued for expiry.
func (a *association) updated() bool {
	return !a.expires.Equal(a.origExpires)
}

// associations indexes name/address associations and expires them with
// two rotating queues. New entries are appended to the expiry queue in
// arrival order, which follows origExpires only up to the expiry
// jitter; the queue is sorted by origExpires when newExpiry is promoted.
// Refreshed entries (expires > origExpires) are moved to newExpiry
// instead of being deleted, buying them one extra lifetime before they
// are examined again. When expiry drains, newExpiry is re-stamped,
// sorted and takes its place.
//
// The store is written by the single refresh task and read by any
// number of query goroutines, hence the RWMutex.
type associations struct {
	mu        sync.RWMutex
	index     map[string]*association
	expiry    []*association
	newExpiry []*association
	maxAssocs int

	now    func() time.Time
	jitter func() float64
}

func newAssociations(maxAssocs int) *associations {
	return &associations{
		index:     make(map[string]*association),
		maxAssocs: maxAssocs,
		now:       time.Now,
		jitter:    rand.Float64,
	}
}

// expiryTime computes a jittered expiration timestamp. The jitter
// spreads out evictions of entries that were loaded in the same refresh
// cycle.
func (s *associations) expiryTime(ttl time.Duration) time.Time {
	return s.now().Add(time.Duration(float64(ttl) * (0.95 + 0.1*s.jitter())))
}

// add inserts the association for target or refreshes an existing one.
func (s *associations) add(target string, fqdns []string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purge()

	if a, ok := s.index[target]; ok {
		a.fqdns = fqdns
		a.expires = s.expiryTime(ttl)
		return
	}
	a := &association{target: target, fqdns: fqdns, ttl: ttl}
	a.expires = s.expiryTime(ttl)
	a.origExpires = a.expires
	s.index[target] = a
	if len(s.newExpiry) > 0 {
		s.newExpiry = append(s.newExpiry, a)
	} else {
		s.expiry = append(s.expiry, a)
	}
}

// size returns the number of cached associations.
func (s *associations) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// purge drops associations that are expired, or the oldest ones while
// the cache exceeds maxAssocs. Callers must hold the write lock.
func (s *associations) purge() {
	if len(s.index) == 0 {
		return
	}
	now := s.now()
	for len(s.expiry) > 0 && (!s.expiry[0].origExpires.After(now) || len(s.index) > s.maxAssocs) {
		s.removeOne()
		if len(s.expiry) == 0 {
			if len(s.index) == 0 {
				return
			}
			s.rotate()
		}
	}
}

// removeOne pops the head of the expiry queue. Refreshed entries move
// to newExpiry, everything else is deleted from the index.
func (s *associations) removeOne() {
	item := s.expiry[0]
	s.expiry = s.expiry[1:]
	if item.updated() {
		s.newExpiry = append(s.newExpiry, item)
		return
	}
	delete(s.index, item.target)
}

// rotate promotes newExpiry to expiry.
func (s *associations) rotate() {
	for _, item := range s.newExpiry {
		item.origExpires = item.expires
	}
	sort.SliceStable(s.newExpiry, func(i, j int) bool {
		return s.newExpiry[i].origExpires.Before(s.newExpiry[j].origExpires)
	})
	s.expiry = s.newExpiry
	s.newExpiry = nil
}

// chains collects every target->fqdn path reachable from root. The
// refresh task is locked out for the duration of the walk so paths
// can't change underneath it.
func (s *associations) chains(root string) [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out [][]string
	s.follow([]string{root}, &out)
	return out
}

// follow extends the path by every FQDN associated with its last
// element. A path ends where no association exists, where it would
// revisit one of its own elements, or at the depth cutoff. A path that
// ends for lack of an association is recorded only if it leads anywhere
// (length > 1); the other two cases record the path as it is.
func (s *associations) follow(path []string, out *[][]string) {
	a, ok := s.index[path[len(path)-1]]
	if !ok {
		if len(path) > 1 {
			*out = append(*out, slices.Clone(path))
		}
		return
	}
	if len(path) >= maxChainDepth {
		*out = append(*out, slices.Clone(path))
		return
	}
	for _, name := range a.fqdns {
		if slices.Contains(path, name) {
			if !containsPath(*out, path) {
				*out = append(*out, slices.Clone(path))
				return
			}
			continue
		}
		s.follow(append(slices.Clone(path), name), out)
	}
}

func containsPath(paths [][]string, path []string) bool {
	for _, p := range paths {
		if slices.Equal(p, path) {
			return true
		}
	}
	return false
}
