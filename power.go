package rearview

import (
	"context"
	"fmt"
	"net/netip"
)

// Names of the recognized powers. Anything else in a configuration is a
// fatal error.
const (
	PowerSQLite    = "sqlite"
	PowerShoDoHFlo = "shodohflo"
)

// Power is a backend that rewrites PTR queries. Query returns the FQDN
// for an address, or "" when the power has no answer. Ready is closed
// once any background initialization has completed; callers must wait
// for it before the first Query.
type Power interface {
	Query(addr netip.Addr) string
	Ready() <-chan struct{}
	fmt.Stringer
}

// Shared by powers that initialize synchronously in their constructor.
var closedReady = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// awaitReady blocks until every power has finished initializing, or the
// context expires.
func awaitReady(ctx context.Context, powers []Power) error {
	for _, p := range powers {
		select {
		case <-p.Ready():
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", p, ctx.Err())
		}
	}
	return nil
}
