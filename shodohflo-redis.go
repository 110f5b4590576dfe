package rearview

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Standard Redis port, assumed when the configured server carries none.
const redisPort = "6379"

const redisOpTimeout = 5 * time.Second

// dnsArtifact is one observation from the ShoDoHFlo database: either an
// address together with the names that resolved to it, or a CNAME
// together with the names observed pointing at it. The two cases are
// told apart by whether the target parses as an address.
type dnsArtifact struct {
	target string
	onames []string
}

// shodohfloStore reads the key layout maintained by the ShoDoHFlo
// DNS/netflow correlator: "client;<ip>" marks an active client, and
// "<client>;<target>;dns" holds the set of names observed for target
// in that client's traffic.
type shodohfloStore struct {
	client *redis.Client
}

func newShodohfloStore(server string) *shodohfloStore {
	if !strings.Contains(server, ":") {
		server += ":" + redisPort
	}
	return &shodohfloStore{
		client: redis.NewClient(&redis.Options{Addr: server}),
	}
}

// clients returns the addresses of all clients with recorded activity.
func (s *shodohfloStore) clients(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	var clients []string
	iter := s.client.Scan(ctx, 0, "client;*", 0).Iterator()
	for iter.Next(ctx) {
		clients = append(clients, strings.TrimPrefix(iter.Val(), "client;"))
	}
	return clients, iter.Err()
}

// dnsData returns the A/AAAA/CNAME derived artifacts recorded for one
// client.
func (s *shodohfloStore) dnsData(ctx context.Context, client string) ([]dnsArtifact, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	var artifacts []dnsArtifact
	iter := s.client.Scan(ctx, 0, client+";*;dns", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		parts := strings.Split(key, ";")
		if len(parts) != 3 {
			continue
		}
		onames, err := s.client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, dnsArtifact{target: parts[1], onames: onames})
	}
	return artifacts, iter.Err()
}

func (s *shodohfloStore) Close() error {
	return s.client.Close()
}
