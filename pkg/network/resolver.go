package network

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/mirkobrombin/capsule/pkg/logger"
)

// resolveTimeout bounds a single DNS lookup.
const resolveTimeout = 5 * time.Second

// Resolver turns the allowed domain list into IPv4 addresses, keeping a
// per-container cache so a flaky DNS server cannot strip a domain from
// the allowlist.
type Resolver struct {
	cache *CacheManager
}

// NewResolver returns a Resolver backed by the given cache.
func NewResolver(cache *CacheManager) *Resolver {
	return &Resolver{cache: cache}
}

// ResolveDomain looks up the IPv4 addresses of a single domain.
func (r *Resolver) ResolveDomain(ctx context.Context, domain string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", domain)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve %s: %w", domain, err)
	}
	ips := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		ips = append(ips, addr.String())
	}
	sort.Strings(ips)
	return ips, nil
}

// ResolveAll resolves every domain, falling back to the cached addresses
// of any domain that fails, and persists the merged result. An error is
// returned only when a domain fails and has no cached addresses either.
func (r *Resolver) ResolveAll(ctx context.Context, domains []string) ([]string, error) {
	cached, err := r.cache.Load()
	if err != nil {
		logger.Debugf("unable to load DNS cache: %v", err)
		cached = NewIPCache()
	}

	resolved := NewIPCache()
	var all []string
	for _, domain := range domains {
		ips, err := r.ResolveDomain(ctx, domain)
		if err != nil {
			fallback := cached.Domains[domain]
			if len(fallback) == 0 {
				return nil, fmt.Errorf("no addresses for %s and no cached fallback: %w", domain, err)
			}
			logger.Warnf("using %d cached addresses for %s: %v", len(fallback), domain, err)
			ips = fallback
		}
		resolved.Domains[domain] = ips
		all = append(all, ips...)
	}

	resolved.LastUpdate = time.Now()
	if err := r.cache.Save(resolved); err != nil {
		logger.Warnf("unable to save DNS cache: %v", err)
	}
	return dedupe(all), nil
}

func dedupe(ips []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ip := range ips {
		if !seen[ip] {
			seen[ip] = true
			out = append(out, ip)
		}
	}
	sort.Strings(out)
	return out
}

// IPsUnchanged reports whether two address sets are equal ignoring order.
func IPsUnchanged(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
