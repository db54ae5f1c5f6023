package admission

import (
	"context"
	"net"
	"net/netip"
	"strings"
)

// Resolver is the subset of *net.Resolver used for crawler verification.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Verifier confirms that ip really belongs to one of domains.
type Verifier interface {
	Verify(ctx context.Context, ip netip.Addr, domains []string) bool
}

// DNSVerifier performs the reverse-then-forward lookup crawler operators
// document: the PTR name must sit under an expected domain and resolve back
// to the same address.
type DNSVerifier struct {
	Resolver Resolver
}

// NewDNSVerifier uses net.DefaultResolver when r is nil.
func NewDNSVerifier(r Resolver) *DNSVerifier {
	if r == nil {
		r = net.DefaultResolver
	}
	return &DNSVerifier{Resolver: r}
}

func (v *DNSVerifier) Verify(ctx context.Context, ip netip.Addr, domains []string) bool {
	if !ip.IsValid() {
		return false
	}
	names, err := v.Resolver.LookupAddr(ctx, ip.String())
	if err != nil {
		return false
	}
	for _, name := range names {
		host := strings.ToLower(strings.TrimSuffix(name, "."))
		if !underAny(host, domains) {
			continue
		}
		addrs, err := v.Resolver.LookupIPAddr(ctx, host)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if got, ok := netip.AddrFromSlice(a.IP); ok && got.Unmap() == ip.Unmap() {
				return true
			}
		}
	}
	return false
}

func underAny(host string, domains []string) bool {
	for _, d := range domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
