package admission

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
)

// HostingClassifier flags addresses that belong to hosting or datacenter
// networks.
type HostingClassifier struct {
	prefixes []netip.Prefix
}

// NewHostingClassifier parses CIDR ranges. Bare addresses are accepted as
// single-host prefixes.
func NewHostingClassifier(ranges []string) (*HostingClassifier, error) {
	h := &HostingClassifier{}
	for _, r := range ranges {
		if err := h.add(r); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// LoadRanges adds one CIDR per line from r. Blank lines and text after '#'
// are ignored.
func (h *HostingClassifier) LoadRanges(r io.Reader) error {
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if err := h.add(text); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

// LoadFile is LoadRanges over a file.
func (h *HostingClassifier) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return h.LoadRanges(f)
}

func (h *HostingClassifier) add(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return fmt.Errorf("parse hosting range %q: %w", s, err)
		}
		h.prefixes = append(h.prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
		return nil
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return fmt.Errorf("parse hosting range %q: %w", s, err)
	}
	h.prefixes = append(h.prefixes, p.Masked())
	return nil
}

// IsHosting reports whether ip falls in any configured range.
func (h *HostingClassifier) IsHosting(ip netip.Addr) bool {
	if h == nil || !ip.IsValid() {
		return false
	}
	ip = ip.Unmap()
	for _, p := range h.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Len is the number of configured ranges.
func (h *HostingClassifier) Len() int {
	if h == nil {
		return 0
	}
	return len(h.prefixes)
}

func parseAddr(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
