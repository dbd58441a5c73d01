// Package acl implements named CIDR access lists matched against peer
// addresses.
package acl

import (
	"fmt"
	"net/netip"
)

// ACL is an ordered list of CIDR prefixes. A peer matches the list if
// any prefix contains it.
type ACL struct {
	Name     string
	prefixes []netip.Prefix
}

// New builds an ACL from CIDR strings. A bare address is treated as a
// full-length prefix.
func New(name string, cidrs []string) (*ACL, error) {
	a := &ACL{Name: name}
	for _, s := range cidrs {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			addr, aerr := netip.ParseAddr(s)
			if aerr != nil {
				return nil, fmt.Errorf("acl %s: bad cidr %q: %w", name, s, err)
			}
			p = netip.PrefixFrom(addr, addr.BitLen())
		}
		a.prefixes = append(a.prefixes, p.Masked())
	}
	return a, nil
}

// Match reports whether addr falls inside any of the list's prefixes.
// Mapped IPv4-in-IPv6 peers are unwrapped before matching.
func (a *ACL) Match(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range a.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
