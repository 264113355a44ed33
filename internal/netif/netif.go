// Package netif discovers the address the database should bind to.
package netif

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrNoAddress is returned when an interface has no usable IPv4 address.
var ErrNoAddress = errors.New("no usable address")

// Resolver returns the primary address of a network interface.
type Resolver interface {
	Address(iface string) (string, error)
}

// Static resolves every interface to a fixed address. It is used when the
// address is configured explicitly.
type Static string

func (s Static) Address(iface string) (string, error) {
	if _, err := netip.ParseAddr(string(s)); err != nil {
		return "", fmt.Errorf("interface %s: invalid static address %q: %w", iface, string(s), err)
	}
	return string(s), nil
}

// firstIPv4 picks the first global unicast IPv4 address, falling back to
// any IPv4 address when none is global.
func firstIPv4(addrs []netip.Addr) (netip.Addr, bool) {
	var fallback netip.Addr
	for _, a := range addrs {
		a = a.Unmap()
		if !a.Is4() {
			continue
		}
		if a.IsGlobalUnicast() {
			return a, true
		}
		if !fallback.IsValid() {
			fallback = a
		}
	}
	return fallback, fallback.IsValid()
}
