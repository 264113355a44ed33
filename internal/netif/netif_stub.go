//go:build !linux

package netif

import (
	"fmt"
	"net"
	"net/netip"
)

// Stdlib reads interface addresses through the net package on platforms
// without rtnetlink.
type Stdlib struct{}

func NewSystem() Resolver { return Stdlib{} }

func (Stdlib) Address(iface string) (string, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return "", fmt.Errorf("lookup interface %s: %w", iface, err)
	}
	list, err := ifi.Addrs()
	if err != nil {
		return "", fmt.Errorf("list addresses on %s: %w", iface, err)
	}
	addrs := make([]netip.Addr, 0, len(list))
	for _, a := range list {
		if n, ok := a.(*net.IPNet); ok {
			if ip, ok := netip.AddrFromSlice(n.IP); ok {
				addrs = append(addrs, ip)
			}
		}
	}
	ip, ok := firstIPv4(addrs)
	if !ok {
		return "", fmt.Errorf("interface %s: %w", iface, ErrNoAddress)
	}
	return ip.String(), nil
}
