//go:build linux

package netif

import (
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// Netlink reads interface addresses through rtnetlink.
type Netlink struct{}

func NewSystem() Resolver { return Netlink{} }

func (Netlink) Address(iface string) (string, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return "", fmt.Errorf("lookup interface %s: %w", iface, err)
	}
	list, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return "", fmt.Errorf("list addresses on %s: %w", link.Attrs().Name, err)
	}
	addrs := make([]netip.Addr, 0, len(list))
	for _, a := range list {
		if a.IPNet == nil {
			continue
		}
		if ip, ok := netip.AddrFromSlice(a.IP); ok {
			addrs = append(addrs, ip)
		}
	}
	ip, ok := firstIPv4(addrs)
	if !ok {
		return "", fmt.Errorf("interface %s: %w", iface, ErrNoAddress)
	}
	return ip.String(), nil
}
