package rawip

import (
	"fmt"
	"net"
	"net/netip"
)

// LocalAddrFor selects a local IPv4 address to reach target from: one in
// the same /24 as target if any, else the first usable IPv4 address.
func LocalAddrFor(target netip.Addr) (netip.Addr, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	var candidates []netip.Prefix
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			a, ok := netip.AddrFromSlice(ipNet.IP.To4())
			if !ok {
				continue
			}
			ones, _ := ipNet.Mask.Size()
			candidates = append(candidates, netip.PrefixFrom(a, ones))
		}
	}

	if a, ok := pickLocalAddr(target, candidates); ok {
		return a, nil
	}
	return netip.Addr{}, fmt.Errorf("no suitable local IP found for target %s", target)
}

// pickLocalAddr prefers an address on the same subnet as target. Loopback
// targets are reached from the loopback address itself.
func pickLocalAddr(target netip.Addr, candidates []netip.Prefix) (netip.Addr, bool) {
	if target.IsLoopback() {
		return target, true
	}
	targetNet, err := target.Prefix(24)
	if err != nil {
		return netip.Addr{}, false
	}
	for _, c := range candidates {
		if targetNet.Contains(c.Addr()) || c.Contains(target) {
			return c.Addr(), true
		}
	}
	for _, c := range candidates {
		if c.Addr().Is4() {
			return c.Addr(), true
		}
	}
	return netip.Addr{}, false
}
