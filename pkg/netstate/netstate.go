// Package netstate provides read-only views of live kernel network state via
// netlink. Lease confirmation and gateway discovery query the kernel directly
// instead of parsing ip(8) output.
package netstate

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// State implements types.NetState over netlink
type State struct{}

// New creates a netlink-backed state reader
func New() *State {
	return &State{}
}

// LinkExists reports whether the named link is present
func (s *State) LinkExists(dev string) bool {
	_, err := netlink.LinkByName(dev)
	return err == nil
}

// LinkNames returns the names of all links on the host
func (s *State) LinkNames() ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	names := make([]string, 0, len(links))
	for _, link := range links {
		names = append(names, link.Attrs().Name)
	}
	return names, nil
}

// HardwareAddr returns the MAC address of the named link
func (s *State) HardwareAddr(dev string) (string, error) {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return "", fmt.Errorf("failed to find link %s: %w", dev, err)
	}
	return link.Attrs().HardwareAddr.String(), nil
}

// InterfaceIPv4 returns the first IPv4 address and prefix length on the link
func (s *State) InterfaceIPv4(dev string) (net.IP, int, error) {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find link %s: %w", dev, err)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list addresses on %s: %w", dev, err)
	}
	for _, addr := range addrs {
		if addr.IP.To4() == nil {
			continue
		}
		ones, _ := addr.Mask.Size()
		return addr.IP, ones, nil
	}
	return nil, 0, fmt.Errorf("no IPv4 address on %s", dev)
}

// DefaultGateway returns the gateway of the default route scoped to the link
func (s *State) DefaultGateway(dev string) (net.IP, error) {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return nil, fmt.Errorf("failed to find link %s: %w", dev, err)
	}
	routes, err := netlink.RouteList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes on %s: %w", dev, err)
	}
	for _, route := range routes {
		if route.Dst == nil && route.Gw != nil {
			return route.Gw, nil
		}
	}
	return nil, fmt.Errorf("no default route on %s", dev)
}
