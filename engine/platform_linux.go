//go:build linux

package engine

import (
	"errors"
	"net"

	"github.com/vishvananda/netlink"

	"warpcore/api"
)

// netlinkProbe implements api.PlatformProbe using vishvananda/netlink,
// adopted from Talismancer-gvisor-ligolo's go.mod: stdlib net.Interface
// doesn't expose link speed or a netmask-plus-broadcast pair in one
// call, both of which engine.Init needs to build ipstack's directed-
// broadcast accept set.
type netlinkProbe struct{}

// NewPlatformProbe returns the Linux netlink-backed probe.
func NewPlatformProbe() api.PlatformProbe { return netlinkProbe{} }

func (netlinkProbe) Discover(ifname string) (api.IfaceInfo, error) {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return api.IfaceInfo{}, api.ErrNoSuchInterface
	}
	attrs := link.Attrs()

	info := api.IfaceInfo{
		Name: ifname,
		MTU:  attrs.MTU,
		Up:   attrs.Flags&net.FlagUp != 0,
	}
	copy(info.MAC[:], attrs.HardwareAddr)

	if speed, err := netlinkLinkSpeed(ifname); err == nil {
		info.Mbps = speed
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return info, nil
	}
	for _, a := range addrs {
		ifa, ok := toIfAddr(a)
		if ok {
			info.Addrs = append(info.Addrs, ifa)
		}
	}
	return info, nil
}

func toIfAddr(a netlink.Addr) (api.IfAddr, bool) {
	ip := a.IPNet.IP
	ones, bits := a.IPNet.Mask.Size()
	if v4 := ip.To4(); v4 != nil {
		addr := api.Addr{Family: api.FamilyV4, V4: be32(v4)}
		ifa := api.IfAddr{Addr: addr, PrefixLen: ones}
		if bits == 32 && ones < 32 {
			mask := uint32(0xFFFFFFFF) >> uint(ones)
			netw := be32(v4) &^ mask
			ifa.Network = api.Addr{Family: api.FamilyV4, V4: netw}
			ifa.Broadcast = api.Addr{Family: api.FamilyV4, V4: netw | mask}
		}
		return ifa, true
	}
	v6 := ip.To16()
	if v6 == nil {
		return api.IfAddr{}, false
	}
	var a6 [16]byte
	copy(a6[:], v6)
	return api.IfAddr{Addr: api.Addr{Family: api.FamilyV6, V6: a6}, PrefixLen: ones}, true
}

func be32(ip net.IP) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

// netlinkLinkSpeed does not probe anything: it always returns
// errSpeedUnavailable, since link speed needs the ethtool ioctl/genl
// path, which this package does not wire up. Mbps therefore stays 0,
// which only affects diagnostics, never routing correctness.
func netlinkLinkSpeed(ifname string) (uint32, error) {
	return 0, errSpeedUnavailable
}

var errSpeedUnavailable = errors.New("engine: link speed probe unavailable")
