// Package netengine implements dobbyd's container networking: the dobby0
// bridge, per-container veth pairs, NAT and anti-spoof rules, port
// forwarding, and DNS redirection.
//
// The daemon calls it directly rather than through plugin hooks:
// EnsureBridge once at startup, WriteResolvConf from the container
// manager before a container is created, and DetachContainer from the
// container manager once a container's init process has exited (between
// the PostHalt and PostStop plugin hooks). AttachContainer and the port
// forwarding helpers have no caller inside dobbyd.
package netengine

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rdkcentral/dobbyd/pkg/ipallocator"
	"github.com/rdkcentral/dobbyd/pkg/log"
	"github.com/rdkcentral/dobbyd/pkg/netfilter"
	"github.com/rdkcentral/dobbyd/pkg/types"
	"github.com/rs/zerolog"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// BridgeName is the name of dobbyd's container bridge, matching the
// original's fixed "dobby0" device.
const BridgeName = "dobby0"

// BridgeNetmask is the /24 netmask applied to the bridge and every
// container veth.
const BridgeNetmask = 24

// DNSRedirectAddress is the address inside the container's network
// namespace that DNS queries are redirected to (the bridge's own address).
// dobbyd itself runs no DNS listener or forwarder at that address.
const DNSRedirectAddress = ipallocator.BridgeAddress

// Engine owns the bridge and per-container veth/rule lifecycle.
type Engine struct {
	ips    *ipallocator.Allocator
	rules  *netfilter.SimpleRules
	logger zerolog.Logger

	extIface string // external (WAN-facing) interface for NAT/MASQUERADE
}

// New creates a network engine. extIface is the host interface containers
// are NATed out through (e.g. "eth0").
func New(ips *ipallocator.Allocator, rules *netfilter.SimpleRules, extIface string) *Engine {
	return &Engine{
		ips:      ips,
		rules:    rules,
		logger:   log.WithComponent("netengine"),
		extIface: extIface,
	}
}

// EnsureBridge creates the dobby0 bridge if it doesn't already exist,
// assigns it 100.64.11.1/24, and brings it up. Called once at daemon
// startup, before any container ever starts.
func (e *Engine) EnsureBridge() error {
	link, err := netlink.LinkByName(BridgeName)
	if err == nil {
		return netlink.LinkSetUp(link)
	}

	br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: BridgeName}}
	if err := netlink.LinkAdd(br); err != nil {
		return fmt.Errorf("create bridge %s: %w", BridgeName, err)
	}

	addr := &netlink.Addr{IPNet: &net.IPNet{
		IP:   ipv4FromUint32(ipallocator.BridgeAddress),
		Mask: net.CIDRMask(BridgeNetmask, 32),
	}}
	if err := netlink.AddrAdd(br, addr); err != nil {
		return fmt.Errorf("assign address to %s: %w", BridgeName, err)
	}

	if err := netlink.LinkSetUp(br); err != nil {
		return fmt.Errorf("bring up %s: %w", BridgeName, err)
	}

	e.logger.Info().Str("bridge", BridgeName).Msg("created container bridge")
	return nil
}

// AttachContainer allocates an address, creates a veth pair, moves the
// container-side end into the container's network namespace, and applies
// anti-spoof + NAT rules for it. Nothing in dobbyd calls it; the container
// manager does not attach containers to the bridge.
func (e *Engine) AttachContainer(id types.ContainerId, netnsPath string) (types.NetworkInfo, error) {
	vethName := vethNameFor(id)

	info, err := e.ips.Allocate(id, vethName)
	if err != nil {
		return types.NetworkInfo{}, err
	}

	if err := e.createVethPair(vethName, info, netnsPath); err != nil {
		e.ips.Deallocate(id)
		return types.NetworkInfo{}, err
	}

	if err := e.applyAntiSpoof(vethName, info); err != nil {
		return info, fmt.Errorf("apply anti-spoof rules for %s: %w", id, err)
	}

	if err := e.applyNAT(info); err != nil {
		return info, fmt.Errorf("apply NAT rules for %s: %w", id, err)
	}

	e.logger.Info().Str("container_id", string(id)).Str("veth", vethName).
		Str("ipv4", ipallocator.IPv4String(info.IPv4)).Msg("attached container to network")

	return info, nil
}

// createVethPair creates a veth pair named vethName/vethName+"c", leaves
// the host side on the bridge, and moves the container side into the
// target network namespace where it is renamed "eth0".
func (e *Engine) createVethPair(vethName string, info types.NetworkInfo, netnsPath string) error {
	peerName := vethName + "c"

	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: vethName},
		PeerName:  peerName,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return fmt.Errorf("create veth pair %s/%s: %w", vethName, peerName, err)
	}

	hostLink, err := netlink.LinkByName(vethName)
	if err != nil {
		return fmt.Errorf("find host veth %s: %w", vethName, err)
	}

	bridge, err := netlink.LinkByName(BridgeName)
	if err != nil {
		return fmt.Errorf("find bridge %s: %w", BridgeName, err)
	}
	if err := netlink.LinkSetMaster(hostLink, bridge); err != nil {
		return fmt.Errorf("attach %s to bridge: %w", vethName, err)
	}
	if err := netlink.LinkSetUp(hostLink); err != nil {
		return fmt.Errorf("bring up %s: %w", vethName, err)
	}

	peerLink, err := netlink.LinkByName(peerName)
	if err != nil {
		return fmt.Errorf("find container veth %s: %w", peerName, err)
	}

	nsFd, err := netns.GetFromPath(netnsPath)
	if err != nil {
		return fmt.Errorf("open netns %s: %w", netnsPath, err)
	}
	defer nsFd.Close()

	if err := netlink.LinkSetNsFd(peerLink, int(nsFd)); err != nil {
		return fmt.Errorf("move %s into container netns: %w", peerName, err)
	}

	return e.configureContainerSide(netnsPath, peerName, info)
}

// configureContainerSide enters the container's network namespace to
// rename the moved veth to eth0, assign its address, and bring up lo and
// eth0. vishvananda/netns pins the calling OS thread for the duration.
func (e *Engine) configureContainerSide(netnsPath, peerName string, info types.NetworkInfo) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origNs, err := netns.Get()
	if err != nil {
		return fmt.Errorf("get current netns: %w", err)
	}
	defer origNs.Close()
	defer netns.Set(origNs)

	targetNs, err := netns.GetFromPath(netnsPath)
	if err != nil {
		return fmt.Errorf("open netns %s: %w", netnsPath, err)
	}
	defer targetNs.Close()

	if err := netns.Set(targetNs); err != nil {
		return fmt.Errorf("enter netns %s: %w", netnsPath, err)
	}

	link, err := netlink.LinkByName(peerName)
	if err != nil {
		return fmt.Errorf("find %s inside container netns: %w", peerName, err)
	}

	if err := netlink.LinkSetName(link, "eth0"); err != nil {
		return fmt.Errorf("rename %s to eth0: %w", peerName, err)
	}
	link, err = netlink.LinkByName("eth0")
	if err != nil {
		return fmt.Errorf("find eth0 after rename: %w", err)
	}

	addr := &netlink.Addr{IPNet: &net.IPNet{
		IP:   ipv4FromUint32(info.IPv4),
		Mask: net.CIDRMask(BridgeNetmask, 32),
	}}
	if err := netlink.AddrAdd(link, addr); err != nil {
		return fmt.Errorf("assign address to eth0: %w", err)
	}

	if info.IPv6 != nil {
		ipv6Addr := &netlink.Addr{IPNet: &net.IPNet{
			IP:   net.IP(info.IPv6[:]),
			Mask: net.CIDRMask(64, 128),
		}}
		if err := netlink.AddrAdd(link, ipv6Addr); err != nil {
			return fmt.Errorf("assign IPv6 address to eth0: %w", err)
		}
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("bring up eth0: %w", err)
	}

	// route_localnet on the container's eth0 lets packets DNATed to a
	// 127.0.0.1 address inside this namespace be routed rather than
	// dropped. PublishLoopbackPorts' rules live in the host's nat table and
	// do not depend on this setting.
	if err := os.WriteFile("/proc/sys/net/ipv4/conf/eth0/route_localnet", []byte("1\n"), 0o644); err != nil {
		e.logger.Warn().Err(err).Msg("could not enable route_localnet for loopback-masqueraded port forwards")
	}

	lo, err := netlink.LinkByName("lo")
	if err == nil {
		netlink.LinkSetUp(lo)
	}

	defaultRoute := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Gw:        ipv4FromUint32(ipallocator.BridgeAddress),
	}
	if err := netlink.RouteAdd(defaultRoute); err != nil {
		return fmt.Errorf("add default route via bridge: %w", err)
	}

	return nil
}

// applyAntiSpoof restricts the host-side veth so the container can only
// send traffic from the IP address it was actually allocated, preventing
// one container from spoofing another's address.
func (e *Engine) applyAntiSpoof(vethName string, info types.NetworkInfo) error {
	ip := ipallocator.IPv4String(info.IPv4)
	if err := e.rules.AppendUnique(false, "filter", "FORWARD",
		"-i", vethName, "-s", ip, "-j", "ACCEPT"); err != nil {
		return err
	}
	return e.rules.AppendUnique(false, "filter", "FORWARD",
		"-i", vethName, "-j", "DROP")
}

// applyNAT adds a MASQUERADE rule so the container's traffic appears to
// come from the host's external interface.
func (e *Engine) applyNAT(info types.NetworkInfo) error {
	if e.extIface == "" {
		return nil
	}
	ip := ipallocator.IPv4String(info.IPv4)
	return e.rules.AppendUnique(false, "nat", "POSTROUTING",
		"-s", ip+"/32", "-o", e.extIface, "-j", "MASQUERADE")
}

// DetachContainer removes the rules and veth pair for a container and
// releases its address. The container manager calls it once, after the
// PostHalt plugin hook and before the PostStop plugin hook.
func (e *Engine) DetachContainer(id types.ContainerId) error {
	info, err := e.ips.Lookup(id)
	if err != nil {
		return fmt.Errorf("lookup network info for %s: %w", id, err)
	}

	ip := ipallocator.IPv4String(info.IPv4)
	e.rules.Delete(false, "filter", "FORWARD", "-i", info.VethName, "-s", ip, "-j", "ACCEPT")
	e.rules.Delete(false, "filter", "FORWARD", "-i", info.VethName, "-j", "DROP")
	if e.extIface != "" {
		e.rules.Delete(false, "nat", "POSTROUTING", "-s", ip+"/32", "-o", e.extIface, "-j", "MASQUERADE")
	}

	if link, err := netlink.LinkByName(info.VethName); err == nil {
		if err := netlink.LinkDel(link); err != nil {
			e.logger.Warn().Err(err).Str("veth", info.VethName).Msg("failed to remove veth, may already be gone with netns")
		}
	}

	return e.ips.Deallocate(id)
}

// WriteResolvConf writes <rootfs>/etc/resolv.conf pointing DNS queries at
// the bridge address (grounded on the original's dnsmasq redirect
// approach, simplified: dobbyd runs no resolver or forwarder of its own,
// so nothing in dobbyd answers queries sent there).
func (e *Engine) WriteResolvConf(rootfsPath string) error {
	content := fmt.Sprintf("nameserver %s\n", ipallocator.IPv4String(DNSRedirectAddress))
	path := filepath.Join(rootfsPath, "etc", "resolv.conf")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create /etc in rootfs: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write resolv.conf: %w", err)
	}
	return nil
}

func vethNameFor(id types.ContainerId) string {
	h := fnv32(string(id))
	return fmt.Sprintf("veth%x", h&0xffffff)
}

// fnv32 is a tiny non-cryptographic hash used only to keep generated veth
// names within Linux's 15-character IFNAMSIZ limit regardless of
// container id length.
func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

func ipv4FromUint32(addr uint32) net.IP {
	return net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}
