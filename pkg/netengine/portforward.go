package netengine

import (
	"fmt"

	"github.com/rdkcentral/dobbyd/pkg/ipallocator"
	"github.com/rdkcentral/dobbyd/pkg/netfilter"
	"github.com/rdkcentral/dobbyd/pkg/types"
)

// PortMapping is a single host-to-container port forward.
type PortMapping struct {
	Protocol      string // "tcp" or "udp"
	HostPort      int
	ContainerPort int
}

// dnatRule and acceptRule build the DNAT PREROUTING rule and its matching
// filter FORWARD ACCEPT, matching the original's
// "PREROUTING ! -i dobby0 -p <proto> --dport <port> -j DNAT --to <ip>:<port>"
// shape so forwarded traffic bypasses the bridge's own anti-spoof rules.
// Every rule string starts with its chain, the form iptables-save lists
// after "-A" and the RuleCache writes back after "-A"/"-I"/"-D".
func dnatRule(containerIP string, m PortMapping) string {
	return fmt.Sprintf("PREROUTING ! -i %s -p %s --dport %d -j DNAT --to-destination %s:%d",
		BridgeName, m.Protocol, m.HostPort, containerIP, m.ContainerPort)
}

func acceptRule(containerIP string, m PortMapping) string {
	return fmt.Sprintf("FORWARD -p %s -d %s --dport %d -j ACCEPT", m.Protocol, containerIP, m.ContainerPort)
}

func loopbackRule(containerIP, bridgeIP string, m PortMapping) string {
	return fmt.Sprintf("PREROUTING -s %s -d %s -p %s --dport %d -j DNAT --to-destination 127.0.0.1:%d",
		containerIP, bridgeIP, m.Protocol, m.HostPort, m.ContainerPort)
}

// PublishPorts adds DNAT and matching ACCEPT rules forwarding each host
// port to the container's address.
func (e *Engine) PublishPorts(cache *netfilter.RuleCache, info types.NetworkInfo, mappings []PortMapping) {
	containerIP := ipallocator.IPv4String(info.IPv4)
	for _, m := range mappings {
		cache.AddRules(types.TableNat, dnatRule(containerIP, m))
		cache.AddRules(types.TableFilter, acceptRule(containerIP, m))
	}
}

// UnpublishPorts queues removal of the rules PublishPorts added.
func (e *Engine) UnpublishPorts(cache *netfilter.RuleCache, info types.NetworkInfo, mappings []PortMapping) {
	containerIP := ipallocator.IPv4String(info.IPv4)
	for _, m := range mappings {
		cache.DeleteRules(types.TableNat, dnatRule(containerIP, m))
		cache.DeleteRules(types.TableFilter, acceptRule(containerIP, m))
	}
}

// PublishLoopbackPorts lets the container reach services bound to the
// host's loopback: traffic from the container's address to the bridge's
// address on HostPort is DNATed, in the host's nat table, to
// 127.0.0.1:ContainerPort on the host (the "HolePuncher" case in the
// original implementation).
func (e *Engine) PublishLoopbackPorts(cache *netfilter.RuleCache, info types.NetworkInfo, mappings []PortMapping) {
	containerIP := ipallocator.IPv4String(info.IPv4)
	bridgeIP := ipallocator.IPv4String(ipallocator.BridgeAddress)
	for _, m := range mappings {
		cache.InsertRules(types.TableNat, loopbackRule(containerIP, bridgeIP, m))
	}
}
