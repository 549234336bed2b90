package netfilter

import (
	"fmt"

	"github.com/coreos/go-iptables/iptables"
)

// SimpleRules wraps go-iptables for the small number of idempotent,
// single-rule operations dobbyd performs outside the batch RuleCache path:
// the per-container anti-spoof and NAT rules that are added and removed
// one container at a time rather than diffed in bulk. EnsureChain is
// available but the daemon does not call it.
type SimpleRules struct {
	ipt4 *iptables.IPTables
	ipt6 *iptables.IPTables
}

// NewSimpleRules constructs wrappers for both address families.
func NewSimpleRules() (*SimpleRules, error) {
	ipt4, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, fmt.Errorf("init iptables: %w", err)
	}
	ipt6, err := iptables.NewWithProtocol(iptables.ProtocolIPv6)
	if err != nil {
		return nil, fmt.Errorf("init ip6tables: %w", err)
	}
	return &SimpleRules{ipt4: ipt4, ipt6: ipt6}, nil
}

func (s *SimpleRules) forFamily(ipv6 bool) *iptables.IPTables {
	if ipv6 {
		return s.ipt6
	}
	return s.ipt4
}

// EnsureChain creates chain in table if it doesn't already exist.
func (s *SimpleRules) EnsureChain(ipv6 bool, table, chain string) error {
	ipt := s.forFamily(ipv6)
	exists, err := ipt.ChainExists(table, chain)
	if err != nil {
		return fmt.Errorf("check chain %s/%s: %w", table, chain, err)
	}
	if exists {
		return nil
	}
	return ipt.NewChain(table, chain)
}

// AppendUnique appends rule to table/chain unless an identical rule is
// already present.
func (s *SimpleRules) AppendUnique(ipv6 bool, table, chain string, rule ...string) error {
	return s.forFamily(ipv6).AppendUnique(table, chain, rule...)
}

// Delete removes rule from table/chain if present; a missing rule is not
// treated as an error, since dobbyd calls this unconditionally on teardown.
func (s *SimpleRules) Delete(ipv6 bool, table, chain string, rule ...string) error {
	ipt := s.forFamily(ipv6)
	exists, err := ipt.Exists(table, chain, rule...)
	if err != nil {
		return fmt.Errorf("check rule: %w", err)
	}
	if !exists {
		return nil
	}
	return ipt.Delete(table, chain, rule...)
}
