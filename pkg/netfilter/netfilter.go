// Package netfilter caches pending iptables rule changes and applies them
// in a single iptables-restore batch, rather than invoking iptables once
// per rule.
//
// The network engine's port-forwarding helpers queue rules into a
// RuleCache with AddRules/InsertRules/DeleteRules; ApplyRules then diffs
// the cache against the kernel's current rules (read via iptables-save)
// and pushes the result in one iptables-restore invocation. Anti-spoof and
// NAT rules do not use this path; they go through SimpleRules.
package netfilter

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/rdkcentral/dobbyd/pkg/log"
	"github.com/rdkcentral/dobbyd/pkg/metrics"
	"github.com/rdkcentral/dobbyd/pkg/types"
)

const (
	iptablesSavePath     = "/usr/sbin/iptables-save"
	iptablesRestorePath  = "/usr/sbin/iptables-restore"
	ip6tablesSavePath    = "/usr/sbin/ip6tables-save"
	ip6tablesRestorePath = "/usr/sbin/ip6tables-restore"
	iptablesPath         = "/usr/sbin/iptables"
)

var versionRegexp = regexp.MustCompile(`v([0-9]+)\.([0-9]+)\.([0-9]+)`)

// pendingRule is one rule queued against a table, tagged with the
// operation the next ApplyRules call should perform.
type pendingRule struct {
	table types.Table
	rule  string
	op    types.RuleOp
}

// RuleCache accumulates pending rule changes for one address family until
// ApplyRules flushes them in a single iptables-restore batch.
type RuleCache struct {
	family  types.Family
	pending []pendingRule
}

// NewRuleCache creates an empty cache for the given address family.
func NewRuleCache(family types.Family) *RuleCache {
	return &RuleCache{family: family}
}

// AddRules queues rules to be appended to table, in order.
func (c *RuleCache) AddRules(table types.Table, rules ...string) {
	for _, r := range rules {
		c.pending = append(c.pending, pendingRule{table: table, rule: r, op: types.OpAppend})
	}
}

// InsertRules queues rules to be inserted at the head of table's chain.
func (c *RuleCache) InsertRules(table types.Table, rules ...string) {
	for _, r := range rules {
		c.pending = append(c.pending, pendingRule{table: table, rule: r, op: types.OpInsert})
	}
}

// DeleteRules queues rules to be removed from table, if present.
func (c *RuleCache) DeleteRules(table types.Table, rules ...string) {
	for _, r := range rules {
		c.pending = append(c.pending, pendingRule{table: table, rule: r, op: types.OpDelete})
	}
}

// ApplyRules diffs the pending rules against the kernel's current rule set
// (read via iptables-save) and pushes the net change in a single
// iptables-restore --noflush batch, then clears the cache.
func ApplyRules(caches ...*RuleCache) error {
	logger := log.WithComponent("netfilter")
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.NetfilterApplyDuration)

	version, err := iptablesVersion()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine iptables version, assuming no lock-wait support")
	}

	for _, c := range caches {
		if len(c.pending) == 0 {
			continue
		}

		existing, err := getRuleSet(c.family)
		if err != nil {
			metrics.NetfilterApplyFailuresTotal.Inc()
			return fmt.Errorf("read existing rules: %w", err)
		}

		batch := buildRestoreBatch(existing, c.pending)
		if err := runRestore(c.family, batch, version); err != nil {
			metrics.NetfilterApplyFailuresTotal.Inc()
			return fmt.Errorf("apply rules: %w", err)
		}

		c.pending = nil
	}

	return nil
}

// getRuleSet parses `iptables-save`/`ip6tables-save` output into a RuleSet
// keyed by table, matching lines beginning "-A " (appended rules); chain
// declarations and comments are discarded since dobbyd only ever diffs
// against rules it might itself add.
func getRuleSet(family types.Family) (types.RuleSet, error) {
	save := iptablesSavePath
	if family == types.FamilyIPv6 {
		save = ip6tablesSavePath
	}

	out, err := exec.Command(save).Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", save, err)
	}

	ruleSet := make(types.RuleSet)
	var table types.Table

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "*"):
			table = types.Table(strings.TrimPrefix(line, "*"))
		case strings.HasPrefix(line, "-A "):
			ruleSet[table] = append(ruleSet[table], strings.TrimPrefix(line, "-A "))
		}
	}

	return ruleSet, scanner.Err()
}

// buildRestoreBatch renders an iptables-restore input: each table touched
// by pending gets a "*table" header, its rules (append/insert skipped if
// already present, delete skipped if absent), and a trailing COMMIT.
func buildRestoreBatch(existing types.RuleSet, pending []pendingRule) []byte {
	byTable := make(map[types.Table][]pendingRule)
	var order []types.Table
	for _, p := range pending {
		if _, seen := byTable[p.table]; !seen {
			order = append(order, p.table)
		}
		byTable[p.table] = append(byTable[p.table], p)
	}

	var buf bytes.Buffer
	for _, table := range order {
		buf.WriteString("*")
		buf.WriteString(string(table))
		buf.WriteString("\n")

		has := func(rule string) bool {
			for _, r := range existing[table] {
				if r == rule {
					return true
				}
			}
			return false
		}

		for _, p := range byTable[table] {
			switch p.op {
			case types.OpAppend:
				if !has(p.rule) {
					buf.WriteString("-A " + p.rule + "\n")
				}
			case types.OpInsert:
				if !has(p.rule) {
					buf.WriteString("-I " + p.rule + "\n")
				}
			case types.OpDelete:
				if has(p.rule) {
					buf.WriteString("-D " + p.rule + "\n")
				}
			}
		}

		buf.WriteString("COMMIT\n")
	}

	return buf.Bytes()
}

func runRestore(family types.Family, batch []byte, version [3]int) error {
	restore := iptablesRestorePath
	if family == types.FamilyIPv6 {
		restore = ip6tablesRestorePath
	}

	args := []string{"--noflush"}
	if supportsLockWait(version) {
		args = append(args, "-w", "2", "-W", "100000")
	}

	cmd := exec.Command(restore, args...)
	cmd.Stdin = bytes.NewReader(batch)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", restore, err, stderr.String())
	}
	return nil
}

// supportsLockWait reports whether the installed iptables-restore is new
// enough (>= 1.6.2) to accept -w/-W lock-wait flags, avoiding a race
// against other iptables callers during boot.
func supportsLockWait(version [3]int) bool {
	major, minor, patch := version[0], version[1], version[2]
	return major > 1 || (major == 1 && minor > 6) || (major == 1 && minor == 6 && patch >= 2)
}

func iptablesVersion() ([3]int, error) {
	var version [3]int

	out, err := exec.Command(iptablesPath, "--version").Output()
	if err != nil {
		return version, fmt.Errorf("%s --version: %w", iptablesPath, err)
	}

	m := versionRegexp.FindStringSubmatch(string(out))
	if len(m) != 4 {
		return version, fmt.Errorf("could not parse iptables version from %q", out)
	}

	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return version, err
		}
		version[i] = n
	}
	return version, nil
}
