package netfilter

import (
	"testing"

	"github.com/rdkcentral/dobbyd/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestBuildRestoreBatchSkipsExistingAppend(t *testing.T) {
	existing := types.RuleSet{
		types.TableFilter: {"FORWARD -i dobby0 -j ACCEPT"},
	}
	pending := []pendingRule{
		{table: types.TableFilter, rule: "FORWARD -i dobby0 -j ACCEPT", op: types.OpAppend},
		{table: types.TableFilter, rule: "FORWARD -i veth123 -j DROP", op: types.OpAppend},
	}

	batch := string(buildRestoreBatch(existing, pending))

	assert.Contains(t, batch, "*filter")
	assert.Contains(t, batch, "-A FORWARD -i veth123 -j DROP")
	assert.NotContains(t, batch, "-A FORWARD -i dobby0 -j ACCEPT")
	assert.Contains(t, batch, "COMMIT")
}

func TestBuildRestoreBatchSkipsMissingDelete(t *testing.T) {
	existing := types.RuleSet{
		types.TableNat: {"POSTROUTING -s 100.64.11.2/32 -j MASQUERADE"},
	}
	pending := []pendingRule{
		{table: types.TableNat, rule: "POSTROUTING -s 100.64.11.2/32 -j MASQUERADE", op: types.OpDelete},
		{table: types.TableNat, rule: "POSTROUTING -s 100.64.11.3/32 -j MASQUERADE", op: types.OpDelete},
	}

	batch := string(buildRestoreBatch(existing, pending))

	assert.Contains(t, batch, "-D POSTROUTING -s 100.64.11.2/32 -j MASQUERADE")
	assert.NotContains(t, batch, "100.64.11.3")
}

func TestBuildRestoreBatchInsertsAtHead(t *testing.T) {
	pending := []pendingRule{
		{table: types.TableFilter, rule: "FORWARD -i veth123 -j ACCEPT", op: types.OpInsert},
	}

	batch := string(buildRestoreBatch(types.RuleSet{}, pending))

	assert.Contains(t, batch, "-I FORWARD -i veth123 -j ACCEPT")
}

func TestSupportsLockWait(t *testing.T) {
	cases := []struct {
		version [3]int
		want    bool
	}{
		{[3]int{1, 8, 0}, true},
		{[3]int{1, 6, 2}, true},
		{[3]int{1, 6, 1}, false},
		{[3]int{1, 4, 21}, false},
		{[3]int{2, 0, 0}, true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, supportsLockWait(c.version), "version %v", c.version)
	}
}
