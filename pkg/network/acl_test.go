package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ruleStrings(rules []aclRule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.direction + " " + r.action + " " + r.destination
	}
	return out
}

func TestBuildRestrictedRules(t *testing.T) {
	rules := buildRestrictedRules("10.152.37.1", false)
	got := ruleStrings(rules)

	assert.Contains(t, got, "egress allow 10.152.37.1/32")
	assert.Contains(t, got, "egress reject 10.0.0.0/8")
	assert.Contains(t, got, "egress reject 172.16.0.0/12")
	assert.Contains(t, got, "egress reject 192.168.0.0/16")
	assert.Contains(t, got, "egress reject 169.254.0.0/16")
	// Everything else is allowed, and last.
	assert.Equal(t, "egress allow ", got[len(got)-1])
}

func TestBuildRestrictedRulesAllowLocalNetwork(t *testing.T) {
	rules := buildRestrictedRules("", true)
	got := ruleStrings(rules)

	assert.Contains(t, got, "egress allow 10.0.0.0/8")
	assert.Contains(t, got, "egress allow 192.168.0.0/16")
	// The metadata range stays blocked even with local access on.
	assert.Contains(t, got, "egress reject 169.254.0.0/16")
	assert.NotContains(t, got, "egress reject 10.0.0.0/8")
}

func TestBuildRestrictedRulesNoGateway(t *testing.T) {
	rules := buildRestrictedRules("", false)
	for _, r := range rules {
		assert.NotContains(t, r.destination, "/32")
	}
}

func TestBuildAllowlistRules(t *testing.T) {
	rules := buildAllowlistRules("10.152.37.1", []string{
		"140.82.121.3",
		"140.82.121.4",
		"140.82.121.3", // duplicate
	})
	got := ruleStrings(rules)

	assert.Contains(t, got, "egress allow 10.152.37.1/32")
	assert.Contains(t, got, "egress allow 140.82.121.3/32")
	assert.Contains(t, got, "egress allow 140.82.121.4/32")

	// Duplicates collapse to one rule.
	count := 0
	for _, r := range got {
		if r == "egress allow 140.82.121.3/32" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	// No blanket allow: the implicit OVN default handles the deny.
	assert.NotContains(t, got, "egress allow ")
	assert.Contains(t, got, "egress reject 169.254.0.0/16")
}

func TestBuildAllowlistRulesSorted(t *testing.T) {
	rules := buildAllowlistRules("", []string{"9.9.9.9", "1.1.1.1"})
	got := ruleStrings(rules)

	assert.Equal(t, "egress allow 1.1.1.1/32", got[0])
	assert.Equal(t, "egress allow 9.9.9.9/32", got[1])
}

func TestACLNameEncodesContainerAndMode(t *testing.T) {
	a := NewACLManager("capsule-a1b2c3d4-1", "allowlist")
	assert.Equal(t, "capsule-capsule-a1b2c3d4-1-allowlist", a.Name())

	b := NewACLManager("capsule-a1b2c3d4-1", "restricted")
	assert.NotEqual(t, a.Name(), b.Name())
}
