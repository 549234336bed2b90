package netengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVethNameForIsShortAndDeterministic(t *testing.T) {
	name := vethNameFor("my-very-long-container-identifier")
	assert.LessOrEqual(t, len(name), 15, "veth name must fit IFNAMSIZ")
	assert.Equal(t, name, vethNameFor("my-very-long-container-identifier"))
}

func TestVethNameForDiffersAcrossContainers(t *testing.T) {
	assert.NotEqual(t, vethNameFor("container-a"), vethNameFor("container-b"))
}

func TestDnatRuleFormat(t *testing.T) {
	rule := dnatRule("100.64.11.5", PortMapping{Protocol: "tcp", HostPort: 8080, ContainerPort: 80})
	assert.Equal(t, "PREROUTING ! -i dobby0 -p tcp --dport 8080 -j DNAT --to-destination 100.64.11.5:80", rule)
}

func TestAcceptRuleFormat(t *testing.T) {
	rule := acceptRule("100.64.11.5", PortMapping{Protocol: "tcp", HostPort: 8080, ContainerPort: 80})
	assert.Equal(t, "FORWARD -p tcp -d 100.64.11.5 --dport 80 -j ACCEPT", rule)
}

func TestLoopbackRuleFormat(t *testing.T) {
	rule := loopbackRule("100.64.11.5", "100.64.11.1", PortMapping{Protocol: "udp", HostPort: 53, ContainerPort: 5353})
	assert.Equal(t, "PREROUTING -s 100.64.11.5 -d 100.64.11.1 -p udp --dport 53 -j DNAT --to-destination 127.0.0.1:5353", rule)
}
