package metrics

import (
	"time"

	"github.com/rdkcentral/dobbyd/pkg/containermgr"
	"github.com/rdkcentral/dobbyd/pkg/ipallocator"
	"github.com/rdkcentral/dobbyd/pkg/types"
)

// Collector periodically samples the container table and IP allocator
// and updates the corresponding gauges; counters and histograms are
// updated inline by their owning packages instead.
type Collector struct {
	containers *containermgr.Manager
	addresses  *ipallocator.Allocator
	stopCh     chan struct{}
}

// NewCollector wires a Collector against the daemon's live container
// manager and IP allocator.
func NewCollector(containers *containermgr.Manager, addresses *ipallocator.Allocator) *Collector {
	return &Collector{
		containers: containers,
		addresses:  addresses,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the collector's periodic sampling loop.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector's sampling loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts := c.containers.CountsByState()
	for _, state := range []types.State{
		types.StateStarting,
		types.StateRunning,
		types.StateStopping,
		types.StatePaused,
		types.StateHibernated,
	} {
		ContainersTotal.WithLabelValues(state.String()).Set(float64(counts[state]))
	}

	if c.addresses != nil {
		IPPoolAvailable.Set(float64(c.addresses.Available()))
	}
}
