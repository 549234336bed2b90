// Package metrics exposes dobbyd's Prometheus metrics: poll-loop dispatch
// counts, container counts by state, and netfilter apply latency. All
// metrics are package-level vars registered at init, following the
// teacher's own registration style.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dobbyd_containers_total",
			Help: "Total number of containers by lifecycle state",
		},
		[]string{"state"},
	)

	ContainerStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dobbyd_container_start_duration_seconds",
			Help:    "Time taken to start a container, from startFromBundle to Running",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dobbyd_container_stop_duration_seconds",
			Help:    "Time taken to stop a container, from stop() to the reaper observing exit",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainersFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dobbyd_containers_failed_total",
			Help: "Total number of containers that failed to start",
		},
	)

	PluginHookFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dobbyd_plugin_hook_failures_total",
			Help: "Total number of plugin hook failures by hook and plugin",
		},
		[]string{"hook", "plugin"},
	)

	PollLoopDispatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dobbyd_pollloop_dispatch_total",
			Help: "Total number of handler dispatches across all poll loop sources",
		},
	)

	PollLoopFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dobbyd_pollloop_epoll_wait_failures_total",
			Help: "Total number of epoll_wait failures observed by any poll loop",
		},
	)

	PollLoopSourcesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dobbyd_pollloop_sources_active",
			Help: "Number of fds currently registered with the poll loop",
		},
	)

	NetfilterApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dobbyd_netfilter_apply_duration_seconds",
			Help:    "Time taken to apply the netfilter rule cache via iptables-restore",
			Buckets: prometheus.DefBuckets,
		},
	)

	NetfilterApplyFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dobbyd_netfilter_apply_failures_total",
			Help: "Total number of failed netfilter applies (iptables-save or iptables-restore)",
		},
	)

	IPPoolAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dobbyd_ip_pool_available",
			Help: "Number of addresses remaining in the IP allocator's pool",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ContainersTotal,
		ContainerStartDuration,
		ContainerStopDuration,
		ContainersFailed,
		PluginHookFailuresTotal,
		PollLoopDispatchTotal,
		PollLoopFailuresTotal,
		PollLoopSourcesActive,
		NetfilterApplyDuration,
		NetfilterApplyFailuresTotal,
		IPPoolAvailable,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and recording them to a
// histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
