// Package metrics exposes a prometheus.Collector that gathers gauges and
// counters from the live components at scrape time.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TrunkProvider exposes the SIP trunk registration state.
type TrunkProvider interface {
	Registered() bool
	Status() string
}

// CallProvider exposes the number of active calls.
type CallProvider interface {
	ActiveCallCount() int
}

// RTPStats is an aggregate snapshot across active media sessions.
type RTPStats struct {
	SessionsActive int
	PacketsIn      uint64
	PacketsOut     uint64
	PacketsDropped uint64
	FramesDropped  uint64
	BytesIn        uint64
	BytesOut       uint64
}

// RTPStatsProvider exposes aggregate RTP statistics.
type RTPStatsProvider interface {
	RTPStats() RTPStats
}

// HistoryProvider exposes totals from the persisted call history.
type HistoryProvider interface {
	Count(ctx context.Context) (int64, error)
	TotalCostCents(ctx context.Context) (float64, error)
}

// DashboardProvider exposes the connected dashboard client count.
type DashboardProvider interface {
	ClientCount() int
}

// Collector gathers all VoxGate metrics at scrape time. Any provider may
// be nil if the component is not running.
type Collector struct {
	trunk     TrunkProvider
	calls     CallProvider
	rtp       RTPStatsProvider
	history   HistoryProvider
	dashboard DashboardProvider
	startTime time.Time

	trunkRegisteredDesc   *prometheus.Desc
	callActiveDesc        *prometheus.Desc
	rtpSessionsDesc       *prometheus.Desc
	rtpPacketsInDesc      *prometheus.Desc
	rtpPacketsOutDesc     *prometheus.Desc
	rtpPacketsDroppedDesc *prometheus.Desc
	rtpFramesDroppedDesc  *prometheus.Desc
	rtpBytesInDesc        *prometheus.Desc
	rtpBytesOutDesc       *prometheus.Desc
	callsTotalDesc        *prometheus.Desc
	costTotalDesc         *prometheus.Desc
	dashboardClientsDesc  *prometheus.Desc
	uptimeDesc            *prometheus.Desc
}

// NewCollector creates the collector.
func NewCollector(
	trunk TrunkProvider,
	calls CallProvider,
	rtp RTPStatsProvider,
	history HistoryProvider,
	dash DashboardProvider,
	startTime time.Time,
) *Collector {
	return &Collector{
		trunk:     trunk,
		calls:     calls,
		rtp:       rtp,
		history:   history,
		dashboard: dash,
		startTime: startTime,

		trunkRegisteredDesc: prometheus.NewDesc(
			"voxgate_trunk_registered",
			"SIP trunk registration state (1=registered)",
			[]string{"status"}, nil,
		),
		callActiveDesc: prometheus.NewDesc(
			"voxgate_calls_active",
			"Number of currently active calls",
			nil, nil,
		),
		rtpSessionsDesc: prometheus.NewDesc(
			"voxgate_rtp_sessions_active",
			"Number of active RTP media sessions",
			nil, nil,
		),
		rtpPacketsInDesc: prometheus.NewDesc(
			"voxgate_rtp_packets_in_total",
			"RTP packets received across active sessions",
			nil, nil,
		),
		rtpPacketsOutDesc: prometheus.NewDesc(
			"voxgate_rtp_packets_out_total",
			"RTP packets sent across active sessions",
			nil, nil,
		),
		rtpPacketsDroppedDesc: prometheus.NewDesc(
			"voxgate_rtp_packets_dropped_total",
			"Received RTP packets dropped across active sessions",
			nil, nil,
		),
		rtpFramesDroppedDesc: prometheus.NewDesc(
			"voxgate_tx_frames_dropped_total",
			"Playback frames dropped from the TX queue across active sessions",
			nil, nil,
		),
		rtpBytesInDesc: prometheus.NewDesc(
			"voxgate_rtp_bytes_in_total",
			"RTP payload bytes received across active sessions",
			nil, nil,
		),
		rtpBytesOutDesc: prometheus.NewDesc(
			"voxgate_rtp_bytes_out_total",
			"RTP payload bytes sent across active sessions",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"voxgate_calls_total",
			"Total number of persisted calls",
			nil, nil,
		),
		costTotalDesc: prometheus.NewDesc(
			"voxgate_call_cost_cents_total",
			"Cumulative AI cost of all persisted calls in cents",
			nil, nil,
		),
		dashboardClientsDesc: prometheus.NewDesc(
			"voxgate_dashboard_clients",
			"Number of connected dashboard websocket clients",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"voxgate_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.trunkRegisteredDesc
	ch <- c.callActiveDesc
	ch <- c.rtpSessionsDesc
	ch <- c.rtpPacketsInDesc
	ch <- c.rtpPacketsOutDesc
	ch <- c.rtpPacketsDroppedDesc
	ch <- c.rtpFramesDroppedDesc
	ch <- c.rtpBytesInDesc
	ch <- c.rtpBytesOutDesc
	ch <- c.callsTotalDesc
	ch <- c.costTotalDesc
	ch <- c.dashboardClientsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries the providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.trunk != nil {
		val := 0.0
		if c.trunk.Registered() {
			val = 1.0
		}
		ch <- prometheus.MustNewConstMetric(
			c.trunkRegisteredDesc, prometheus.GaugeValue, val, c.trunk.Status(),
		)
	}

	if c.calls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.callActiveDesc, prometheus.GaugeValue,
			float64(c.calls.ActiveCallCount()),
		)
	}

	if c.rtp != nil {
		stats := c.rtp.RTPStats()
		ch <- prometheus.MustNewConstMetric(c.rtpSessionsDesc, prometheus.GaugeValue, float64(stats.SessionsActive))
		ch <- prometheus.MustNewConstMetric(c.rtpPacketsInDesc, prometheus.CounterValue, float64(stats.PacketsIn))
		ch <- prometheus.MustNewConstMetric(c.rtpPacketsOutDesc, prometheus.CounterValue, float64(stats.PacketsOut))
		ch <- prometheus.MustNewConstMetric(c.rtpPacketsDroppedDesc, prometheus.CounterValue, float64(stats.PacketsDropped))
		ch <- prometheus.MustNewConstMetric(c.rtpFramesDroppedDesc, prometheus.CounterValue, float64(stats.FramesDropped))
		ch <- prometheus.MustNewConstMetric(c.rtpBytesInDesc, prometheus.CounterValue, float64(stats.BytesIn))
		ch <- prometheus.MustNewConstMetric(c.rtpBytesOutDesc, prometheus.CounterValue, float64(stats.BytesOut))
	}

	if c.history != nil {
		if count, err := c.history.Count(ctx); err != nil {
			slog.Error("metrics: counting calls", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(c.callsTotalDesc, prometheus.CounterValue, float64(count))
		}
		if cost, err := c.history.TotalCostCents(ctx); err != nil {
			slog.Error("metrics: summing call cost", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(c.costTotalDesc, prometheus.CounterValue, cost)
		}
	}

	if c.dashboard != nil {
		ch <- prometheus.MustNewConstMetric(
			c.dashboardClientsDesc, prometheus.GaugeValue,
			float64(c.dashboard.ClientCount()),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
