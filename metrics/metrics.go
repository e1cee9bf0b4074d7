// Package metrics implements a Prometheus custom Collector exposing each
// active session's Adaptive Controller and transport counters: sending and
// receiving throughput, push interval, Tight quality level, smoothed RTT
// and RTT variance, cumulative bytes sent, and retransmit count.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Session is the subset of server.Session a collected sample is read from.
// Defined here rather than imported to keep this package dependency-free of
// server, which already depends on adaptive/unacked/transport; metrics is
// wired in by the caller (cmd/vncserver) instead.
type Session interface {
	SessionID() string
	SendingThroughput() float64
	ReceivingThroughput() float64
	PushIntervalMillis() float64
	TightQualityLevel() float64
	SRTTMillis() float64
	RTTVarMillis() float64
	BytesSentTotal() float64
	RetransmitTotal() float64
}

type info struct {
	description *prometheus.Desc
	supplier    func(s Session) prometheus.Metric
}

// SessionCollector is a Prometheus Collector whose gauge/counter set is
// computed on demand from every currently registered session, rather than
// cached -- mirroring the source pack's per-connection TCPInfoCollector:
// sessions are added and removed as they connect and disconnect, and
// Collect iterates the live set under a mutex.
type SessionCollector struct {
	mu       sync.Mutex
	sessions map[Session]struct{}
	infos    []info
}

// NewSessionCollector returns a SessionCollector with prefix-scoped metric
// names and the given constant labels (applied to every exported sample).
func NewSessionCollector(prefix string, constLabels prometheus.Labels) *SessionCollector {
	var desc = makeDescriptions(prefix, []string{"session"}, constLabels)

	return &SessionCollector{
		sessions: make(map[Session]struct{}),
		infos: []info{
			{description: desc["sending_throughput_bytes"], supplier: func(s Session) prometheus.Metric {
				return prometheus.MustNewConstMetric(desc["sending_throughput_bytes"], prometheus.GaugeValue, s.SendingThroughput(), s.SessionID())
			}},
			{description: desc["receiving_throughput_bytes"], supplier: func(s Session) prometheus.Metric {
				return prometheus.MustNewConstMetric(desc["receiving_throughput_bytes"], prometheus.GaugeValue, s.ReceivingThroughput(), s.SessionID())
			}},
			{description: desc["push_interval_ms"], supplier: func(s Session) prometheus.Metric {
				return prometheus.MustNewConstMetric(desc["push_interval_ms"], prometheus.GaugeValue, s.PushIntervalMillis(), s.SessionID())
			}},
			{description: desc["tight_quality_level"], supplier: func(s Session) prometheus.Metric {
				return prometheus.MustNewConstMetric(desc["tight_quality_level"], prometheus.GaugeValue, s.TightQualityLevel(), s.SessionID())
			}},
			{description: desc["srtt_ms"], supplier: func(s Session) prometheus.Metric {
				return prometheus.MustNewConstMetric(desc["srtt_ms"], prometheus.GaugeValue, s.SRTTMillis(), s.SessionID())
			}},
			{description: desc["rttvar_ms"], supplier: func(s Session) prometheus.Metric {
				return prometheus.MustNewConstMetric(desc["rttvar_ms"], prometheus.GaugeValue, s.RTTVarMillis(), s.SessionID())
			}},
			{description: desc["bytes_sent_total"], supplier: func(s Session) prometheus.Metric {
				return prometheus.MustNewConstMetric(desc["bytes_sent_total"], prometheus.CounterValue, s.BytesSentTotal(), s.SessionID())
			}},
			{description: desc["retransmits_total"], supplier: func(s Session) prometheus.Metric {
				return prometheus.MustNewConstMetric(desc["retransmits_total"], prometheus.CounterValue, s.RetransmitTotal(), s.SessionID())
			}},
		},
	}
}

func makeDescriptions(prefix string, variableLabels []string, constLabels prometheus.Labels) map[string]*prometheus.Desc {
	var name = func(suffix string) string { return prefix + "_" + suffix }
	return map[string]*prometheus.Desc{
		"sending_throughput_bytes":   prometheus.NewDesc(name("sending_throughput_bytes"), "EWMA sending throughput in bytes/sec.", variableLabels, constLabels),
		"receiving_throughput_bytes": prometheus.NewDesc(name("receiving_throughput_bytes"), "EWMA receiving throughput in bytes/sec, derived from consecutive acks.", variableLabels, constLabels),
		"push_interval_ms":           prometheus.NewDesc(name("push_interval_ms"), "Current adaptive push interval in milliseconds.", variableLabels, constLabels),
		"tight_quality_level":        prometheus.NewDesc(name("tight_quality_level"), "Current Tight encoder quality level (1-3).", variableLabels, constLabels),
		"srtt_ms":                    prometheus.NewDesc(name("srtt_ms"), "Smoothed round-trip time in milliseconds.", variableLabels, constLabels),
		"rttvar_ms":                  prometheus.NewDesc(name("rttvar_ms"), "Round-trip time variance in milliseconds.", variableLabels, constLabels),
		"bytes_sent_total":           prometheus.NewDesc(name("bytes_sent_total"), "Cumulative framebuffer update bytes sent to this session.", variableLabels, constLabels),
		"retransmits_total":          prometheus.NewDesc(name("retransmits_total"), "Cumulative count of unacked entries aged past the retransmit timeout.", variableLabels, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *SessionCollector) Describe(descs chan<- *prometheus.Desc) {
	for _, i := range c.infos {
		descs <- i.description
	}
}

// Collect implements prometheus.Collector: one sample set per registered
// session, read live rather than cached.
func (c *SessionCollector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for s := range c.sessions {
		for _, i := range c.infos {
			metrics <- i.supplier(s)
		}
	}
}

// Add registers a session for collection. Called from Server.register.
func (c *SessionCollector) Add(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[s] = struct{}{}
}

// Remove unregisters a session. Called from Server.unregister.
func (c *SessionCollector) Remove(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, s)
}
