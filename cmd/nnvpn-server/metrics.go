package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the single-session model: sessions is 0 or 1, never more,
// since the supervisor serves one client at a time.
type Metrics struct {
	sessions   prometheus.Gauge
	packets    *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	drops      *prometheus.CounterVec
	handshakes *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		sessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nnvpn_sessions_active",
			Help: "Active forwarding sessions (0 or 1)",
		}),
		packets: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nnvpn_packets_total",
			Help: "Packets forwarded",
		}, []string{"direction"}),
		bytes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nnvpn_bytes_total",
			Help: "Bytes forwarded",
		}, []string{"direction"}),
		drops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nnvpn_drops_total",
			Help: "Sessions ended by a forwarding fault, by fault kind",
		}, []string{"reason"}),
		handshakes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nnvpn_handshakes_total",
			Help: "TLS handshake outcomes",
		}, []string{"result"}),
	}
}

func (m *Metrics) onHandshake(result string) {
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) onDrop(reason string) {
	m.drops.WithLabelValues(reason).Inc()
}

func (m *Metrics) onTunToTLS(n int) {
	m.packets.WithLabelValues("tun_to_tls").Inc()
	m.bytes.WithLabelValues("tun_to_tls").Add(float64(n))
}

func (m *Metrics) onTLSToTun(n int) {
	m.packets.WithLabelValues("tls_to_tun").Inc()
	m.bytes.WithLabelValues("tls_to_tun").Add(float64(n))
}
