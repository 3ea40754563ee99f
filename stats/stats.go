/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package stats exports Prometheus counters and gauges for a running port
// engine instance: per-message-type TX/RX counts, the servo's latest
// offset/delay, and dispatcher role.
package stats

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ptp "github.com/ptpcore/port/ptp/protocol"
)

// Stats collects and exports port engine counters. A zero Stats is not
// usable; use New.
type Stats struct {
	registry *prometheus.Registry

	rx     *prometheus.CounterVec
	tx     *prometheus.CounterVec
	reload prometheus.Counter

	offset    prometheus.Gauge
	pathDelay prometheus.Gauge
	role      *prometheus.GaugeVec
}

// New creates a Stats instance with its own registry, so multiple port
// instances in the same process don't collide on metric names.
func New() *Stats {
	s := &Stats{registry: prometheus.NewRegistry()}

	s.rx = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ptp_port_rx_total",
		Help: "Count of received PTP messages by type",
	}, []string{"message_type"})
	s.tx = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ptp_port_tx_total",
		Help: "Count of transmitted PTP messages by type",
	}, []string{"message_type"})
	s.reload = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ptp_port_reload_total",
		Help: "Count of configuration reloads",
	})
	s.offset = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ptp_port_offset_from_master_ns",
		Help: "Most recent offsetFromMaster measurement, in nanoseconds",
	})
	s.pathDelay = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ptp_port_mean_path_delay_ns",
		Help: "Most recent meanPathDelay measurement, in nanoseconds",
	})
	s.role = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ptp_port_role",
		Help: "1 if this port currently holds the named role, 0 otherwise",
	}, []string{"role"})

	s.registry.MustRegister(s.rx, s.tx, s.reload, s.offset, s.pathDelay, s.role)
	return s
}

// IncRX records a received message of type t.
func (s *Stats) IncRX(t ptp.MessageType) {
	s.rx.WithLabelValues(strings.ToLower(t.String())).Inc()
}

// IncTX records a transmitted message of type t.
func (s *Stats) IncTX(t ptp.MessageType) {
	s.tx.WithLabelValues(strings.ToLower(t.String())).Inc()
}

// IncReload records a configuration reload.
func (s *Stats) IncReload() {
	s.reload.Inc()
}

// SetMeasurement records the most recent offset/delay measurement, in
// nanoseconds.
func (s *Stats) SetMeasurement(offsetNS, pathDelayNS float64) {
	s.offset.Set(offsetNS)
	s.pathDelay.Set(pathDelayNS)
}

// SetRole records the dispatcher's current role, clearing the other three.
func (s *Stats) SetRole(current string) {
	for _, r := range []string{"listening", "master", "passive", "slave"} {
		v := 0.0
		if r == current {
			v = 1.0
		}
		s.role.WithLabelValues(r).Set(v)
	}
}

// Handler returns an http.Handler serving this Stats' metrics in the
// Prometheus exposition format.
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ListenAndServe starts a dedicated metrics HTTP server on port and blocks.
func (s *Stats) ListenAndServe(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
