/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics exports Prometheus metrics for the buffer and its transports.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/plugin-chardev/pkg/chardev"
)

const namespace = "chardev"

// Metrics implements chardev.Observer and the transports' request recorder.
type Metrics struct {
	operations *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	length     prometheus.Gauge
	capacity   prometheus.Gauge
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	handles    *prometheus.GaugeVec
	rejected   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, capacity int) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "operations_total",
			Help:      "Buffer operations by kind and result.",
		}, []string{"op", "result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "bytes_total",
			Help:      "Bytes written to or drained from the buffer.",
		}, []string{"direction"}),
		length: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "length_bytes",
			Help:      "Logical length of the buffer after the last operation.",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "capacity_bytes",
			Help:      "Fixed capacity of the buffer.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Transport requests by transport, operation and status.",
		}, []string{"transport", "op", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Transport request latency, including time spent waiting for the buffer.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"transport", "op"}),
		handles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_handles",
			Help:      "Currently open handles per transport.",
		}, []string{"transport"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_connections_total",
			Help:      "Connections refused because the handle limit was reached.",
		}, []string{"transport"}),
	}
	for _, c := range []prometheus.Collector{
		m.operations, m.bytes, m.length, m.capacity, m.requests, m.duration, m.handles, m.rejected,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register chardev metrics: %w", err)
		}
	}
	m.capacity.Set(float64(capacity))
	return m, nil
}

// Observe implements chardev.Observer.
func (m *Metrics) Observe(ev chardev.Event) {
	result := "ok"
	if ev.Err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(ev.Op.String(), result).Inc()
	switch ev.Op {
	case chardev.OpWrite:
		m.bytes.WithLabelValues("in").Add(float64(ev.Bytes))
	case chardev.OpRead:
		m.bytes.WithLabelValues("out").Add(float64(ev.Bytes))
	}
	if ev.Length >= 0 {
		m.length.Set(float64(ev.Length))
	}
}

func (m *Metrics) ObserveRequest(transport, op, status string, d time.Duration) {
	m.requests.WithLabelValues(transport, op, status).Inc()
	m.duration.WithLabelValues(transport, op).Observe(d.Seconds())
}

func (m *Metrics) HandleOpened(transport string) {
	m.handles.WithLabelValues(transport).Inc()
}

func (m *Metrics) HandleClosed(transport string) {
	m.handles.WithLabelValues(transport).Dec()
}

func (m *Metrics) ConnectionRejected(transport string) {
	m.rejected.WithLabelValues(transport).Inc()
}
