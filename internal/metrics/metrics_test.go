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

package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/plugin-chardev/pkg/chardev"
)

type MetricsTestSuite struct {
	suite.Suite
	reg *prometheus.Registry
	m   *Metrics
}

func (s *MetricsTestSuite) SetupTest() {
	s.reg = prometheus.NewRegistry()
	var err error
	s.m, err = New(s.reg, 1024)
	s.Require().NoError(err)
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func gaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	_ = g.Write(m)
	return m.GetGauge().GetValue()
}

func (s *MetricsTestSuite) TestCapacityGauge() {
	s.Require().Equal(float64(1024), gaugeValue(s.m.capacity))
}

func (s *MetricsTestSuite) TestObserveBufferEvents() {
	s.m.Observe(chardev.Event{Op: chardev.OpWrite, Bytes: 11, Length: 11})
	s.Require().Equal(float64(11), gaugeValue(s.m.length))
	s.m.Observe(chardev.Event{Op: chardev.OpRead, Bytes: 4, Length: 0})
	s.m.Observe(chardev.Event{Op: chardev.OpWrite, Length: 0, Err: fmt.Errorf("%w", chardev.ErrInvalidArgument)})
	s.m.Observe(chardev.Event{Op: chardev.OpRead, Length: -1, Err: chardev.ErrInvalidArgument})

	s.Require().Equal(float64(1), counterValue(s.m.operations.WithLabelValues("write", "ok")))
	s.Require().Equal(float64(1), counterValue(s.m.operations.WithLabelValues("write", "error")))
	s.Require().Equal(float64(11), counterValue(s.m.bytes.WithLabelValues("in")))
	s.Require().Equal(float64(4), counterValue(s.m.bytes.WithLabelValues("out")))
	s.Require().Equal(float64(0), gaugeValue(s.m.length))
}

func (s *MetricsTestSuite) TestTransportMetrics() {
	s.m.HandleOpened("socket")
	s.m.HandleOpened("socket")
	s.m.HandleClosed("socket")
	s.m.ConnectionRejected("socket")
	s.m.ObserveRequest("socket", "write", "ok", 3*time.Millisecond)
	s.m.ObserveRequest("socket", "write", "einval", time.Millisecond)

	s.Require().Equal(float64(1), gaugeValue(s.m.handles.WithLabelValues("socket")))
	s.Require().Equal(float64(1), counterValue(s.m.rejected.WithLabelValues("socket")))
	s.Require().Equal(float64(1), counterValue(s.m.requests.WithLabelValues("socket", "write", "einval")))

	families, err := s.reg.Gather()
	s.Require().NoError(err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	s.Require().True(names["chardev_request_duration_seconds"])
	s.Require().True(names["chardev_open_handles"])
}

func (s *MetricsTestSuite) TestRegisterTwiceFails() {
	_, err := New(s.reg, 1024)
	s.Require().Error(err)
}

func TestMetricsTestSuite(t *testing.T) {
	suite.Run(t, new(MetricsTestSuite))
}
