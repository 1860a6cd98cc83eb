// Package metrics renders a snapshot of a copy run's progress counters as
// Prometheus text exposition format, the same NewDesc/MustNewConstMetric/
// PedanticRegistry pattern the TCG storage inspector uses to dump its drive
// facts to stdout, adapted here to gauges read off engine.GlobalState. This
// is a one-shot text dump, not an HTTP endpoint: sgdd has no long-lived
// server surface to expose it over.
package metrics

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/sgtools/sgdd/pkg/engine"
)

type collector struct {
	m []prometheus.Metric
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.m {
		ch <- m
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {}

var (
	descInRem = prometheus.NewDesc(
		"sgdd_in_rem_blocks",
		"Blocks on the input side not yet accounted as read-complete",
		nil, nil,
	)
	descOutRem = prometheus.NewDesc(
		"sgdd_out_rem_blocks",
		"Blocks on the output side not yet accounted as write-complete",
		nil, nil,
	)
	descDioIncomplete = prometheus.NewDesc(
		"sgdd_dio_incomplete_total",
		"Commands that fell back from requested direct I/O to indirect I/O",
		nil, nil,
	)
	descResidSum = prometheus.NewDesc(
		"sgdd_resid_sum_bytes",
		"Sum of residual (unfilled) bytes reported by completed commands",
		nil, nil,
	)
)

// snapshot collects the four progress gauges SPEC_FULL.md's ambient
// observability section names and returns them, ready to register.
func snapshot(g *engine.GlobalState) *collector {
	c := &collector{}
	c.m = append(c.m,
		prometheus.MustNewConstMetric(descInRem, prometheus.GaugeValue, float64(g.In.Rem())),
		prometheus.MustNewConstMetric(descOutRem, prometheus.GaugeValue, float64(g.Out.Rem())),
		prometheus.MustNewConstMetric(descDioIncomplete, prometheus.GaugeValue, float64(atomic.LoadInt64(&g.DioIncomplete))),
		prometheus.MustNewConstMetric(descResidSum, prometheus.GaugeValue, float64(atomic.LoadInt64(&g.ResidSum))),
	)
	return c
}

// WriteText gathers a snapshot of g's progress counters through a pedantic
// registry and writes it to w in Prometheus text exposition format.
func WriteText(w io.Writer, g *engine.GlobalState) error {
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(snapshot(g)); err != nil {
		return fmt.Errorf("metrics: register: %w", err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gather: %w", err)
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: encode: %w", err)
		}
	}
	return nil
}
