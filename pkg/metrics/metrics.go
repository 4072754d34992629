// Package metrics exports STM commit outcomes as Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tiny_stm/pkg/stm"
)

var _ stm.Observer = (*Collector)(nil)

// Collector counts transactions that reached the commit path, by isolation.
type Collector struct {
	commits    *prometheus.CounterVec
	conflicts  *prometheus.CounterVec
	rejections *prometheus.CounterVec
	exhausted  *prometheus.CounterVec
}

// New registers the counters with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	counter := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stm",
			Subsystem: "txn",
			Name:      name,
			Help:      help,
		}, []string{"isolation"})
	}

	return &Collector{
		commits:    counter("commits_total", "Transactions committed"),
		conflicts:  counter("conflicts_total", "Commit attempts aborted by a conflicting commit"),
		rejections: counter("validation_failures_total", "Transactions failed by a ref validator"),
		exhausted:  counter("retries_exhausted_total", "Transactions that ran out of retries"),
	}
}

func (c *Collector) Committed(iso stm.Isolation) {
	c.commits.WithLabelValues(iso.String()).Inc()
}

func (c *Collector) Conflicted(iso stm.Isolation) {
	c.conflicts.WithLabelValues(iso.String()).Inc()
}

func (c *Collector) Rejected(iso stm.Isolation) {
	c.rejections.WithLabelValues(iso.String()).Inc()
}

func (c *Collector) Exhausted(iso stm.Isolation) {
	c.exhausted.WithLabelValues(iso.String()).Inc()
}
