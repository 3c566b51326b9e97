package pipe

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts the iteration activity of batch sources. One Metrics value
// may be shared by several sources (for instance across the sources of a
// split) so the counters aggregate the whole session.
type Metrics struct {
	BatchesYielded prometheus.Counter
	RowsRead       prometheus.Counter
	ReadErrors     prometheus.Counter
}

// NewMetrics creates unregistered counters. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		BatchesYielded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axispipe_batches_yielded_total",
			Help: "Total number of batches yielded by batch sources",
		}),
		RowsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axispipe_rows_read_total",
			Help: "Total number of rows read from the backing store",
		}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axispipe_read_errors_total",
			Help: "Total number of failed backing-store reads",
		}),
	}
}

// Register registers all counters with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.BatchesYielded, m.RowsRead, m.ReadErrors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
