package shared

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mklimuk/sharedbus"
)

// Metrics holds the arbiter's collectors. A nil *Metrics records nothing.
type Metrics struct {
	transactions *prometheus.CounterVec
	lockWait     *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sharedbus",
			Name:      "transactions_total",
			Help:      "Bus transactions by client and result.",
		}, []string{"client", "result"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sharedbus",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the bus before a transaction started.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"client"}),
	}
	if reg != nil {
		reg.MustRegister(m.transactions, m.lockWait)
	}
	return m
}

func (m *Metrics) observeWait(client string, d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(client).Observe(d.Seconds())
}

func (m *Metrics) observeResult(client string, err error) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(client, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch sharedbus.KindOf(err) {
	case nil:
		if err != nil {
			return "error"
		}
		return "ok"
	case sharedbus.ErrNoAcknowledge:
		return "nack"
	case sharedbus.ErrTimeout:
		return "timeout"
	case sharedbus.ErrMalformedResponse:
		return "malformed"
	default:
		return "fault"
	}
}
