package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the last reading as gauges. A nil *Metrics records nothing.
type Metrics struct {
	temperature prometheus.Gauge
	humidity    prometheus.Gauge
	gyro        *prometheus.GaugeVec
	failures    prometheus.Counter
	iterations  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		temperature: newGauge("temperature_celsius", "Air temperature (units: degrees Celsius)"),
		humidity:    newGauge("humidity_percent", "Relative humidity (units: %RH)"),
		gyro: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sharedbus",
			Name:      "angular_rate_dps",
			Help:      "Angular rate (units: degrees per second)",
		}, []string{"axis"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sharedbus",
			Name:      "poll_failures_total",
			Help:      "Poll iterations that ended with an error.",
		}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sharedbus",
			Name:      "poll_readings_total",
			Help:      "Poll iterations that produced a reading.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.temperature, m.humidity, m.gyro, m.failures, m.iterations)
	}
	return m
}

func newGauge(name string, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sharedbus",
		Name:      name,
		Help:      help,
	})
}

func (m *Metrics) observeReading(r Reading) {
	if m == nil {
		return
	}
	m.iterations.Inc()
	m.temperature.Set(float64(r.Temperature))
	m.humidity.Set(float64(r.Humidity))
	m.gyro.WithLabelValues("x").Set(float64(r.Gyro.X))
	m.gyro.WithLabelValues("y").Set(float64(r.Gyro.Y))
	m.gyro.WithLabelValues("z").Set(float64(r.Gyro.Z))
}

func (m *Metrics) observeFailure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}
