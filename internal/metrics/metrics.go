// Package metrics exports the tracker's cycle activity as Prometheus
// collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/gps-tracker/internal/cycle"
)

// Metrics implements cycle.Observer.
type Metrics struct {
	state      *prometheus.GaugeVec
	cycles     *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	exhausted  *prometheus.CounterVec
	counters   *prometheus.GaugeVec
	restarts   *prometheus.CounterVec
	battery    prometheus.Gauge
	lastFix    prometheus.Gauge
	linkUp     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tracker_cycle_state",
			Help: "1 for the stage the cycle is currently in, 0 otherwise.",
		}, []string{"state"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_cycles_total",
			Help: "Finished cycles by outcome.",
		}, []string{"outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_deliveries_total",
			Help: "Sink delivery attempts by sink and result.",
		}, []string{"sink", "result"}),
		exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_budget_exhausted_total",
			Help: "Retry budgets spent, by failure category.",
		}, []string{"category"}),
		counters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tracker_failure_count",
			Help: "Current value of each failure counter.",
		}, []string{"counter"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_restarts_total",
			Help: "Generation restarts by failure category.",
		}, []string{"category"}),
		battery: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_battery_percent",
			Help: "Battery level reported with the last fix.",
		}),
		lastFix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_last_fix_timestamp_seconds",
			Help: "Unix time of the last acquired fix.",
		}),
		linkUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_link_up",
			Help: "1 if the cellular bearer was open at the end of the last cycle.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.state, m.cycles, m.deliveries, m.exhausted, m.counters, m.restarts, m.battery, m.lastFix, m.linkUp,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// StateChanged sets the state gauge.
func (m *Metrics) StateChanged(s cycle.State) {
	for _, st := range cycle.States() {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(st.String()).Set(v)
	}
}

// CycleFinished records the cycle outcome, each sink's result and the
// counter values.
func (m *Metrics) CycleFinished(r cycle.Result, counters map[string]int) {
	m.cycles.WithLabelValues(string(r.Outcome)).Inc()
	if r.Exhausted != "" {
		m.exhausted.WithLabelValues(string(r.Exhausted)).Inc()
	}
	for _, d := range r.Deliveries {
		result := "ok"
		if d.Err != nil {
			result = "error"
		}
		m.deliveries.WithLabelValues(d.Sink, result).Inc()
	}
	if r.Sample != nil {
		m.battery.Set(float64(r.Sample.Battery))
		m.lastFix.Set(float64(r.Sample.Time.Unix()))
	}
	if r.LinkUp {
		m.linkUp.Set(1)
	} else {
		m.linkUp.Set(0)
	}
	for name, v := range counters {
		m.counters.WithLabelValues(name).Set(float64(v))
	}
}

// Restarted counts a generation restart.
func (m *Metrics) Restarted(category string) {
	m.restarts.WithLabelValues(category).Inc()
}
