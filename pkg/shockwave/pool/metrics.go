package pool

import "github.com/prometheus/client_golang/prometheus"

// RegisterMetrics exposes the pool's per-state slot occupancy as gauges,
// one per State, read live off the pool's own size counters rather than
// updated inline on every transition (mirroring packetd's GaugeFunc use
// for values that are cheap to recompute on scrape rather than track).
func (p *Pool) RegisterMetrics(reg prometheus.Registerer) error {
	for s := State(0); s < numStates; s++ {
		state := s
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "sxe_httpd_pool_slots",
			Help:        "Connection-pool slots currently in each state.",
			ConstLabels: prometheus.Labels{"state": state.String()},
		}, func() float64 { return float64(p.Count(state)) })
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}
