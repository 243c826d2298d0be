package server

import "github.com/prometheus/client_golang/prometheus"

// serverMetrics mirrors packetd's convention of a small struct of
// pre-registered collectors handed around by value-free reference,
// rather than package-level globals, so multiple Server instances in one
// process don't collide on registration.
type serverMetrics struct {
	accepts     prometheus.Counter
	closes      prometheus.Counter
	rejected503 prometheus.Counter
	badRequests prometheus.Counter
	bytesIn     prometheus.Counter
	bytesOut    prometheus.Counter
}

func newServerMetrics() *serverMetrics {
	return &serverMetrics{
		accepts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sxe_httpd_accepts_total",
			Help: "Accepted connections.",
		}),
		closes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sxe_httpd_closes_total",
			Help: "Connection records returned to FREE.",
		}),
		rejected503: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sxe_httpd_rejected_503_total",
			Help: "Accepts answered with 503 due to pool exhaustion.",
		}),
		badRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sxe_httpd_bad_requests_total",
			Help: "Requests rejected with 400/413/414.",
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sxe_httpd_bytes_in_total",
			Help: "Bytes read from client sockets.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sxe_httpd_bytes_out_total",
			Help: "Bytes written to client sockets.",
		}),
	}
}

// Register adds every collector to reg, so a caller composing several
// subsystems' metrics can choose its own registry instead of the global
// default (matching packetd's explicit-registry convention).
func (m *serverMetrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.accepts, m.closes, m.rejected503, m.badRequests, m.bytesIn, m.bytesOut,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RegisterMetrics exposes the server's own counters and its pool's
// per-state occupancy gauges on reg.
func (s *Server) RegisterMetrics(reg prometheus.Registerer) error {
	if err := s.metrics.Register(reg); err != nil {
		return err
	}
	return s.pool.RegisterMetrics(reg)
}
