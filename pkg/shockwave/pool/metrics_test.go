package pool

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetricsReflectsLiveCounts(t *testing.T) {
	p := New(4, DefaultConfig(), nil)
	reg := prometheus.NewRegistry()
	require.NoError(t, p.RegisterMetrics(reg))

	p.AcquireOldest(Free, Idle)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, fam := range families {
		if fam.GetName() != "sxe_httpd_pool_slots" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "state" && l.GetValue() == "IDLE" {
					require.Equal(t, float64(1), m.GetGauge().GetValue())
					found = true
				}
			}
		}
	}
	require.True(t, found, "expected an IDLE-state gauge sample")
}

func TestRegisterMetricsRejectsDuplicateRegistration(t *testing.T) {
	p := New(2, DefaultConfig(), nil)
	reg := prometheus.NewRegistry()
	require.NoError(t, p.RegisterMetrics(reg))
	require.Error(t, p.RegisterMetrics(reg))
}
