package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SamplesIngested.Inc()
	m.SamplesDropped.WithLabelValues("stopped").Inc()
	m.State.Set(1)

	var out dto.Metric
	require.NoError(t, m.SamplesIngested.Write(&out))
	require.Equal(t, float64(1), out.GetCounter().GetValue())
}
