package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestDuplicatedKeysGaugeIsLabeledPerModule(t *testing.T) {
	DuplicatedKeysGauge.WithLabelValues("1").Set(3)
	DuplicatedKeysGauge.WithLabelValues("2").Set(0)

	require.Equal(t, float64(3), testutil.ToFloat64(DuplicatedKeysGauge.WithLabelValues("1")))
	require.Equal(t, float64(0), testutil.ToFloat64(DuplicatedKeysGauge.WithLabelValues("2")))
}

func TestTickFailuresTotalIncrementsByStage(t *testing.T) {
	before := testutil.ToFloat64(TickFailuresTotal.WithLabelValues("lido_wc"))
	TickFailuresTotal.WithLabelValues("lido_wc").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(TickFailuresTotal.WithLabelValues("lido_wc")))
}
