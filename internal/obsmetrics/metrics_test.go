package obsmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegistryRecordsStageOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.StageOutcomes.WithLabelValues("cache", "hit").Inc()
	r.StageOutcomes.WithLabelValues("cache", "hit").Inc()
	r.StageOutcomes.WithLabelValues("rest", "unresolved").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(r.StageOutcomes.WithLabelValues("cache", "hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.StageOutcomes.WithLabelValues("rest", "unresolved")))
}

func TestCircuitStateValue(t *testing.T) {
	assert.Equal(t, float64(0), CircuitStateValue("closed"))
	assert.Equal(t, float64(1), CircuitStateValue("half-open"))
	assert.Equal(t, float64(2), CircuitStateValue("open"))
}
