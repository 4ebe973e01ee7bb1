package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("overdue").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("overdue").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("overdue", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("overdue", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("overdue")))
}

func TestSetOverdue(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SetOverdue(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.overdue))

	var nilMetrics *Metrics
	nilMetrics.SetOverdue(3)
	assert.NoError(t, nilMetrics.Track("x").End(nil))
}
