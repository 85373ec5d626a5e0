package valuesync

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStats Stats

func (s fixedStats) Stats() Stats { return Stats(s) }

func TestStatsCollector(t *testing.T) {
	src := fixedStats{Applied: 5, Produced: 2, DecodeFailures: 1}
	collector := NewStatsCollector(src)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(collector))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 3)

	byName := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, l := range m.GetLabel() {
				name += ":" + l.GetValue()
			}
			byName[name] = m.GetCounter().GetValue()
		}
	}

	assert.Equal(t, 5.0, byName["valuesync_events_applied_total"])
	assert.Equal(t, 2.0, byName["valuesync_events_produced_total"])
	assert.Equal(t, 1.0, byName["valuesync_event_failures_total:decode"])
	assert.Equal(t, 0.0, byName["valuesync_event_failures_total:apply"])
}

func TestManagerStatsZero(t *testing.T) {
	var c counters
	assert.Equal(t, Stats{}, c.snapshot())
}
