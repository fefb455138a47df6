package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectionScorecardLeavesUndefinedBiasNil(t *testing.T) {
	tracts := []demandTract{
		{stratum: 0, potential: 0, actual: 0, naive: 0, sophisticated: 1},
		{stratum: 1, potential: 100, actual: 50, naive: 40, sophisticated: 90},
		{stratum: 1, potential: 200, actual: 40, naive: 70, sophisticated: 150},
	}
	p := DemandParams{
		HighSuppressionPct:  70,
		DetectionMultiplier: 1.5,
		Baseline:            BaselineScore{Correlation: 0.85, LowestBiasPct: -5, HighestBiasPct: -5},
	}

	sc, err := detectionScorecard(tracts, 2, p)
	require.NoError(t, err)
	require.Len(t, sc.Detectors, 2)

	naive := sc.Detectors[0]
	assert.Equal(t, DetectorNaive, naive.Name)
	assert.Nil(t, naive.LowestStratumBias)
	require.NotNil(t, naive.HighestStratumBias)
	assert.InDelta(t, -62.5, *naive.HighestStratumBias, 1e-9)
	assert.Equal(t, 1, naive.HighSuppressionSize)
	assert.InDelta(t, 100.0, naive.DetectionRatePct, 1e-9)

	require.NotNil(t, sc.Baseline.LowestStratumBias)
	assert.InDelta(t, -5.0, *sc.Baseline.LowestStratumBias, 1e-12)
	require.NotNil(t, sc.Baseline.Correlation)
	assert.InDelta(t, 0.85, *sc.Baseline.Correlation, 1e-12)
}

func TestDetectionScorecardEmptyStratum(t *testing.T) {
	tracts := []demandTract{
		{stratum: 1, potential: 100, actual: 50, naive: 40, sophisticated: 90},
		{stratum: 1, potential: 200, actual: 60, naive: 70, sophisticated: 150},
	}
	sc, err := detectionScorecard(tracts, 2, DemandParams{HighSuppressionPct: 70, DetectionMultiplier: 1.5})
	require.NoError(t, err)
	for _, d := range sc.Detectors {
		assert.Nil(t, d.LowestStratumBias, d.Name)
		assert.NotNil(t, d.HighestStratumBias, d.Name)
	}
}
