package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equityaudit/domain/census"
	"equityaudit/domain/core"
)

func tractsWithDanger(dangers ...float64) []tract {
	out := make([]tract, len(dangers))
	for i, d := range dangers {
		out[i] = tract{
			entity:    census.Entity{ID: core.EntityID(fmt.Sprintf("T%02d", i)), Population: 100},
			stratum:   i * 2 / len(dangers),
			income:    float64(i),
			danger:    d,
			perceived: d,
		}
	}
	return out
}

var testProjects = map[string]ProjectType{
	"big":   {Cost: 100, SafetyImpact: 0.4},
	"small": {Cost: 10, SafetyImpact: 0.2},
}

func byDanger(t tract) float64 { return t.danger }

func TestAllocateTiersAndBudget(t *testing.T) {
	tracts := tractsWithDanger(1, 2, 3, 4)
	tiers := []ProjectTier{{Percentile: 0, Project: "small"}, {Percentile: 75, Project: "big"}}

	awards, err := allocate(tracts, 1000, testProjects, tiers, byDanger, byDanger)
	require.NoError(t, err)
	assert.Equal(t, "small", awards[0].project)
	assert.Equal(t, "big", awards[3].project)
	assert.InDelta(t, 0.4, awards[3].impact, 1e-12)

	var total float64
	for _, a := range awards {
		total += a.cost
	}
	assert.LessOrEqual(t, total, 1000.0)
}

func TestAllocateSkipsUnaffordable(t *testing.T) {
	tracts := tractsWithDanger(1, 2, 3, 4)
	tiers := []ProjectTier{{Percentile: 0, Project: "small"}, {Percentile: 75, Project: "big"}}

	// Both big projects overrun the budget; the small ones still get funded.
	awards, err := allocate(tracts, 35, testProjects, tiers, byDanger, byDanger)
	require.NoError(t, err)
	assert.Equal(t, award{}, awards[3])
	assert.Equal(t, award{}, awards[2])
	for _, a := range awards[:2] {
		assert.Equal(t, "small", a.project)
	}
}

func TestAllocateFollowsPriority(t *testing.T) {
	tracts := tractsWithDanger(4, 3, 2, 1)
	tiers := []ProjectTier{{Percentile: 0, Project: "small"}}

	awards, err := allocate(tracts, 20, testProjects, tiers, byDanger, byDanger)
	require.NoError(t, err)
	assert.Equal(t, "small", awards[0].project)
	assert.Equal(t, "small", awards[1].project)
	assert.Empty(t, awards[2].project)
	assert.Empty(t, awards[3].project)
}

func TestAllocationAnalysis(t *testing.T) {
	tracts := tractsWithDanger(4, 3, 2, 1)
	ai := []award{{}, {}, {"small", 10, 0.2}, {"big", 100, 0.4}}
	need := []award{{"big", 100, 0.4}, {"small", 10, 0.2}, {}, {}}

	a, err := allocationAnalysis(tracts, ai, need, []string{"Q1", "Q2"}, 200)
	require.NoError(t, err)
	require.Len(t, a.ByStratum, 2)

	assert.InDelta(t, 0.0, a.ByStratum[0].AITotal, 1e-9)
	assert.InDelta(t, 110.0, a.ByStratum[1].AITotal, 1e-9)
	assert.InDelta(t, 55.0, a.ByStratum[1].AIShareOfBudget, 1e-9)
	assert.InDelta(t, 3.5, a.ByStratum[0].MeanDangerScore, 1e-9)
	assert.InDelta(t, 1.5, a.ByStratum[1].MeanDangerScore, 1e-9)
	require.NotNil(t, a.ByStratum[0].AIPerCapita)
	assert.InDelta(t, 0.0, *a.ByStratum[0].AIPerCapita, 1e-9)
	require.NotNil(t, a.ByStratum[1].AIPerCapita)
	assert.InDelta(t, 0.55, *a.ByStratum[1].AIPerCapita, 1e-9)
	require.NotNil(t, a.ByStratum[0].NeedPerCapita)
	assert.InDelta(t, 0.55, *a.ByStratum[0].NeedPerCapita, 1e-9)
	assert.InDelta(t, 0.55, a.AI.ReferencePerCapita, 1e-9)

	// AI funds dangers 2 and 1; need funds dangers 4 and 3.
	assert.InDelta(t, 2*0.2+1*0.4, a.AI.ExpectedDangerReduction, 1e-9)
	assert.InDelta(t, 4*0.4+3*0.2, a.NeedBased.ExpectedDangerReduction, 1e-9)

	assert.InDelta(t, 0.0, a.AI.LowestStratumShare, 1e-9)
	assert.InDelta(t, 100.0, a.NeedBased.LowestStratumShare, 1e-9)
	require.NotNil(t, a.AI.DisparateImpactRatio)
	assert.InDelta(t, 0.0, *a.AI.DisparateImpactRatio, 1e-9)
	assert.True(t, a.AI.AdverseImpact)
	// The need-based reference stratum got nothing.
	assert.Nil(t, a.NeedBased.DisparateImpactRatio)

	// Dangers 4 and 3 reach p75 and the AI funded neither.
	assert.Equal(t, 2, a.AI.UnfundedHighNeedTracts)
	assert.Equal(t, 0, a.NeedBased.UnfundedHighNeedTracts)
	assert.InDelta(t, a.AI.GiniCoefficient, a.NeedBased.GiniCoefficient, 1e-9)
	require.NotNil(t, a.EquityGap)
	assert.InDelta(t, 0.0, *a.EquityGap, 1e-9)
}

func TestAllocationAnalysisNeedsPopulation(t *testing.T) {
	tracts := tractsWithDanger(2, 1)
	tracts[1].entity.Population = 0
	none := []award{{}, {}}
	_, err := allocationAnalysis(tracts, none, none, []string{"Q1", "Q2"}, 100)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestStratumPerCapitaEmptyStratum(t *testing.T) {
	v, err := stratumPerCapita(500, 0)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = stratumPerCapita(500, 100)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.InDelta(t, 5.0, *v, 1e-12)
}

func crashSamples(stratum int, truths ...float64) []census.Sample {
	out := make([]census.Sample, len(truths))
	for i, v := range truths {
		out[i] = census.Sample{
			EntityID:   core.EntityID(fmt.Sprintf("S%d-%d", stratum, i)),
			Stratum:    stratum,
			Truth:      v,
			Prediction: v,
		}
	}
	return out
}

func TestClassifyCrashes(t *testing.T) {
	var samples []census.Sample
	samples = append(samples, crashSamples(0, 1, 2, 3, 4)...)
	samples = append(samples, crashSamples(1, 5, 5, 5, 5)...)
	samples = append(samples, crashSamples(2, 9)...)

	c, err := classifyCrashes(samples, []string{"Q1", "Q2", "Q3"}, 2)
	require.NoError(t, err)

	assert.Equal(t, 9, c.Overall.Samples)
	assert.InDelta(t, 5.0, c.Overall.Threshold, 1e-9)
	assert.InDelta(t, 1.0, c.Overall.Accuracy, 1e-9)

	require.Len(t, c.ByStratum, 1)
	assert.Equal(t, "Q1", c.ByStratum[0].Label)
	assert.InDelta(t, 2.5, c.ByStratum[0].Threshold, 1e-9)
	// Q2 has a single class and Q3 too few samples.
	assert.Equal(t, []string{"Q2", "Q3"}, c.Skipped)
}

func TestCrashTimeSeries(t *testing.T) {
	samples := []census.Sample{
		{Key: "2020", Stratum: 0, Truth: 10, Prediction: 8},
		{Key: "2019", Stratum: 0, Truth: 5, Prediction: 5},
		{Key: "2019", Stratum: 1, Truth: 4, Prediction: 6},
		{Key: "2020", Stratum: 0, Truth: 10, Prediction: 8},
	}
	ts := crashTimeSeries(samples, []string{"Q1", "Q2"})
	require.NotEmpty(t, ts)
	assert.Equal(t, "2019", ts[0].Period)
	last := ts[len(ts)-1]
	assert.Equal(t, "2020", last.Period)

	var found bool
	for _, p := range ts {
		if p.Period == "2020" && p.Stratum == "Q1" {
			found = true
			assert.InDelta(t, 20.0, p.Truth, 1e-9)
			assert.InDelta(t, 16.0, p.Prediction, 1e-9)
			assert.InDelta(t, -20.0, p.ErrorPct, 1e-9)
		}
	}
	assert.True(t, found)
}
