package testkit

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equityaudit/domain/census"
)

func TestTractGeneratorDeterministic(t *testing.T) {
	a, err := NewTractGenerator(DefaultTractConfig()).Generate()
	require.NoError(t, err)
	b, err := NewTractGenerator(DefaultTractConfig()).Generate()
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed produced different tracts (-a +b):\n%s", diff)
	}

	cfg := DefaultTractConfig()
	cfg.Seed = 7
	c, err := NewTractGenerator(cfg).Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a[0].Attributes, c[0].Attributes)
}

func TestTractGeneratorBounds(t *testing.T) {
	cfg := DefaultTractConfig()
	cfg.TractCount = 200
	tracts, err := NewTractGenerator(cfg).Generate()
	require.NoError(t, err)
	require.Len(t, tracts, 200)

	for _, tr := range tracts {
		require.NoError(t, tr.Validate())
		inc, ok := tr.Value(census.AttrMedianIncome)
		require.True(t, ok)
		assert.GreaterOrEqual(t, inc, cfg.MinIncome)
		assert.LessOrEqual(t, inc, cfg.MaxIncome)
		assert.GreaterOrEqual(t, tr.Population, cfg.MinPopulation)
		assert.LessOrEqual(t, tr.Population, cfg.MaxPopulation)
	}
}

func TestTractGeneratorMinorityFallsWithIncome(t *testing.T) {
	cfg := DefaultTractConfig()
	cfg.TractCount = 100
	cfg.MinorityNoise = 0
	tracts, err := NewTractGenerator(cfg).Generate()
	require.NoError(t, err)

	var poorest, richest census.Entity
	for i, tr := range tracts {
		inc, _ := tr.Value(census.AttrMedianIncome)
		if i == 0 || inc < poorest.Attributes[census.AttrMedianIncome] {
			poorest = tr
		}
		if i == 0 || inc > richest.Attributes[census.AttrMedianIncome] {
			richest = tr
		}
	}
	assert.Greater(t, poorest.Attributes[census.AttrPctMinority], richest.Attributes[census.AttrPctMinority])
}

func TestTractGeneratorLoad(t *testing.T) {
	ds, err := NewTractGenerator(DefaultTractConfig()).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, census.SourceSynthetic, ds.EntitySource)
	assert.Len(t, ds.Entities, 60)

	cfg := DefaultTractConfig()
	cfg.TractCount = 0
	_, err = NewTractGenerator(cfg).Load(context.Background())
	assert.Error(t, err)
}
