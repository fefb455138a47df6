package testkit

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"equityaudit/domain/census"
	"equityaudit/domain/core"
)

// TractGeneratorConfig configures the synthetic census tract generator
type TractGeneratorConfig struct {
	TractCount    int     `json:"tract_count"`
	CountyFIPS    string  `json:"county_fips"`
	MedianIncome  float64 `json:"median_income"`
	IncomeSpread  float64 `json:"income_spread"` // sigma of log income
	MinIncome     float64 `json:"min_income"`
	MaxIncome     float64 `json:"max_income"`
	MinPopulation int     `json:"min_population"`
	MaxPopulation int     `json:"max_population"`
	MinorityHigh  float64 `json:"minority_high"` // share in the poorest tract
	MinorityLow   float64 `json:"minority_low"`  // share in the richest tract
	MinorityNoise float64 `json:"minority_noise"`
	Seed          int64   `json:"seed"`
}

// DefaultTractConfig returns a mid-sized county
func DefaultTractConfig() TractGeneratorConfig {
	return TractGeneratorConfig{
		TractCount:    60,
		CountyFIPS:    "37063",
		MedianIncome:  58000,
		IncomeSpread:  0.45,
		MinIncome:     15000,
		MaxIncome:     250000,
		MinPopulation: 2000,
		MaxPopulation: 7000,
		MinorityHigh:  0.85,
		MinorityLow:   0.15,
		MinorityNoise: 0.08,
		Seed:          42,
	}
}

// TractGenerator produces a deterministic synthetic county. Minority share
// falls with income rank, as in most US metros.
type TractGenerator struct {
	config TractGeneratorConfig
}

// NewTractGenerator creates a new tract generator
func NewTractGenerator(config TractGeneratorConfig) *TractGenerator {
	return &TractGenerator{config: config}
}

// Load implements ports.EntitySource.
func (g *TractGenerator) Load(ctx context.Context) (*census.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entities, err := g.Generate()
	if err != nil {
		return nil, err
	}
	ds := &census.Dataset{
		Entities:     entities,
		EntitySource: census.SourceSynthetic,
		EntityOrigin: fmt.Sprintf("synthetic tracts (n=%d, seed=%d)", g.config.TractCount, g.config.Seed),
	}
	return ds, ds.Validate()
}

// Generate returns the synthetic tracts in id order.
func (g *TractGenerator) Generate() ([]census.Entity, error) {
	c := g.config
	if c.TractCount < 1 {
		return nil, core.NewInvalidInputError("tract_count", "must be positive")
	}
	if c.MinPopulation < 0 || c.MaxPopulation < c.MinPopulation {
		return nil, core.NewInvalidInputError("population", "need 0 <= min <= max")
	}
	rng := rand.New(rand.NewSource(c.Seed))

	incomes := make([]float64, c.TractCount)
	for i := range incomes {
		v := math.Exp(math.Log(c.MedianIncome) + rng.NormFloat64()*c.IncomeSpread)
		incomes[i] = math.Round(math.Max(c.MinIncome, math.Min(c.MaxIncome, v)))
	}
	rank := incomeRanks(incomes)

	entities := make([]census.Entity, c.TractCount)
	for i := range entities {
		pop := c.MinPopulation + rng.Intn(c.MaxPopulation-c.MinPopulation+1)
		share := c.MinorityHigh - (c.MinorityHigh-c.MinorityLow)*rank[i] + rng.NormFloat64()*c.MinorityNoise
		share = math.Max(0.01, math.Min(0.99, share))
		entities[i] = census.Entity{
			ID:         core.EntityID(fmt.Sprintf("%s%06d", c.CountyFIPS, (i+1)*100)),
			Name:       fmt.Sprintf("Census Tract %d", i+1),
			Population: pop,
			Attributes: map[census.Attribute]float64{
				census.AttrMedianIncome: incomes[i],
				census.AttrPctMinority:  math.Round(share*1000) / 1000,
			},
		}
	}
	return entities, nil
}

// incomeRanks maps each income to its rank scaled to [0,1].
func incomeRanks(incomes []float64) []float64 {
	order := make([]int, len(incomes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return incomes[order[a]] < incomes[order[b]] })
	ranks := make([]float64, len(incomes))
	if len(incomes) == 1 {
		return ranks
	}
	for r, i := range order {
		ranks[i] = float64(r) / float64(len(incomes)-1)
	}
	return ranks
}
