package metrics

import (
	"errors"
	"fmt"
	"math"

	"equityaudit/domain/audit"
	"equityaudit/domain/census"
	"equityaudit/domain/core"
)

// Unit tells how a metric's gap is expressed relative to the metric.
type Unit string

const (
	// UnitPercent metrics are already relative to truth; their gap is in
	// percentage points.
	UnitPercent Unit = "percent"
	UnitCount   Unit = "count"
	UnitPerCap  Unit = "per_capita"
)

// Spec declares a metric that can be compared across strata.
type Spec struct {
	Name      string
	Direction audit.Direction
	Unit      Unit
	// PerSample gives the per-sample value used in the significance test.
	PerSample func(census.Sample) (float64, bool)
	// Aggregate gives the stratum-level value.
	Aggregate func([]census.Sample) (float64, error)
}

// Better reports whether a is strictly more favourable than b.
func (s Spec) Better(a, b float64) bool {
	if s.Direction == audit.HigherIsBetter {
		return a > b
	}
	return a < b
}

// Built-in metric specs.
var (
	SpecMAE = Spec{
		Name:      "mae",
		Direction: audit.LowerIsBetter,
		Unit:      UnitCount,
		PerSample: func(s census.Sample) (float64, bool) { return math.Abs(s.SignedError()), true },
		Aggregate: func(s []census.Sample) (float64, error) { return MAE(PairsOf(s)) },
	}

	// SpecMeanErrorPct treats overcounting as favourable: an undercounted
	// stratum looks like it needs fewer resources than it does.
	SpecMeanErrorPct = Spec{
		Name:      "mean_error_pct",
		Direction: audit.HigherIsBetter,
		Unit:      UnitPercent,
		PerSample: func(s census.Sample) (float64, bool) {
			if s.Truth == 0 {
				return 0, false
			}
			return signedPct(Pair{Truth: s.Truth, Prediction: s.Prediction}), true
		},
		Aggregate: func(s []census.Sample) (float64, error) {
			r, err := MeanSignedPctError(PairsOf(s))
			return pctValue("mean_error_pct", r, err)
		},
	}

	SpecMAPE = Spec{
		Name:      "mape",
		Direction: audit.LowerIsBetter,
		Unit:      UnitPercent,
		PerSample: func(s census.Sample) (float64, bool) {
			if s.Truth == 0 {
				return 0, false
			}
			return math.Abs(s.SignedError()) / math.Abs(s.Truth) * 100, true
		},
		Aggregate: func(s []census.Sample) (float64, error) {
			r, err := MAPE(PairsOf(s))
			return pctValue("mape", r, err)
		},
	}

	SpecPerCapita = Spec{
		Name:      "per_capita",
		Direction: audit.HigherIsBetter,
		Unit:      UnitPerCap,
		PerSample: func(s census.Sample) (float64, bool) {
			if s.Population <= 0 {
				return 0, false
			}
			return s.Prediction / float64(s.Population), true
		},
		Aggregate: func(s []census.Sample) (float64, error) {
			var total float64
			var pop int
			for _, x := range s {
				total += x.Prediction
				pop += x.Population
			}
			return PerCapita(total, pop)
		},
	}
)

// pctValue unwraps a percentage result for aggregation. A stratum where
// every pair was excluded has no value and does not compete in a gap.
func pctValue(name string, r PctResult, err error) (float64, error) {
	if err != nil {
		return 0, err
	}
	if r.Value == nil {
		return 0, core.NewEmptyInputError(name + ": every pair has zero ground truth")
	}
	return *r.Value, nil
}

// LookupSpec returns a built-in spec by name.
func LookupSpec(name string) (Spec, error) {
	for _, s := range []Spec{SpecMAE, SpecMeanErrorPct, SpecMAPE, SpecPerCapita} {
		if s.Name == name {
			return s, nil
		}
	}
	return Spec{}, core.NewInvalidInputError("metric", fmt.Sprintf("unknown metric %q", name))
}

// Group is the samples of one stratum.
type Group struct {
	Label   string
	Kind    audit.StratumKind
	Samples []census.Sample
}

// Gap compares the most and least favourable strata on one metric and tests
// the difference. Strata with no samples, or where the metric is undefined,
// do not compete.
func Gap(spec Spec, groups []Group) (audit.EquityGap, error) {
	type candidate struct {
		group Group
		value float64
	}
	var cands []candidate
	for _, g := range groups {
		if len(g.Samples) == 0 {
			continue
		}
		v, err := spec.Aggregate(g.Samples)
		if errors.Is(err, core.ErrEmptyInput) {
			continue
		}
		if err != nil {
			return audit.EquityGap{}, fmt.Errorf("%s for %s: %w", spec.Name, g.Label, err)
		}
		cands = append(cands, candidate{group: g, value: v})
	}
	if len(cands) < 2 {
		return audit.EquityGap{}, core.NewInsufficientDataError(len(cands), 2, spec.Name+" strata")
	}

	best := 0
	for i := 1; i < len(cands); i++ {
		if spec.Better(cands[i].value, cands[best].value) {
			best = i
		}
	}
	worst := -1
	for i := range cands {
		if i == best {
			continue
		}
		if worst < 0 || spec.Better(cands[worst].value, cands[i].value) {
			worst = i
		}
	}

	b, w := cands[best], cands[worst]
	gap := audit.EquityGap{
		Metric:       spec.Name,
		Direction:    spec.Direction,
		Unit:         string(spec.Unit),
		Kind:         b.group.Kind,
		BestStratum:  b.group.Label,
		WorstStratum: w.group.Label,
		BestValue:    b.value,
		WorstValue:   w.value,
		Gap:          math.Abs(b.value - w.value),
		Test:         "welch_t",
	}
	switch {
	case spec.Unit == UnitPercent:
		pct := gap.Gap
		gap.GapPct = &pct
	case w.value != 0:
		pct := gap.Gap / math.Abs(w.value) * 100
		gap.GapPct = &pct
	}

	res, err := WelchTTest(perSample(spec, b.group.Samples), perSample(spec, w.group.Samples))
	if errors.Is(err, core.ErrInsufficientData) {
		gap.Test = "insufficient_samples"
		return gap, nil
	}
	if err != nil {
		return audit.EquityGap{}, err
	}
	gap.PValue = &res.PValue
	gap.DegreesOfFreedom = &res.DF
	if !math.IsInf(res.T, 0) {
		gap.TStatistic = &res.T
	}
	gap.StatisticallySignificant = res.Significant
	return gap, nil
}

func perSample(spec Spec, samples []census.Sample) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if v, ok := spec.PerSample(s); ok {
			out = append(out, v)
		}
	}
	return out
}
