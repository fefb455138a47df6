package metrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"equityaudit/domain/core"
)

// AdverseImpactThreshold is the four-fifths rule cut-off.
const AdverseImpactThreshold = 0.80

// PerCapita divides a total by the population it serves.
func PerCapita(total float64, population int) (float64, error) {
	if population <= 0 {
		return 0, core.NewInvalidInputError("population", fmt.Sprintf("per-capita needs a positive population, got %d", population))
	}
	return total / float64(population), nil
}

// DisparateImpactResult is the ratio of the protected group's per-capita
// rate to the reference group's.
type DisparateImpactResult struct {
	Ratio         *float64
	AdverseImpact bool
	Threshold     float64
}

// DisparateImpact compares protected and reference per-capita rates. The
// ratio is nil when the reference rate is zero.
func DisparateImpact(protected, reference float64) (DisparateImpactResult, error) {
	res := DisparateImpactResult{Threshold: AdverseImpactThreshold}
	if protected < 0 || reference < 0 || math.IsNaN(protected) || math.IsNaN(reference) {
		return res, core.NewInvalidInputError("disparate_impact", fmt.Sprintf("rates must be non-negative, got %v and %v", protected, reference))
	}
	if reference == 0 {
		return res, nil
	}
	ratio := protected / reference
	res.Ratio = &ratio
	res.AdverseImpact = ratio < AdverseImpactThreshold
	return res, nil
}

// Gini is the mean-absolute-difference Gini coefficient of a non-negative
// distribution: 0 for perfect equality, approaching 1 as one value holds
// everything.
func Gini(values []float64) (float64, error) {
	sorted, total, err := giniInput(values)
	if err != nil {
		return 0, err
	}
	n := float64(len(sorted))
	var weighted float64
	for i, v := range sorted {
		weighted += float64(i+1) * v
	}
	g := 2*weighted/(n*total) - (n+1)/n
	return math.Max(0, g), nil
}

// GiniContributions splits the Gini coefficient into additive per-group
// parts: group g contributes Σ_{i∈g} Σ_j |x_i − x_j| / (2n²μ). groups[i] is
// the group index of values[i]; the parts sum to Gini(values).
func GiniContributions(values []float64, groups []int, groupCount int) ([]float64, error) {
	if len(values) != len(groups) {
		return nil, core.NewInvalidInputError("gini_contributions", "values and groups differ in length")
	}
	sorted, total, err := giniInput(values)
	if err != nil {
		return nil, err
	}
	n := len(sorted)
	prefix := make([]float64, n+1)
	for i, v := range sorted {
		prefix[i+1] = prefix[i] + v
	}

	out := make([]float64, groupCount)
	denom := 2 * float64(n) * total
	for i, v := range values {
		g := groups[i]
		if g < 0 || g >= groupCount {
			return nil, core.NewInvalidInputError("gini_contributions", fmt.Sprintf("group %d out of range", g))
		}
		below := sort.SearchFloat64s(sorted, v)
		above := n - sort.Search(n, func(k int) bool { return sorted[k] > v })
		sumAbs := v*float64(below) - prefix[below] + (total - prefix[n-above]) - v*float64(above)
		out[g] += sumAbs / denom
	}
	return out, nil
}

func giniInput(values []float64) ([]float64, float64, error) {
	if len(values) == 0 {
		return nil, 0, core.NewEmptyInputError("gini")
	}
	for _, v := range values {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, 0, core.NewInvalidInputError("gini", fmt.Sprintf("values must be finite and non-negative, got %v", v))
		}
	}
	total := floats.Sum(values)
	if total == 0 {
		return nil, 0, core.NewInvalidInputError("gini", "distribution sums to zero")
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted, total, nil
}
