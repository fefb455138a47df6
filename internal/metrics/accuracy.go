// Package metrics computes accuracy and equity measures over paired
// ground-truth and predicted values. Every function is pure and returns an
// error instead of a default value when the metric is not defined.
package metrics

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"equityaudit/domain/audit"
	"equityaudit/domain/census"
	"equityaudit/domain/core"
)

// Pair is one ground-truth value and the tool's prediction for it.
type Pair struct {
	Truth      float64
	Prediction float64
}

// PairsOf extracts pairs from samples in order.
func PairsOf(samples []census.Sample) []Pair {
	pairs := make([]Pair, len(samples))
	for i, s := range samples {
		pairs[i] = Pair{Truth: s.Truth, Prediction: s.Prediction}
	}
	return pairs
}

// PctResult is a percentage metric plus the number of pairs left out
// because their ground truth was zero. Value is nil when every pair was
// left out.
type PctResult struct {
	Value    *float64
	Excluded int
}

// MAE is the mean absolute error.
func MAE(pairs []Pair) (float64, error) {
	if len(pairs) == 0 {
		return 0, core.NewEmptyInputError("mae")
	}
	var sum float64
	for _, p := range pairs {
		sum += math.Abs(p.Prediction - p.Truth)
	}
	return sum / float64(len(pairs)), nil
}

// RMSE is the root mean squared error.
func RMSE(pairs []Pair) (float64, error) {
	if len(pairs) == 0 {
		return 0, core.NewEmptyInputError("rmse")
	}
	var sum float64
	for _, p := range pairs {
		d := p.Prediction - p.Truth
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(pairs))), nil
}

// MAPE is the mean absolute percentage error over pairs with non-zero truth.
func MAPE(pairs []Pair) (PctResult, error) {
	return pctMean("mape", pairs, func(p Pair) float64 {
		return math.Abs(p.Prediction-p.Truth) / math.Abs(p.Truth) * 100
	})
}

// MeanSignedPctError is the mean of (prediction−truth)/truth in percent.
// Positive means the tool overcounts.
func MeanSignedPctError(pairs []Pair) (PctResult, error) {
	return pctMean("mean_error_pct", pairs, signedPct)
}

func signedPct(p Pair) float64 {
	return (p.Prediction - p.Truth) / p.Truth * 100
}

func pctMean(name string, pairs []Pair, f func(Pair) float64) (PctResult, error) {
	if len(pairs) == 0 {
		return PctResult{}, core.NewEmptyInputError(name)
	}
	var sum float64
	var used, excluded int
	for _, p := range pairs {
		if p.Truth == 0 {
			excluded++
			continue
		}
		sum += f(p)
		used++
	}
	if used == 0 {
		return PctResult{Excluded: excluded}, nil
	}
	mean := sum / float64(used)
	return PctResult{Value: &mean, Excluded: excluded}, nil
}

// RSquared is the coefficient of determination of the least-squares
// regression of prediction on truth. It is nil when either series has zero
// variance.
func RSquared(pairs []Pair) (*float64, error) {
	if len(pairs) == 0 {
		return nil, core.NewEmptyInputError("r_squared")
	}
	x := make([]float64, len(pairs))
	y := make([]float64, len(pairs))
	for i, p := range pairs {
		x[i], y[i] = p.Truth, p.Prediction
	}
	if len(pairs) < 2 || constant(x) || constant(y) {
		return nil, nil
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	r2 := stat.RSquared(x, y, nil, alpha, beta)
	if math.IsNaN(r2) {
		return nil, nil
	}
	return &r2, nil
}

func constant(xs []float64) bool {
	for _, v := range xs[1:] {
		if v != xs[0] {
			return false
		}
	}
	return true
}

// Row computes the full accuracy profile of a group of pairs. Percentage
// metrics are left nil when no pair has non-zero truth.
func Row(pairs []Pair) (audit.MetricsRow, error) {
	var row audit.MetricsRow
	var err error
	if row.MAE, err = MAE(pairs); err != nil {
		return row, err
	}
	if row.RMSE, err = RMSE(pairs); err != nil {
		return row, err
	}
	mape, err := MAPE(pairs)
	if err != nil {
		return row, err
	}
	row.MAPE, row.MAPEExcluded = mape.Value, mape.Excluded
	bias, err := MeanSignedPctError(pairs)
	if err != nil {
		return row, err
	}
	row.MeanErrorPct, row.BiasExcluded = bias.Value, bias.Excluded
	if row.RSquared, err = RSquared(pairs); err != nil {
		return row, err
	}

	truth := make(stats.Float64Data, len(pairs))
	pred := make(stats.Float64Data, len(pairs))
	for i, p := range pairs {
		truth[i], pred[i] = p.Truth, p.Prediction
	}
	if row.MeanTruth, err = truth.Mean(); err != nil {
		return row, err
	}
	if row.MeanPrediction, err = pred.Mean(); err != nil {
		return row, err
	}
	return row, nil
}
