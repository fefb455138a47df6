package metrics

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"equityaudit/domain/core"
)

// SignificanceLevel is the alpha used for every two-sided test.
const SignificanceLevel = 0.05

// TestResult is the outcome of a two-sample Welch t-test.
type TestResult struct {
	T           float64
	DF          float64
	PValue      float64
	Significant bool
}

// WelchTTest tests whether two samples have different means without
// assuming equal variances. When both samples are constant the test is
// degenerate: p is 0 if the means differ and 1 otherwise.
func WelchTTest(a, b []float64) (TestResult, error) {
	if len(a) < 2 || len(b) < 2 {
		return TestResult{}, core.NewInsufficientDataError(min(len(a), len(b)), 2, "welch t-test group")
	}
	meanA, _ := stats.Mean(a)
	meanB, _ := stats.Mean(b)
	varA, _ := stats.SampleVariance(a)
	varB, _ := stats.SampleVariance(b)

	n1, n2 := float64(len(a)), float64(len(b))
	se2 := varA/n1 + varB/n2
	if se2 == 0 {
		res := TestResult{DF: n1 + n2 - 2, PValue: 1}
		if meanA != meanB {
			res.T = math.Copysign(math.Inf(1), meanA-meanB)
			res.PValue = 0
			res.Significant = true
		}
		return res, nil
	}

	t := (meanA - meanB) / math.Sqrt(se2)
	df := se2 * se2 / (math.Pow(varA/n1, 2)/(n1-1) + math.Pow(varB/n2, 2)/(n2-1))

	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * tDist.Survival(math.Abs(t))
	return TestResult{T: t, DF: df, PValue: p, Significant: p < SignificanceLevel}, nil
}

// Pearson is the correlation coefficient of x and y, nil when either has
// zero variance.
func Pearson(x, y []float64) (*float64, error) {
	if len(x) == 0 || len(y) == 0 {
		return nil, core.NewEmptyInputError("pearson")
	}
	if len(x) != len(y) {
		return nil, core.NewInvalidInputError("pearson", "series differ in length")
	}
	if len(x) < 2 || constant(x) || constant(y) {
		return nil, nil
	}
	r, err := stats.Correlation(x, y)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
