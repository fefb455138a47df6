package report

import (
	"fmt"
	"math"

	"equityaudit/domain/audit"
)

// Finding rules shared by every audit domain. Domain-specific rules live
// with their drivers.

// GapFinding describes the gap on metric, if one was computed.
func GapFinding(metric string) FindingRule {
	return func(r *audit.AuditReport) (string, bool) {
		for _, g := range r.EquityGaps {
			if g.Metric != metric {
				continue
			}
			return fmt.Sprintf("%s gap between %s and %s is %s (%s)",
				g.Metric, g.BestStratum, g.WorstStratum, gapMagnitude(g), significance(g)), true
		}
		return "", false
	}
}

// ExtremeBiasFinding contrasts the signed error of the lowest and highest
// quantile strata.
func ExtremeBiasFinding(tool string) FindingRule {
	return func(r *audit.AuditReport) (string, bool) {
		low, high, ok := extremes(r.ByStratum)
		if !ok || low.MeanErrorPct == nil || high.MeanErrorPct == nil {
			return "", false
		}
		return fmt.Sprintf("%s %s %s by %.1f%% and %s %s by %.1f%%",
			tool, countVerb(*low.MeanErrorPct), low.Label, math.Abs(*low.MeanErrorPct),
			countVerb(*high.MeanErrorPct), high.Label, math.Abs(*high.MeanErrorPct)), true
	}
}

// ErrorRatioFinding reports how many times larger the error is in the
// lowest stratum than in the highest, on MAE.
func ErrorRatioFinding() FindingRule {
	return func(r *audit.AuditReport) (string, bool) {
		low, high, ok := extremes(r.ByStratum)
		if !ok || high.MAE == 0 {
			return "", false
		}
		return fmt.Sprintf("Mean absolute error is %.2f in %s vs %.2f in %s, %.1fx worse in the poorest areas",
			low.MAE, low.Label, high.MAE, high.Label, low.MAE/high.MAE), true
	}
}

// SignificanceFinding flags a headline gap that is not statistically
// significant, so readers do not over-read it.
func SignificanceFinding() FindingRule {
	return func(r *audit.AuditReport) (string, bool) {
		g := r.EquityGap
		if g == nil || g.StatisticallySignificant {
			return "", false
		}
		return fmt.Sprintf("The %s gap between %s and %s is not statistically significant (%s)",
			g.Metric, g.BestStratum, g.WorstStratum, significance(*g)), true
	}
}

// ExclusionFinding notes entities left out for missing attributes.
func ExclusionFinding() FindingRule {
	return func(r *audit.AuditReport) (string, bool) {
		n := r.Summary.ExcludedEntities
		if n == 0 {
			return "", false
		}
		return fmt.Sprintf("%d of %d entities were excluded for missing demographic attributes", n, n+r.Summary.EntityCount), true
	}
}

func extremes(strata []audit.StratumMetrics) (audit.StratumMetrics, audit.StratumMetrics, bool) {
	var present []audit.StratumMetrics
	for _, s := range strata {
		if !s.Absent && s.MetricsRow != nil {
			present = append(present, s)
		}
	}
	if len(present) < 2 {
		return audit.StratumMetrics{}, audit.StratumMetrics{}, false
	}
	return present[0], present[len(present)-1], true
}

func countVerb(bias float64) string {
	if bias < 0 {
		return "undercounts"
	}
	return "overcounts"
}

func gapMagnitude(g audit.EquityGap) string {
	if g.GapPct == nil {
		return fmt.Sprintf("%.3f", g.Gap)
	}
	if g.Unit == "percent" {
		return fmt.Sprintf("%.1f percentage points", *g.GapPct)
	}
	return fmt.Sprintf("%.3f (%.1f%%)", g.Gap, *g.GapPct)
}

func significance(g audit.EquityGap) string {
	if g.PValue == nil {
		return "too few samples to test"
	}
	if g.StatisticallySignificant {
		return fmt.Sprintf("p=%.4f, significant", *g.PValue)
	}
	return fmt.Sprintf("p=%.4f, not significant", *g.PValue)
}
