package engine

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/montanaflynn/stats"

	"equityaudit/domain/audit"
	"equityaudit/domain/census"
	"equityaudit/internal/metrics"
	"equityaudit/internal/report"
	"equityaudit/internal/simulate"
)

// DomainCrash audits a crash-prediction model.
const DomainCrash = "crash"

// CrashDriver compares annual crash counts with a model that
// under-predicts crashes in low-income tracts.
func CrashDriver() Driver {
	return Driver{
		Name:        DomainCrash,
		Title:       "Crash prediction bias audit",
		Calibration: func(p *Parameters) simulate.Calibration { return p.Crash.Calibration },
		GapMetrics:  []metrics.Spec{metrics.SpecMAE, metrics.SpecMeanErrorPct},
		Build:       buildCrash,
		Findings: []report.FindingRule{
			report.ErrorRatioFinding(),
			report.ExtremeBiasFinding("The crash model"),
			report.GapFinding(metrics.SpecMAE.Name),
			recallFinding,
			report.SignificanceFinding(),
			report.ExclusionFinding(),
		},
	}
}

func buildCrash(env *Env) (*Outcome, error) {
	p := env.Params.Crash
	out := &Outcome{
		Sources: Sources{Simulated: []string{"crash model predictions (bias simulator)"}},
		Parameters: map[string]float64{
			"base_rate":              p.BaseRate,
			"income_multiplier_max":  p.IncomeMultiplierMax,
			"income_multiplier_span": p.IncomeMultiplierSpan,
			"temporal_noise_sd":      p.TemporalNoiseSD,
			"years":                  float64(len(p.Years)),
		},
	}

	if obs := env.Dataset.ObservationsFor(DomainCrash); len(obs) > 0 {
		out.TruthObserved = true
		out.Sources.Real = append(out.Sources.Real, "crash counts (observations file)")
		index := env.Dataset.EntityIndex()
		for _, o := range obs {
			ent := index[o.EntityID]
			if _, ok := env.Strata.Stratum(ent.ID); !ok {
				continue
			}
			pred, err := env.Predict(ent.ID, o.Key, o.Value)
			if err != nil {
				return nil, err
			}
			out.Samples = append(out.Samples, env.Sample(ent, o.Key, o.Value, pred))
		}
	} else {
		out.Sources.Calibrated = append(out.Sources.Calibrated, "crash counts (income-weighted base rate, temporal noise)")
		norm, err := env.NormalizedAttribute()
		if err != nil {
			return nil, err
		}
		for _, ent := range env.Stratified() {
			multiplier := p.IncomeMultiplierMax - p.IncomeMultiplierSpan*norm[ent.ID]
			for _, year := range p.Years {
				key := strconv.Itoa(year)
				r := env.Stream(ent.ID, key)
				temporal := 1 + r.NormFloat64()*p.TemporalNoiseSD
				truth := math.Max(0, math.Round(p.BaseRate*multiplier*temporal))
				pred, err := env.Predict(ent.ID, key, truth)
				if err != nil {
					return nil, err
				}
				out.Samples = append(out.Samples, env.Sample(ent, key, truth, pred))
			}
		}
	}

	classification, err := classifyCrashes(out.Samples, env.Strata.Labels, p.MinClassifySamples)
	if err != nil {
		return nil, err
	}
	out.Details.Classification = classification
	out.Details.TimeSeries = crashTimeSeries(out.Samples, env.Strata.Labels)

	var truth, pred float64
	for _, s := range out.Samples {
		truth += s.Truth
		pred += s.Prediction
	}
	out.Extras = map[string]float64{
		"total_crashes":       truth,
		"predicted_crashes":   pred,
		"high_risk_threshold": classification.Overall.Threshold,
		"periods":             float64(len(out.Details.TimeSeries) / len(env.Strata.Labels)),
	}
	return out, nil
}

// classifyCrashes labels samples high-risk above the median crash count,
// once with the global median and once within each stratum.
func classifyCrashes(samples []census.Sample, labels []string, minSamples int) (*audit.ClassificationAnalysis, error) {
	overall, err := confusionAtMedian("overall", samples)
	if err != nil {
		return nil, err
	}
	res := &audit.ClassificationAnalysis{Overall: overall}

	byStratum := make([][]census.Sample, len(labels))
	for _, s := range samples {
		byStratum[s.Stratum] = append(byStratum[s.Stratum], s)
	}
	for i, group := range byStratum {
		if len(group) < minSamples {
			res.Skipped = append(res.Skipped, labels[i])
			continue
		}
		m, err := confusionAtMedian(labels[i], group)
		if err != nil {
			return nil, err
		}
		// A stratum where the median splits nothing has a single class.
		if m.TP+m.FN == 0 || m.TN+m.FP == 0 {
			res.Skipped = append(res.Skipped, labels[i])
			continue
		}
		res.ByStratum = append(res.ByStratum, m)
	}
	return res, nil
}

func confusionAtMedian(label string, samples []census.Sample) (audit.ConfusionMatrix, error) {
	truths := make(stats.Float64Data, len(samples))
	for i, s := range samples {
		truths[i] = s.Truth
	}
	median, err := stats.Median(truths)
	if err != nil {
		return audit.ConfusionMatrix{}, fmt.Errorf("%s median: %w", label, err)
	}
	m, err := metrics.Confusion(metrics.PairsOf(samples), median)
	if err != nil {
		return m, err
	}
	m.Label = label
	return m, nil
}

// crashTimeSeries totals truth and prediction per period and stratum.
func crashTimeSeries(samples []census.Sample, labels []string) []audit.TimeSeriesPoint {
	type cell struct{ truth, pred float64 }
	byPeriod := map[string][]cell{}
	for _, s := range samples {
		cells, ok := byPeriod[s.Key]
		if !ok {
			cells = make([]cell, len(labels))
			byPeriod[s.Key] = cells
		}
		cells[s.Stratum].truth += s.Truth
		cells[s.Stratum].pred += s.Prediction
	}
	periods := make([]string, 0, len(byPeriod))
	for k := range byPeriod {
		periods = append(periods, k)
	}
	sort.Strings(periods)

	points := make([]audit.TimeSeriesPoint, 0, len(periods)*len(labels))
	for _, period := range periods {
		for i, c := range byPeriod[period] {
			pt := audit.TimeSeriesPoint{Period: period, Stratum: labels[i], Truth: c.truth, Prediction: c.pred}
			if c.truth != 0 {
				pt.ErrorPct = (c.pred - c.truth) / c.truth * 100
			}
			points = append(points, pt)
		}
	}
	return points
}

// recallFinding contrasts high-risk recall in the lowest and highest
// classified strata.
func recallFinding(r *audit.AuditReport) (string, bool) {
	c := r.Classification
	if c == nil || len(c.ByStratum) < 2 {
		return "", false
	}
	low, high := c.ByStratum[0], c.ByStratum[len(c.ByStratum)-1]
	return fmt.Sprintf("High-risk recall is %.0f%% in %s vs %.0f%% in %s",
		low.Recall*100, low.Label, high.Recall*100, high.Label), true
}
