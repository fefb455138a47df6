package engine

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"equityaudit/domain/audit"
	"equityaudit/domain/census"
	"equityaudit/internal/metrics"
	"equityaudit/internal/report"
	"equityaudit/internal/simulate"
)

// DomainDemand audits trip-demand estimators that only see realised trips.
const DomainDemand = "demand"

// Detector names in the scorecard.
const (
	DetectorNaive         = "naive"
	DetectorSophisticated = "sophisticated"
)

// DemandDriver compares potential demand with estimators trained on actual
// trips, which miss demand suppressed by poor infrastructure.
func DemandDriver() Driver {
	return Driver{
		Name:        DomainDemand,
		Title:       "Suppressed demand audit",
		Calibration: func(p *Parameters) simulate.Calibration { return p.Demand.Calibration },
		GapMetrics:  []metrics.Spec{metrics.SpecMeanErrorPct, metrics.SpecMAE},
		Build:       buildDemand,
		Findings: []report.FindingRule{
			suppressionFinding,
			suppressionByStratumFinding,
			detectorFinding(DetectorNaive),
			detectorFinding(DetectorSophisticated),
			report.GapFinding(metrics.SpecMeanErrorPct.Name),
			report.ExclusionFinding(),
		},
	}
}

// demandTract is the generated demand of one tract.
type demandTract struct {
	entity        census.Entity
	stratum       int
	norm          float64
	attribute     float64
	infra         float64
	potential     float64
	actual        float64
	naive         float64
	sophisticated float64
}

func (t demandTract) suppressed() float64 { return t.potential - t.actual }

func (t demandTract) suppressionPct() float64 {
	if t.potential == 0 {
		return 0
	}
	return t.suppressed() / t.potential * 100
}

func buildDemand(env *Env) (*Outcome, error) {
	p := env.Params.Demand
	norm, err := env.NormalizedAttribute()
	if err != nil {
		return nil, err
	}

	entities := env.Stratified()
	tracts := make([]demandTract, len(entities))
	for i, ent := range entities {
		r := env.Stream(ent.ID, "demand")
		n := norm[ent.ID]
		pop := float64(ent.Population)
		potential := pop * p.BaseRate * (1 + (1-n)*p.IncomeBoost) * uniform(r, p.DestinationLow, p.DestinationHigh)
		infra := clip(p.InfraBase+p.InfraSlope*n+r.NormFloat64()*p.InfraNoiseSD, p.InfraMin, p.InfraMax)
		// Suppression is 1 − s², so realised demand is potential·s².
		actual := potential * infra * infra

		naive, err := env.Predict(ent.ID, "", actual)
		if err != nil {
			return nil, err
		}
		sr := env.Stream(ent.ID, DetectorSophisticated)
		s := p.Sophisticated
		sophisticated := clip(actual+pop*s.PopulationShare+(1-infra)*s.InfraWeight+sr.NormFloat64()*s.NoiseSD,
			0, s.CeilingFactor*potential)

		stratum, _ := env.Strata.Stratum(ent.ID)
		value, _ := ent.Value(env.Params.StratifyOn)
		tracts[i] = demandTract{
			entity:        ent,
			stratum:       stratum,
			norm:          n,
			attribute:     value,
			infra:         infra,
			potential:     potential,
			actual:        actual,
			naive:         naive,
			sophisticated: sophisticated,
		}
	}

	out := &Outcome{
		Sources: Sources{
			Calibrated: []string{"potential demand (population, income, destination access)", "infrastructure quality scores"},
			Simulated:  []string{"naive estimator (bias simulator on actual trips)", "sophisticated estimator (population and infrastructure proxies)"},
		},
		Parameters: map[string]float64{
			"base_rate":            p.BaseRate,
			"income_boost":         p.IncomeBoost,
			"high_suppression_pct": p.HighSuppressionPct,
			"detection_multiplier": p.DetectionMultiplier,
		},
	}
	for _, t := range tracts {
		out.Samples = append(out.Samples, env.Sample(t.entity, "", t.potential, t.naive))
	}

	labels := env.Strata.Labels
	funnel := demandFunnel(tracts, labels, p)
	detection, err := detectionScorecard(tracts, len(labels), p)
	if err != nil {
		return nil, err
	}
	correlations, err := demandCorrelations(tracts, string(env.Params.StratifyOn))
	if err != nil {
		return nil, err
	}
	out.Details.Funnel = funnel
	out.Details.Detection = detection
	out.Details.Correlations = correlations

	out.Extras = map[string]float64{
		"total_potential":  funnel.TotalPotential,
		"total_actual":     funnel.TotalActual,
		"total_suppressed": funnel.TotalSuppressed,
		"suppression_pct":  funnel.SuppressionPct,
	}
	for _, d := range detection.Detectors {
		if d.Correlation != nil {
			out.Extras[d.Name+"_correlation"] = *d.Correlation
		}
		out.Extras[d.Name+"_detection_rate_pct"] = d.DetectionRatePct
	}
	return out, nil
}

// demandFunnel follows potential demand through destination access and
// willingness to use down to realised trips.
func demandFunnel(tracts []demandTract, labels []string, p DemandParams) *audit.FunnelAnalysis {
	type acc struct {
		potential, actual, norm float64
		n                       int
	}
	var all acc
	by := make([]acc, len(labels))
	for _, t := range tracts {
		for _, a := range []*acc{&all, &by[t.stratum]} {
			a.potential += t.potential
			a.actual += t.actual
			a.norm += t.norm
			a.n++
		}
	}
	row := func(label string, a acc) audit.FunnelRow {
		meanNorm, realised := 0.0, 0.0
		if a.n > 0 {
			meanNorm = a.norm / float64(a.n)
		}
		if a.potential > 0 {
			realised = a.actual / a.potential * 100
		}
		f := p.Funnel
		return audit.FunnelRow{
			Label: label,
			Stages: []audit.FunnelStage{
				{Stage: "potential", Percent: 100},
				{Stage: "destination_reachable", Percent: (f.DestinationBase - (1-meanNorm)*f.DestinationSlope) * 100},
				{Stage: "would_use", Percent: (f.WouldUseBase - (1-meanNorm)*f.WouldUseSlope) * 100},
				{Stage: "actual", Percent: realised},
			},
		}
	}

	fa := &audit.FunnelAnalysis{
		Overall:            row("overall", all),
		TotalPotential:     all.potential,
		TotalActual:        all.actual,
		TotalSuppressed:    all.potential - all.actual,
		HighSuppressionPct: p.HighSuppressionPct,
	}
	if all.potential > 0 {
		fa.SuppressionPct = fa.TotalSuppressed / all.potential * 100
	}
	for i, l := range labels {
		fa.ByStratum = append(fa.ByStratum, row(l, by[i]))
	}
	return fa
}

func detectionScorecard(tracts []demandTract, strata int, p DemandParams) (*audit.DetectionScorecard, error) {
	score := func(name string, estimate func(demandTract) float64) (audit.DetectorScore, error) {
		d := audit.DetectorScore{Name: name}
		pairs := make([]metrics.Pair, len(tracts))
		truth := make([]float64, len(tracts))
		pred := make([]float64, len(tracts))
		byStratum := make([][]metrics.Pair, strata)
		detected := 0
		for i, t := range tracts {
			pairs[i] = metrics.Pair{Truth: t.potential, Prediction: estimate(t)}
			truth[i], pred[i] = t.potential, pairs[i].Prediction
			byStratum[t.stratum] = append(byStratum[t.stratum], pairs[i])

			if t.suppressionPct() > p.HighSuppressionPct {
				d.HighSuppressionSize++
				if pairs[i].Prediction > t.actual*p.DetectionMultiplier {
					detected++
				}
			}
		}
		if d.HighSuppressionSize > 0 {
			d.DetectionRatePct = float64(detected) / float64(d.HighSuppressionSize) * 100
		}

		var err error
		if d.Correlation, err = metrics.Pearson(pred, truth); err != nil {
			return d, err
		}
		if d.RMSE, err = metrics.RMSE(pairs); err != nil {
			return d, err
		}
		if d.LowestStratumBias, err = stratumBias(byStratum[0]); err != nil {
			return d, err
		}
		if d.HighestStratumBias, err = stratumBias(byStratum[strata-1]); err != nil {
			return d, err
		}
		return d, nil
	}

	naive, err := score(DetectorNaive, func(t demandTract) float64 { return t.naive })
	if err != nil {
		return nil, err
	}
	soph, err := score(DetectorSophisticated, func(t demandTract) float64 { return t.sophisticated })
	if err != nil {
		return nil, err
	}
	b := p.Baseline
	return &audit.DetectionScorecard{
		Detectors: []audit.DetectorScore{naive, soph},
		Baseline: audit.DetectorScore{
			Name:               "expert_baseline",
			Correlation:        &b.Correlation,
			RMSE:               b.RMSE,
			LowestStratumBias:  &b.LowestBiasPct,
			HighestStratumBias: &b.HighestBiasPct,
			DetectionRatePct:   b.DetectionRatePct,
		},
	}, nil
}

// stratumBias is the mean signed error percentage of one stratum. It is nil
// when the stratum has no pair with non-zero truth.
func stratumBias(pairs []metrics.Pair) (*float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	r, err := metrics.MeanSignedPctError(pairs)
	if err != nil {
		return nil, err
	}
	return r.Value, nil
}

func demandCorrelations(tracts []demandTract, attribute string) (*audit.CorrelationMatrix, error) {
	columns := []struct {
		name  string
		value func(demandTract) float64
	}{
		{"infrastructure_score", func(t demandTract) float64 { return t.infra }},
		{attribute, func(t demandTract) float64 { return t.attribute }},
		{"potential_demand", func(t demandTract) float64 { return t.potential }},
		{"actual_demand", func(t demandTract) float64 { return t.actual }},
		{"suppressed_demand", demandTract.suppressed},
	}
	data := make([][]float64, len(columns))
	m := &audit.CorrelationMatrix{Values: make([][]*float64, len(columns))}
	for i, c := range columns {
		m.Variables = append(m.Variables, c.name)
		data[i] = make([]float64, len(tracts))
		for j, t := range tracts {
			data[i][j] = c.value(t)
		}
	}
	for i := range columns {
		m.Values[i] = make([]*float64, len(columns))
		for j := range columns {
			if j < i {
				m.Values[i][j] = m.Values[j][i]
				continue
			}
			r, err := metrics.Pearson(data[i], data[j])
			if err != nil {
				return nil, fmt.Errorf("correlation %s/%s: %w", columns[i].name, columns[j].name, err)
			}
			m.Values[i][j] = r
		}
	}
	return m, nil
}

func suppressionFinding(r *audit.AuditReport) (string, bool) {
	f := r.Funnel
	if f == nil || f.TotalPotential == 0 {
		return "", false
	}
	return fmt.Sprintf("%.1f%% of potential demand is suppressed (%.0f of %.0f trips never happen)",
		f.SuppressionPct, f.TotalSuppressed, f.TotalPotential), true
}

func suppressionByStratumFinding(r *audit.AuditReport) (string, bool) {
	f := r.Funnel
	if f == nil || len(f.ByStratum) < 2 {
		return "", false
	}
	suppressed := func(row audit.FunnelRow) float64 {
		return 100 - row.Stages[len(row.Stages)-1].Percent
	}
	low, high := f.ByStratum[0], f.ByStratum[len(f.ByStratum)-1]
	rates := []float64{suppressed(low), suppressed(high)}
	return fmt.Sprintf("Suppression is %.1f%% in %s vs %.1f%% in %s, a %.1f point spread",
		rates[0], low.Label, rates[1], high.Label, floats.Max(rates)-floats.Min(rates)), true
}

func detectorFinding(name string) report.FindingRule {
	return func(r *audit.AuditReport) (string, bool) {
		if r.Detection == nil {
			return "", false
		}
		for _, d := range r.Detection.Detectors {
			base := r.Detection.Baseline.Correlation
			if d.Name != name || d.Correlation == nil || base == nil || d.LowestStratumBias == nil {
				continue
			}
			return fmt.Sprintf("The %s estimator correlates r=%.2f with potential demand (baseline %.2f), detects %.0f%% of %d high-suppression tracts and is off by %+.1f%% in the lowest stratum",
				d.Name, *d.Correlation, *base, d.DetectionRatePct, d.HighSuppressionSize, *d.LowestStratumBias), true
		}
		return "", false
	}
}

