package engine

import (
	"fmt"

	"equityaudit/domain/audit"
	"equityaudit/domain/census"
	"equityaudit/internal/metrics"
	"equityaudit/internal/report"
	"equityaudit/internal/simulate"
)

// DomainVolume audits crowdsourced / location-data volume estimates.
const DomainVolume = "volume"

// VolumeDriver compares counter ground truth with a volume tool that
// undercounts low-income and high-minority areas.
func VolumeDriver() Driver {
	return Driver{
		Name:        DomainVolume,
		Title:       "Volume estimation bias audit",
		Calibration: func(p *Parameters) simulate.Calibration { return p.Volume.Calibration },
		GapMetrics:  []metrics.Spec{metrics.SpecMeanErrorPct, metrics.SpecMAE},
		Build:       buildVolume,
		Findings: []report.FindingRule{
			report.ExtremeBiasFinding("The volume tool"),
			report.GapFinding(metrics.SpecMeanErrorPct.Name),
			categoryBiasFinding,
			report.SignificanceFinding(),
			report.ExclusionFinding(),
		},
	}
}

func buildVolume(env *Env) (*Outcome, error) {
	p := env.Params.Volume
	out := &Outcome{
		Sources: Sources{Simulated: []string{"volume tool estimates (bias simulator)"}},
		Parameters: map[string]float64{
			"population_divisor": p.PopulationDivisor,
			"seasonal_low":       p.SeasonalLow,
			"seasonal_high":      p.SeasonalHigh,
		},
	}

	if obs := env.Dataset.ObservationsFor(DomainVolume); len(obs) > 0 {
		out.TruthObserved = true
		out.Sources.Real = append(out.Sources.Real, "counter volumes (observations file)")
		index := env.Dataset.EntityIndex()
		for _, o := range obs {
			ent := index[o.EntityID]
			if _, ok := env.Strata.Stratum(ent.ID); !ok {
				continue
			}
			s, err := volumeSample(env, ent, o.Key, o.Value)
			if err != nil {
				return nil, err
			}
			out.Samples = append(out.Samples, s)
		}
	} else {
		out.Sources.Calibrated = append(out.Sources.Calibrated, "counter volumes (population-scaled, seasonal variation)")
		for _, ent := range env.Stratified() {
			r := env.Stream(ent.ID, "counter")
			truth := float64(ent.Population) / p.PopulationDivisor * uniform(r, p.SeasonalLow, p.SeasonalHigh)
			s, err := volumeSample(env, ent, "", truth)
			if err != nil {
				return nil, err
			}
			out.Samples = append(out.Samples, s)
		}
	}

	var truth, pred float64
	for _, s := range out.Samples {
		truth += s.Truth
		pred += s.Prediction
	}
	out.Extras = map[string]float64{
		"counters":         float64(len(out.Samples)),
		"total_truth":      truth,
		"total_prediction": pred,
	}
	return out, nil
}

func volumeSample(env *Env, ent census.Entity, key string, truth float64) (census.Sample, error) {
	pred, err := env.Predict(ent.ID, key, truth)
	if err != nil {
		return census.Sample{}, err
	}
	return env.Sample(ent, key, truth, pred), nil
}

// categoryBiasFinding reports the categorical gap on signed error.
func categoryBiasFinding(r *audit.AuditReport) (string, bool) {
	for _, g := range r.EquityGaps {
		if g.Kind != audit.KindCategorical || g.Metric != metrics.SpecMeanErrorPct.Name {
			continue
		}
		return fmt.Sprintf("By minority share, %s areas are estimated at %+.1f%% and %s areas at %+.1f%%",
			g.WorstStratum, g.WorstValue, g.BestStratum, g.BestValue), true
	}
	return "", false
}
