package engine

import (
	"fmt"
	"sort"

	"equityaudit/domain/census"
	"equityaudit/domain/core"
	"equityaudit/internal/simulate"
	"equityaudit/internal/stratify"
)

// Parameters is the full configuration of an audit run: stratification plus
// one parameter block per domain. It is read-only once loaded.
type Parameters struct {
	StrataCount        int                  `yaml:"strata_count"`
	StratifyOn         census.Attribute     `yaml:"stratify_on"`
	CategoryOn         census.Attribute     `yaml:"category_on"`
	CategoryThresholds stratify.Thresholds  `yaml:"category_thresholds"`
	Volume             VolumeParams         `yaml:"volume"`
	Crash              CrashParams          `yaml:"crash"`
	Infrastructure     InfrastructureParams `yaml:"infrastructure"`
	Demand             DemandParams         `yaml:"demand"`
}

// VolumeParams configures the volume-estimation audit.
type VolumeParams struct {
	Calibration       simulate.Calibration `yaml:"calibration"`
	PopulationDivisor float64              `yaml:"population_divisor"`
	SeasonalLow       float64              `yaml:"seasonal_low"`
	SeasonalHigh      float64              `yaml:"seasonal_high"`
}

// CrashParams configures the crash-prediction audit.
type CrashParams struct {
	Calibration          simulate.Calibration `yaml:"calibration"`
	Years                []int                `yaml:"years"`
	BaseRate             float64              `yaml:"base_rate"`
	IncomeMultiplierMax  float64              `yaml:"income_multiplier_max"`
	IncomeMultiplierSpan float64              `yaml:"income_multiplier_span"`
	TemporalNoiseSD      float64              `yaml:"temporal_noise_sd"`
	MinClassifySamples   int                  `yaml:"min_classify_samples"`
}

// ProjectType is a kind of safety project with a fixed unit cost.
type ProjectType struct {
	Cost         float64 `yaml:"cost"`
	SafetyImpact float64 `yaml:"safety_impact"`
}

// ProjectTier picks a project type for tracts at or above a percentile of
// the ranking attribute. Tiers are checked from the highest percentile down.
type ProjectTier struct {
	Percentile float64 `yaml:"percentile"`
	Project    string  `yaml:"project"`
}

// InfrastructureParams configures the budget-allocation audit.
type InfrastructureParams struct {
	Calibration         simulate.Calibration   `yaml:"calibration"`
	Budget              float64                `yaml:"budget"`
	BaseDanger          float64                `yaml:"base_danger"`
	IncomeMultiplierMin float64                `yaml:"income_multiplier_min"`
	IncomeMultiplierMax float64                `yaml:"income_multiplier_max"`
	PopulationScale     float64                `yaml:"population_scale"`
	PopulationWeight    float64                `yaml:"population_weight"`
	DangerNoiseLow      float64                `yaml:"danger_noise_low"`
	DangerNoiseHigh     float64                `yaml:"danger_noise_high"`
	Projects            map[string]ProjectType `yaml:"projects"`
	AITiers             []ProjectTier          `yaml:"ai_tiers"`
	NeedTiers           []ProjectTier          `yaml:"need_tiers"`
	LowestShareFloor    float64                `yaml:"lowest_share_floor"`
}

// SophisticatedParams configures the estimator that tries to infer
// suppressed demand from population and infrastructure proxies.
type SophisticatedParams struct {
	PopulationShare float64 `yaml:"population_share"`
	InfraWeight     float64 `yaml:"infra_weight"`
	NoiseSD         float64 `yaml:"noise_sd"`
	CeilingFactor   float64 `yaml:"ceiling_factor"`
}

// FunnelParams are the stage coefficients of the demand funnel. Each stage
// share is base − (1 − mean normalised income)·slope.
type FunnelParams struct {
	DestinationBase  float64 `yaml:"destination_base"`
	DestinationSlope float64 `yaml:"destination_slope"`
	WouldUseBase     float64 `yaml:"would_use_base"`
	WouldUseSlope    float64 `yaml:"would_use_slope"`
}

// BaselineScore is the fixed expert benchmark the detectors are compared to.
type BaselineScore struct {
	Correlation      float64 `yaml:"correlation"`
	RMSE             float64 `yaml:"rmse"`
	LowestBiasPct    float64 `yaml:"lowest_bias_pct"`
	HighestBiasPct   float64 `yaml:"highest_bias_pct"`
	DetectionRatePct float64 `yaml:"detection_rate_pct"`
}

// DemandParams configures the suppressed-demand audit.
type DemandParams struct {
	Calibration         simulate.Calibration `yaml:"calibration"`
	BaseRate            float64              `yaml:"base_rate"`
	IncomeBoost         float64              `yaml:"income_boost"`
	DestinationLow      float64              `yaml:"destination_low"`
	DestinationHigh     float64              `yaml:"destination_high"`
	InfraBase           float64              `yaml:"infra_base"`
	InfraSlope          float64              `yaml:"infra_slope"`
	InfraNoiseSD        float64              `yaml:"infra_noise_sd"`
	InfraMin            float64              `yaml:"infra_min"`
	InfraMax            float64              `yaml:"infra_max"`
	HighSuppressionPct  float64              `yaml:"high_suppression_pct"`
	DetectionMultiplier float64              `yaml:"detection_multiplier"`
	Sophisticated       SophisticatedParams  `yaml:"sophisticated"`
	Funnel              FunnelParams         `yaml:"funnel"`
	Baseline            BaselineScore        `yaml:"baseline"`
}

// Labels returns the quantile stratum labels for this run.
func (p *Parameters) Labels() stratify.Labels {
	return stratify.QuantileLabels(p.StrataCount)
}

// Validate checks the cross-domain invariants. Calibration tables are
// validated again when each simulator is built.
func (p *Parameters) Validate() error {
	if p.StrataCount < 2 {
		return fmt.Errorf("%w: strata_count must be at least 2, got %d", core.ErrInvalidStratification, p.StrataCount)
	}
	if p.StratifyOn == "" {
		return core.NewInvalidInputError("stratify_on", "cannot be empty")
	}
	if p.CategoryOn != "" {
		if err := p.CategoryThresholds.Validate(); err != nil {
			return err
		}
	}
	labels := p.Labels()
	for _, c := range []struct {
		domain string
		cal    simulate.Calibration
	}{
		{DomainVolume, p.Volume.Calibration},
		{DomainCrash, p.Crash.Calibration},
		{DomainInfrastructure, p.Infrastructure.Calibration},
		{DomainDemand, p.Demand.Calibration},
	} {
		if err := c.cal.Validate(labels); err != nil {
			return fmt.Errorf("%s: %w", c.domain, err)
		}
	}
	if err := p.Volume.validate(); err != nil {
		return err
	}
	if err := p.Crash.validate(); err != nil {
		return err
	}
	if err := p.Infrastructure.validate(); err != nil {
		return err
	}
	return p.Demand.validate()
}

func (v VolumeParams) validate() error {
	if v.PopulationDivisor <= 0 {
		return core.NewInvalidInputError("volume.population_divisor", "must be positive")
	}
	return checkRange("volume.seasonal", v.SeasonalLow, v.SeasonalHigh)
}

func (c CrashParams) validate() error {
	if len(c.Years) == 0 {
		return core.NewInvalidInputError("crash.years", "need at least one analysis year")
	}
	if c.BaseRate <= 0 {
		return core.NewInvalidInputError("crash.base_rate", "must be positive")
	}
	if c.TemporalNoiseSD < 0 {
		return core.NewInvalidInputError("crash.temporal_noise_sd", "must be non-negative")
	}
	if c.MinClassifySamples < 2 {
		return core.NewInvalidInputError("crash.min_classify_samples", "must be at least 2")
	}
	return nil
}

func (i InfrastructureParams) validate() error {
	if i.Budget <= 0 {
		return core.NewInvalidInputError("infrastructure.budget", "must be positive")
	}
	if i.BaseDanger <= 0 {
		return core.NewInvalidInputError("infrastructure.base_danger", "must be positive")
	}
	if i.PopulationScale <= 0 {
		return core.NewInvalidInputError("infrastructure.population_scale", "must be positive")
	}
	if err := checkRange("infrastructure.income_multiplier", i.IncomeMultiplierMin, i.IncomeMultiplierMax); err != nil {
		return err
	}
	if err := checkRange("infrastructure.danger_noise", i.DangerNoiseLow, i.DangerNoiseHigh); err != nil {
		return err
	}
	for name, tiers := range map[string][]ProjectTier{"ai_tiers": i.AITiers, "need_tiers": i.NeedTiers} {
		if len(tiers) == 0 {
			return core.NewInvalidInputError("infrastructure."+name, "need at least one tier")
		}
		for _, t := range tiers {
			p, ok := i.Projects[t.Project]
			if !ok {
				return core.NewInvalidInputError("infrastructure."+name, fmt.Sprintf("unknown project %q", t.Project))
			}
			if p.Cost <= 0 {
				return core.NewInvalidInputError("infrastructure.projects", fmt.Sprintf("%s cost must be positive", t.Project))
			}
			if t.Percentile < 0 || t.Percentile > 100 {
				return core.NewInvalidInputError("infrastructure."+name, fmt.Sprintf("percentile %v outside [0,100]", t.Percentile))
			}
		}
	}
	return nil
}

func (d DemandParams) validate() error {
	if d.BaseRate <= 0 || d.BaseRate > 1 {
		return core.NewInvalidInputError("demand.base_rate", "must be in (0,1]")
	}
	if err := checkRange("demand.destination", d.DestinationLow, d.DestinationHigh); err != nil {
		return err
	}
	if err := checkRange("demand.infra", d.InfraMin, d.InfraMax); err != nil {
		return err
	}
	if d.InfraMax > 1 {
		return core.NewInvalidInputError("demand.infra_max", "infrastructure score cannot exceed 1")
	}
	if d.HighSuppressionPct <= 0 || d.HighSuppressionPct >= 100 {
		return core.NewInvalidInputError("demand.high_suppression_pct", "must be in (0,100)")
	}
	if d.Sophisticated.CeilingFactor <= 0 {
		return core.NewInvalidInputError("demand.sophisticated.ceiling_factor", "must be positive")
	}
	return nil
}

func checkRange(field string, lo, hi float64) error {
	if lo < 0 || hi < lo {
		return core.NewInvalidInputError(field, fmt.Sprintf("need 0 <= low <= high, got [%v, %v]", lo, hi))
	}
	return nil
}

// tiersDescending returns tiers sorted from the highest percentile down.
func tiersDescending(tiers []ProjectTier) []ProjectTier {
	out := append([]ProjectTier(nil), tiers...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Percentile > out[j].Percentile })
	return out
}

// provenanceParams flattens the parameters that shaped a domain's numbers.
func provenanceParams(base map[string]float64, strata int, seed int64) map[string]float64 {
	out := map[string]float64{
		"strata_count": float64(strata),
		"seed":         float64(seed),
	}
	for k, v := range base {
		out[k] = v
	}
	return out
}
