// Package audit defines the report shapes produced by an equity audit.
// Field names are a downstream contract; renaming any json tag breaks consumers.
package audit

import "equityaudit/domain/core"

// DataType tags how much of a report rests on measured data.
type DataType string

const (
	DataReal       DataType = "real"
	DataCalibrated DataType = "calibrated"
	DataSimulated  DataType = "simulated"
)

// Valid reports whether the tag is one of the three contract values.
func (d DataType) Valid() bool {
	switch d {
	case DataReal, DataCalibrated, DataSimulated:
		return true
	}
	return false
}

// StratumKind distinguishes ordinal quantile strata from categorical ones.
type StratumKind string

const (
	KindQuantile    StratumKind = "quintile"
	KindCategorical StratumKind = "category"
)

// Direction declares which end of a metric is the favourable one.
type Direction string

const (
	LowerIsBetter  Direction = "lower_is_better"
	HigherIsBetter Direction = "higher_is_better"
)

// MetricsRow is the accuracy profile of one group of samples. Percentage
// metrics are nil when every sample has zero ground truth.
type MetricsRow struct {
	MAE            float64  `json:"mae"`
	MAPE           *float64 `json:"mape"`
	MAPEExcluded   int      `json:"mape_excluded"`
	RMSE           float64  `json:"rmse"`
	MeanErrorPct   *float64 `json:"mean_error_pct"`
	BiasExcluded   int      `json:"bias_excluded"`
	RSquared       *float64 `json:"r_squared"`
	MeanTruth      float64  `json:"mean_truth"`
	MeanPrediction float64  `json:"mean_prediction"`
}

// StratumMetrics is one row of by_stratum or by_category. A stratum with no
// samples is Absent and carries no metric fields at all.
type StratumMetrics struct {
	Label            string      `json:"label"`
	Kind             StratumKind `json:"kind"`
	Index            int         `json:"index"`
	Count            int         `json:"count"`
	Absent           bool        `json:"absent"`
	Population       int         `json:"population"`
	PerCapita        *float64    `json:"per_capita,omitempty"`
	GiniContribution *float64    `json:"gini_contribution,omitempty"`
	*MetricsRow
}

// EquityGap compares the best and worst stratum on one metric. The test
// fields are nil when either stratum has too few samples to run it.
type EquityGap struct {
	Metric                   string      `json:"metric"`
	Direction                Direction   `json:"direction"`
	Unit                     string      `json:"unit"`
	Kind                     StratumKind `json:"kind"`
	BestStratum              string      `json:"best_stratum"`
	WorstStratum             string      `json:"worst_stratum"`
	BestValue                float64     `json:"best_value"`
	WorstValue               float64     `json:"worst_value"`
	Gap                      float64     `json:"gap"`
	GapPct                   *float64    `json:"gap_pct"`
	StatisticallySignificant bool        `json:"statistically_significant"`
	PValue                   *float64    `json:"p_value"`
	TStatistic               *float64    `json:"t_statistic"`
	DegreesOfFreedom         *float64    `json:"degrees_of_freedom"`
	Test                     string      `json:"test"`
}

// Summary holds report-level counts, the overall accuracy row and any
// domain-specific scalars. encoding/json sorts Extras keys.
type Summary struct {
	SampleCount      int                `json:"sample_count"`
	EntityCount      int                `json:"entity_count"`
	ExcludedEntities int                `json:"excluded_entities"`
	Overall          MetricsRow         `json:"overall"`
	Extras           map[string]float64 `json:"extras,omitempty"`
}

// CalibrationRecord is the calibration table as it was applied.
type CalibrationRecord struct {
	Name            string                        `json:"name"`
	NoiseBound      float64                       `json:"noise_bound"`
	Strata          map[string]DistortionSnapshot `json:"strata"`
	CategoryFactors map[string]float64            `json:"category_factors,omitempty"`
}

// DistortionSnapshot is one calibration row as recorded in provenance.
type DistortionSnapshot struct {
	Factor  float64  `json:"factor"`
	NoiseSD float64  `json:"noise_sd"`
	Floor   *float64 `json:"floor,omitempty"`
	Ceiling *float64 `json:"ceiling,omitempty"`
}

// Provenance records what is measured and what is simulated in a report.
type Provenance struct {
	DataType    DataType           `json:"data_type"`
	Real        []string           `json:"real"`
	Calibrated  []string           `json:"calibrated"`
	Simulated   []string           `json:"simulated"`
	Calibration CalibrationRecord  `json:"calibration"`
	Parameters  map[string]float64 `json:"parameters"`
	Seed        int64              `json:"seed"`
}

// Validate checks the provenance tag.
func (p Provenance) Validate() error {
	if !p.DataType.Valid() {
		return core.NewInvalidInputError("provenance.data_type", string(p.DataType))
	}
	return nil
}

// AuditReport is the immutable output of one domain audit.
type AuditReport struct {
	Domain         string                  `json:"domain"`
	Title          string                  `json:"title"`
	Summary        Summary                 `json:"summary"`
	ByStratum      []StratumMetrics        `json:"by_stratum"`
	ByCategory     []StratumMetrics        `json:"by_category,omitempty"`
	EquityGap      *EquityGap              `json:"equity_gap"`
	EquityGaps     []EquityGap             `json:"equity_gaps"`
	Findings       []string                `json:"findings"`
	Allocation     *AllocationAnalysis     `json:"allocation,omitempty"`
	Classification *ClassificationAnalysis `json:"classification,omitempty"`
	TimeSeries     []TimeSeriesPoint       `json:"time_series,omitempty"`
	Funnel         *FunnelAnalysis         `json:"funnel,omitempty"`
	Detection      *DetectionScorecard     `json:"detection,omitempty"`
	Correlations   *CorrelationMatrix      `json:"correlations,omitempty"`
	Provenance     Provenance              `json:"_provenance"`
	ContentHash    core.Hash               `json:"content_hash"`
}

// Stratum looks up a row by label across by_stratum and by_category.
func (r *AuditReport) Stratum(label string) (StratumMetrics, bool) {
	for _, s := range r.ByStratum {
		if s.Label == label {
			return s, true
		}
	}
	for _, s := range r.ByCategory {
		if s.Label == label {
			return s, true
		}
	}
	return StratumMetrics{}, false
}

// DegradedReport stands in for a domain that failed when the run does not
// fail fast.
type DegradedReport struct {
	Domain    string `json:"domain"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Error     string `json:"error"`
}
