package audit

// AllocationAnalysis compares a biased allocation against a need-based one.
type AllocationAnalysis struct {
	Budget          float64             `json:"budget"`
	AI              AllocationOutcome   `json:"ai"`
	NeedBased       AllocationOutcome   `json:"need_based"`
	ByStratum       []AllocationStratum `json:"by_stratum"`
	EquityGap       *float64            `json:"equity_gap"`
	GiniImprovement float64             `json:"gini_improvement"`
}

// AllocationOutcome summarises one allocation strategy.
// ExpectedDangerReduction sums true danger times project safety impact over
// the funded tracts.
type AllocationOutcome struct {
	TotalAllocated          float64        `json:"total_allocated"`
	ProjectCount            int            `json:"project_count"`
	ProjectsByType          map[string]int `json:"projects_by_type"`
	DisparateImpactRatio    *float64       `json:"disparate_impact_ratio"`
	AdverseImpact           bool           `json:"adverse_impact"`
	GiniCoefficient         float64        `json:"gini_coefficient"`
	LowestStratumShare      float64        `json:"lowest_stratum_share"`
	ProtectedPerCapita      float64        `json:"protected_per_capita"`
	ReferencePerCapita      float64        `json:"reference_per_capita"`
	DisparateImpactGroups   [2]string      `json:"disparate_impact_groups"`
	UnfundedHighNeedTracts  int            `json:"unfunded_high_need_tracts"`
	ExpectedDangerReduction float64        `json:"expected_danger_reduction"`
}

// AllocationStratum is per-stratum spending for both strategies. Per-capita
// values are nil for a stratum with no population.
type AllocationStratum struct {
	Label             string   `json:"label"`
	Population        int      `json:"population"`
	AITotal           float64  `json:"ai_total"`
	AIPerCapita       *float64 `json:"ai_per_capita"`
	AIProjects        int      `json:"ai_projects"`
	NeedTotal         float64  `json:"need_total"`
	NeedPerCapita     *float64 `json:"need_per_capita"`
	NeedProjects      int      `json:"need_projects"`
	MeanDangerScore   float64  `json:"mean_danger_score"`
	AIShareOfBudget   float64  `json:"ai_share_of_budget"`
	NeedShareOfBudget float64  `json:"need_share_of_budget"`
}

// ConfusionMatrix is a binary high-risk classification outcome.
type ConfusionMatrix struct {
	Label     string  `json:"label"`
	Threshold float64 `json:"threshold"`
	TN        int     `json:"tn"`
	FP        int     `json:"fp"`
	FN        int     `json:"fn"`
	TP        int     `json:"tp"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Accuracy  float64 `json:"accuracy"`
	Samples   int     `json:"samples"`
}

// ClassificationAnalysis holds the global and within-stratum matrices.
// Strata that cannot be classified are listed in Skipped.
type ClassificationAnalysis struct {
	Overall   ConfusionMatrix   `json:"overall"`
	ByStratum []ConfusionMatrix `json:"by_stratum"`
	Skipped   []string          `json:"skipped,omitempty"`
}

// TimeSeriesPoint is the truth and prediction total of one stratum in one period.
type TimeSeriesPoint struct {
	Period     string  `json:"period"`
	Stratum    string  `json:"stratum"`
	Truth      float64 `json:"truth"`
	Prediction float64 `json:"prediction"`
	ErrorPct   float64 `json:"error_pct"`
}

// FunnelStage is one step of the suppressed-demand funnel, in percent of
// potential demand.
type FunnelStage struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
}

// FunnelRow is a full funnel for one stratum (or the overall population).
type FunnelRow struct {
	Label  string        `json:"label"`
	Stages []FunnelStage `json:"stages"`
}

// FunnelAnalysis is the demand funnel overall and by stratum.
type FunnelAnalysis struct {
	Overall            FunnelRow   `json:"overall"`
	ByStratum          []FunnelRow `json:"by_stratum"`
	TotalPotential     float64     `json:"total_potential"`
	TotalActual        float64     `json:"total_actual"`
	TotalSuppressed    float64     `json:"total_suppressed"`
	SuppressionPct     float64     `json:"suppression_pct"`
	HighSuppressionPct float64     `json:"high_suppression_threshold_pct"`
}

// DetectorScore is how well one estimator recovers suppressed demand. A
// stratum bias is nil when that stratum has no non-zero potential demand.
type DetectorScore struct {
	Name                string   `json:"name"`
	Correlation         *float64 `json:"correlation"`
	RMSE                float64  `json:"rmse"`
	LowestStratumBias   *float64 `json:"lowest_stratum_bias_pct"`
	HighestStratumBias  *float64 `json:"highest_stratum_bias_pct"`
	DetectionRatePct    float64  `json:"detection_rate_pct"`
	HighSuppressionSize int      `json:"high_suppression_tracts"`
}

// DetectionScorecard compares estimators against a fixed expert baseline.
type DetectionScorecard struct {
	Detectors []DetectorScore `json:"detectors"`
	Baseline  DetectorScore   `json:"baseline"`
}

// CorrelationMatrix is a symmetric Pearson matrix over named variables.
// A nil cell means the pair has zero variance.
type CorrelationMatrix struct {
	Variables []string     `json:"variables"`
	Values    [][]*float64 `json:"values"`
}
