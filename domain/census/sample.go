package census

import "equityaudit/domain/core"

// Sample pairs a ground-truth value with a simulated tool output for one entity.
// Stratum memberships are copied in when the sample is built and never change.
type Sample struct {
	ID            core.SampleID `json:"id"`
	EntityID      core.EntityID `json:"entity_id"`
	Key           string        `json:"key,omitempty"`
	Truth         float64       `json:"truth"`
	Prediction    float64       `json:"prediction"`
	Population    int           `json:"population"`
	Stratum       int           `json:"stratum"`
	StratumLabel  string        `json:"stratum_label"`
	Category      int           `json:"category"`
	CategoryLabel string        `json:"category_label,omitempty"`
}

// HasCategory reports whether the sample carries a categorical stratum.
func (s Sample) HasCategory() bool {
	return s.CategoryLabel != ""
}

// SignedError returns prediction minus truth.
func (s Sample) SignedError() float64 {
	return s.Prediction - s.Truth
}
